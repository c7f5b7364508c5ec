package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Catalog manages categories, titles and members. It never touches the
// derived counters except to seed available_copies when a title is created
// or its total changes.
type Catalog struct {
	gw   Gateway
	opts options
}

// NewCatalog returns a catalog writing through gw.
func NewCatalog(gw Gateway, opts ...Option) *Catalog {
	return &Catalog{gw: gw, opts: buildOptions(opts)}
}

// ---------------------------------------------------------------------------
// Categories
// ---------------------------------------------------------------------------

// AddCategory creates a category, or returns the id of an existing one with
// the same name.
func (c *Catalog) AddCategory(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, withDetail(ErrInvalidInput, "category name is required")
	}
	var id int64
	err := c.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		err := q.QueryRowContext(ctx, `SELECT id FROM categories WHERE name=?`, name).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, id, err = execWrite(ctx, q, `INSERT INTO categories(name) VALUES(?)`, name)
		return err
	})
	return id, err
}

// ListCategories returns all categories by name.
func (c *Catalog) ListCategories(ctx context.Context) ([]*Category, error) {
	rows, err := c.gw.QueryContext(ctx, `SELECT id,name FROM categories ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var cats []*Category
	for rows.Next() {
		var cat Category
		if err := rows.Scan(&cat.ID, &cat.Name); err != nil {
			return nil, mapError(err)
		}
		cats = append(cats, &cat)
	}
	return cats, mapError(rows.Err())
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

// AddBook registers a title with all of its copies on the shelf.
func (c *Catalog) AddBook(ctx context.Context, in BookInput) (int64, error) {
	in.Title, in.Author, in.ISBN = strings.TrimSpace(in.Title), strings.TrimSpace(in.Author), strings.TrimSpace(in.ISBN)
	switch {
	case in.Title == "":
		return 0, withDetail(ErrInvalidInput, "title is required")
	case in.Author == "":
		return 0, withDetail(ErrInvalidInput, "author is required")
	case in.ISBN == "":
		return 0, withDetail(ErrInvalidInput, "isbn is required")
	case in.TotalCopies < 1:
		return 0, withDetail(ErrInvalidInput, "a title needs at least one copy")
	}

	var id int64
	err := c.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		dup, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM books WHERE isbn=?)`, in.ISBN)
		if err != nil {
			return err
		}
		if dup {
			return withDetail(ErrDuplicate, "a book with ISBN %s already exists", in.ISBN)
		}

		var category any
		if in.CategoryID > 0 {
			ok, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM categories WHERE id=?)`, in.CategoryID)
			if err != nil {
				return err
			}
			if !ok {
				return withDetail(ErrInvalidInput, "category %d does not exist", in.CategoryID)
			}
			category = in.CategoryID
		}

		_, id, err = execWrite(ctx, q, `
			INSERT INTO books(title,author,isbn,publisher,publication_year,total_copies,available_copies,category_id)
			VALUES(?,?,?,?,?,?,?,?)`,
			in.Title, in.Author, in.ISBN, strings.TrimSpace(in.Publisher), in.PublicationYear,
			in.TotalCopies, in.TotalCopies, category)
		return err
	})
	return id, err
}

var bookColumns = []string{
	"b.id", "b.title", "b.author", "b.isbn", "b.publisher", "b.publication_year",
	"b.total_copies", "b.available_copies", "COALESCE(b.category_id,0)", "COALESCE(c.name,'')",
}

func bookSelect() sq.SelectBuilder {
	return sq.Select(bookColumns...).From("books b").LeftJoin("categories c ON c.id = b.category_id")
}

func scanBook(r rowScanner) (*Book, error) {
	var b Book
	if err := scanBookInto(r, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// scanBookInto reads a bookSelect row into b, followed by any extra columns.
func scanBookInto(r rowScanner, b *Book, extra ...any) error {
	dest := append([]any{&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Publisher, &b.PublicationYear,
		&b.TotalCopies, &b.AvailableCopies, &b.CategoryID, &b.CategoryName}, extra...)
	return r.Scan(dest...)
}

func (c *Catalog) queryBooks(ctx context.Context, b sq.SelectBuilder) ([]*Book, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := c.gw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, mapError(err)
		}
		books = append(books, book)
	}
	return books, mapError(rows.Err())
}

// GetBook fetches a single title.
func (c *Catalog) GetBook(ctx context.Context, id int64) (*Book, error) {
	query, args, err := bookSelect().Where(sq.Eq{"b.id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	book, err := scanBook(c.gw.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return book, nil
}

// ListBooks returns every title ordered by id.
func (c *Catalog) ListBooks(ctx context.Context) ([]*Book, error) {
	return c.queryBooks(ctx, bookSelect().OrderBy("b.id"))
}

// AvailableBooks returns titles with at least one copy on the shelf.
func (c *Catalog) AvailableBooks(ctx context.Context) ([]*Book, error) {
	return c.SearchBooks(ctx, BookFilter{AvailableOnly: true})
}

// SearchBooks matches the keyword against title, author and ISBN, and applies
// the other filters exactly.
func (c *Catalog) SearchBooks(ctx context.Context, f BookFilter) ([]*Book, error) {
	b := bookSelect().OrderBy("b.title", "b.id")
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		pattern := "%" + kw + "%"
		b = b.Where(sq.Or{
			sq.Like{"b.title": pattern},
			sq.Like{"b.author": pattern},
			sq.Like{"b.isbn": pattern},
		})
	}
	if author := strings.TrimSpace(f.Author); author != "" {
		b = b.Where(sq.Like{"b.author": "%" + author + "%"})
	}
	if f.CategoryID > 0 {
		b = b.Where(sq.Eq{"b.category_id": f.CategoryID})
	}
	if f.AvailableOnly {
		b = b.Where(sq.Gt{"b.available_copies": 0})
	}
	return c.queryBooks(ctx, b)
}

// SetTotalCopies changes how many copies the library owns. Copies on loan
// stay on loan, so the new total cannot be lower than their number.
func (c *Catalog) SetTotalCopies(ctx context.Context, bookID int64, total int) error {
	if total < 0 {
		return withDetail(ErrInvalidInput, "total copies cannot be negative")
	}
	return c.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		var oldTotal, available int
		err := q.QueryRowContext(ctx, `SELECT total_copies, available_copies FROM books WHERE id=?`, bookID).
			Scan(&oldTotal, &available)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBookNotFound
		}
		if err != nil {
			return err
		}
		onLoan := oldTotal - available
		if total < onLoan {
			return withDetail(ErrCopiesOnLoan, "%d copies are on loan, total cannot be %d", onLoan, total)
		}
		_, _, err = execWrite(ctx, q, `UPDATE books SET total_copies=?, available_copies=? WHERE id=?`,
			total, total-onLoan, bookID)
		return err
	})
}

// UpdateBook changes the non-nil fields of in. A new ISBN must not belong to
// another title. Passing a CategoryID of 0 clears the category.
func (c *Catalog) UpdateBook(ctx context.Context, bookID int64, in BookUpdate) error {
	b := sq.Update("books").Where(sq.Eq{"id": bookID})
	set := 0
	required := func(col, label string, v *string) error {
		if v == nil {
			return nil
		}
		trimmed := strings.TrimSpace(*v)
		if trimmed == "" {
			return withDetail(ErrInvalidInput, "%s is required", label)
		}
		b = b.Set(col, trimmed)
		set++
		return nil
	}
	if err := required("title", "title", in.Title); err != nil {
		return err
	}
	if err := required("author", "author", in.Author); err != nil {
		return err
	}
	if err := required("isbn", "isbn", in.ISBN); err != nil {
		return err
	}
	if in.Publisher != nil {
		b = b.Set("publisher", strings.TrimSpace(*in.Publisher))
		set++
	}
	if in.PublicationYear != nil {
		if *in.PublicationYear < 0 {
			return withDetail(ErrInvalidInput, "publication year cannot be negative")
		}
		b = b.Set("publication_year", *in.PublicationYear)
		set++
	}
	var category any
	if in.CategoryID != nil {
		if *in.CategoryID > 0 {
			category = *in.CategoryID
		}
		b = b.Set("category_id", category)
		set++
	}
	if set == 0 {
		return withDetail(ErrInvalidInput, "nothing to update")
	}

	return c.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		ok, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM books WHERE id=?)`, bookID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrBookNotFound
		}
		if in.ISBN != nil {
			isbn := strings.TrimSpace(*in.ISBN)
			dup, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM books WHERE isbn=? AND id<>?)`, isbn, bookID)
			if err != nil {
				return err
			}
			if dup {
				return withDetail(ErrDuplicate, "a book with ISBN %s already exists", isbn)
			}
		}
		if category != nil {
			ok, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM categories WHERE id=?)`, category)
			if err != nil {
				return err
			}
			if !ok {
				return withDetail(ErrInvalidInput, "category %d does not exist", category)
			}
		}
		query, args, err := b.ToSql()
		if err != nil {
			return err
		}
		_, _, err = execWrite(ctx, q, query, args...)
		return err
	})
}

// DeleteBook removes a title that has no loan still out. A title that was
// ever lent keeps its row for the loan history and is withdrawn instead: both
// copy counters drop to zero.
func (c *Catalog) DeleteBook(ctx context.Context, bookID int64) error {
	return c.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		open, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM loans WHERE book_id=? AND returned_on IS NULL)`, bookID)
		if err != nil {
			return err
		}
		if open {
			return withDetail(ErrOpenLoans, "book %d has loans that are not returned", bookID)
		}
		history, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM loans WHERE book_id=?)`, bookID)
		if err != nil {
			return err
		}
		if history {
			_, _, err := execWrite(ctx, q, `UPDATE books SET total_copies=0, available_copies=0 WHERE id=?`, bookID)
			return err
		}
		n, _, err := execWrite(ctx, q, `DELETE FROM books WHERE id=?`, bookID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrBookNotFound
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// AddMember registers an active member with no debt.
func (c *Catalog) AddMember(ctx context.Context, in MemberInput) (int64, error) {
	in.FirstName, in.LastName = strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	switch {
	case in.FirstName == "":
		return 0, withDetail(ErrInvalidInput, "first name is required")
	case in.Email == "":
		return 0, withDetail(ErrInvalidInput, "email is required")
	}

	var id int64
	err := c.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		dup, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM members WHERE email=?)`, in.Email)
		if err != nil {
			return err
		}
		if dup {
			return withDetail(ErrDuplicate, "email %s is already registered", in.Email)
		}
		_, id, err = execWrite(ctx, q, `
			INSERT INTO members(first_name,last_name,email,phone,address,registered_on)
			VALUES(?,?,?,?,?,?)`,
			in.FirstName, in.LastName, in.Email, strings.TrimSpace(in.Phone), strings.TrimSpace(in.Address),
			formatDate(c.opts.today()))
		return err
	})
	return id, err
}

// UpdateMember changes the non-nil fields of in. A new email must not belong
// to another member.
func (c *Catalog) UpdateMember(ctx context.Context, memberID int64, in MemberUpdate) error {
	b := sq.Update("members").Where(sq.Eq{"id": memberID})
	var email string
	if in.FirstName != nil {
		name := strings.TrimSpace(*in.FirstName)
		if name == "" {
			return withDetail(ErrInvalidInput, "first name is required")
		}
		b = b.Set("first_name", name)
	}
	if in.LastName != nil {
		b = b.Set("last_name", strings.TrimSpace(*in.LastName))
	}
	if in.Email != nil {
		if email = strings.ToLower(strings.TrimSpace(*in.Email)); email == "" {
			return withDetail(ErrInvalidInput, "email is required")
		}
		b = b.Set("email", email)
	}
	if in.Phone != nil {
		b = b.Set("phone", strings.TrimSpace(*in.Phone))
	}
	if in.Address != nil {
		b = b.Set("address", strings.TrimSpace(*in.Address))
	}
	if in == (MemberUpdate{}) {
		return withDetail(ErrInvalidInput, "nothing to update")
	}

	return c.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		ok, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM members WHERE id=?)`, memberID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMemberNotFound
		}
		if in.Email != nil {
			dup, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM members WHERE email=? AND id<>?)`, email, memberID)
			if err != nil {
				return err
			}
			if dup {
				return withDetail(ErrDuplicate, "email %s is already registered", email)
			}
		}
		query, args, err := b.ToSql()
		if err != nil {
			return err
		}
		_, _, err = execWrite(ctx, q, query, args...)
		return err
	})
}

var memberColumns = []string{
	"id", "first_name", "last_name", "email", "phone", "address", "registered_on", "total_debt_cents", "active",
}

func scanMember(r rowScanner) (*Member, error) {
	var (
		m          Member
		registered string
		debt       int64
	)
	if err := r.Scan(&m.ID, &m.FirstName, &m.LastName, &m.Email, &m.Phone, &m.Address,
		&registered, &debt, &m.Active); err != nil {
		return nil, err
	}
	t, err := parseDate(registered)
	if err != nil {
		return nil, err
	}
	m.RegisteredOn = t
	m.TotalDebt = fromCents(debt)
	return &m, nil
}

func (c *Catalog) queryMembers(ctx context.Context, b sq.SelectBuilder) ([]*Member, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := c.gw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, mapError(err)
		}
		members = append(members, m)
	}
	return members, mapError(rows.Err())
}

// GetMember fetches a single member.
func (c *Catalog) GetMember(ctx context.Context, id int64) (*Member, error) {
	return getMember(ctx, c.gw, id)
}

func getMember(ctx context.Context, q Querier, id int64) (*Member, error) {
	query, args, err := sq.Select(memberColumns...).From("members").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	m, err := scanMember(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return m, nil
}

// ListMembers returns all members ordered by id.
func (c *Catalog) ListMembers(ctx context.Context) ([]*Member, error) {
	return c.queryMembers(ctx, sq.Select(memberColumns...).From("members").OrderBy("id"))
}

// SearchMembers matches the keyword against name, email and phone.
func (c *Catalog) SearchMembers(ctx context.Context, keyword string) ([]*Member, error) {
	b := sq.Select(memberColumns...).From("members").OrderBy("id")
	if kw := strings.TrimSpace(keyword); kw != "" {
		pattern := "%" + kw + "%"
		b = b.Where(sq.Or{
			sq.Like{"first_name": pattern},
			sq.Like{"last_name": pattern},
			sq.Like{"email": pattern},
			sq.Like{"phone": pattern},
		})
	}
	return c.queryMembers(ctx, b)
}

// MembersWithDebt returns members owing money, largest debt first.
func (c *Catalog) MembersWithDebt(ctx context.Context) ([]*Member, error) {
	return c.queryMembers(ctx, sq.Select(memberColumns...).From("members").
		Where(sq.Gt{"total_debt_cents": 0}).OrderBy("total_debt_cents DESC", "id"))
}

// SetMemberActive enables or disables a member account.
func (c *Catalog) SetMemberActive(ctx context.Context, memberID int64, active bool) error {
	n, _, err := execWrite(ctx, c.gw, `UPDATE members SET active=? WHERE id=?`, active, memberID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// DeleteMember removes a member with no loans out and no debt. Returned loans
// and paid penalties keep their history, so a member who ever borrowed is
// deactivated instead of deleted.
func (c *Catalog) DeleteMember(ctx context.Context, memberID int64) error {
	return c.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		debt, err := cachedDebt(ctx, q, memberID)
		if err != nil {
			return err
		}
		count, err := activeLoanCount(ctx, q, memberID)
		if err != nil {
			return err
		}
		if count > 0 {
			return withDetail(ErrOpenLoans, "member %d has %d loans that are not returned", memberID, count)
		}
		if !debt.IsZero() {
			return withDetail(ErrOutstandingDebt, "member %d owes %s", memberID, FormatMoney(debt))
		}

		history, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM loans WHERE member_id=?)
			OR EXISTS(SELECT 1 FROM penalties WHERE member_id=?)`, memberID, memberID)
		if err != nil {
			return err
		}
		if history {
			_, _, err := execWrite(ctx, q, `UPDATE members SET active=0 WHERE id=?`, memberID)
			return err
		}
		if _, _, err := execWrite(ctx, q, `DELETE FROM members WHERE id=?`, memberID); err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		return nil
	})
}

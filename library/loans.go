package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"
)

// IssueResult is returned by IssueLoan.
type IssueResult struct {
	Outcome
	Loan Loan `json:"loan"`
}

// ReturnResult is returned by ReturnLoan. Penalty is zero and PenaltyID is 0
// when the book came back on time.
type ReturnResult struct {
	Outcome
	Loan      Loan            `json:"loan"`
	DaysLate  int             `json:"days_late"`
	Penalty   decimal.Decimal `json:"penalty"`
	PenaltyID int64           `json:"penalty_id,omitempty"`
}

// LoanFilter narrows ListLoans. Zero values are ignored.
type LoanFilter struct {
	MemberID    int64
	BookID      int64
	ActiveOnly  bool
	OverdueOnly bool
}

// LoanEngine runs the loan state machine: ACTIVE on issue, RETURNED on
// return, nothing else. Every transition is one transaction covering the
// loan row, the book's shelf count and any penalty.
type LoanEngine struct {
	gw        Gateway
	penalties *PenaltyEngine
	rules     Rules
	opts      options
}

// NewLoanEngine returns an engine writing through gw. Late returns are
// charged through penalties.
func NewLoanEngine(gw Gateway, penalties *PenaltyEngine, rules Rules, opts ...Option) *LoanEngine {
	return &LoanEngine{gw: gw, penalties: penalties, rules: rules, opts: buildOptions(opts)}
}

// IssueLoan lends one copy of bookID to memberID. The member must exist (and
// be active when the rules say so), the book must exist, the member must hold
// fewer than MaxActiveLoans active loans, and a copy must be on the shelf.
// staffID may be 0 when the issuing staff member is not recorded; otherwise
// it must name an active staff account.
func (e *LoanEngine) IssueLoan(ctx context.Context, memberID, bookID, staffID int64) (IssueResult, error) {
	var loan Loan
	err := e.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		var active bool
		err := q.QueryRowContext(ctx, `SELECT active FROM members WHERE id=?`, memberID).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMemberNotFound
		}
		if err != nil {
			return err
		}
		if e.rules.EnforceActiveMember && !active {
			return ErrMemberInactive
		}

		if staffID != 0 {
			var staffActive bool
			err := q.QueryRowContext(ctx, `SELECT active FROM staff WHERE id=?`, staffID).Scan(&staffActive)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrStaffNotFound
			}
			if err != nil {
				return err
			}
			if !staffActive {
				return ErrStaffInactive
			}
		}

		available, err := availableCopies(ctx, q, bookID)
		if err != nil {
			return err
		}

		count, err := activeLoanCount(ctx, q, memberID)
		if err != nil {
			return err
		}
		if count >= e.rules.MaxActiveLoans {
			return withDetail(ErrLoanLimitExceeded,
				"member has reached the maximum of %d active loans", e.rules.MaxActiveLoans)
		}
		if available <= 0 {
			return ErrBookUnavailable
		}

		loan = Loan{
			MemberID: memberID,
			BookID:   bookID,
			StaffID:  staffID,
			LoanedOn: e.opts.today(),
		}
		loan.DueOn = loan.LoanedOn.AddDate(0, 0, e.rules.LoanPeriodDays)

		var staff any
		if staffID != 0 {
			staff = staffID
		}
		_, id, err := execWrite(ctx, q,
			`INSERT INTO loans(member_id,book_id,staff_id,loaned_on,due_on) VALUES(?,?,?,?,?)`,
			memberID, bookID, staff, formatDate(loan.LoanedOn), formatDate(loan.DueOn))
		if err != nil {
			return fmt.Errorf("insert loan: %w", err)
		}
		loan.ID = id

		return takeCopy(ctx, q, bookID)
	})

	out, err := settle(err, fmt.Sprintf("loan issued, due %s", loan.DueOn.Format(dateLayout)))
	if !out.OK {
		loan = Loan{}
	}
	logOutcome(e.opts.logger, "issue loan", out, err,
		slog.Int64("member_id", memberID), slog.Int64("book_id", bookID), slog.Int64("loan_id", loan.ID))
	return IssueResult{Outcome: out, Loan: loan}, err
}

// ReturnLoan closes an active loan on returnedOn (today when zero), puts the
// copy back on the shelf and, when the return is late, charges
// DailyPenaltyRate per day late. A failed penalty write rolls the whole return
// back.
func (e *LoanEngine) ReturnLoan(ctx context.Context, loanID int64, returnedOn time.Time) (ReturnResult, error) {
	if returnedOn.IsZero() {
		returnedOn = e.opts.today()
	}
	returnedOn = civilDay(returnedOn)

	var res ReturnResult
	err := e.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		loan, err := getLoan(ctx, q, loanID)
		if err != nil {
			return err
		}
		if loan.ReturnedOn != nil {
			return ErrLoanAlreadyReturned
		}
		if returnedOn.Before(loan.LoanedOn) {
			return withDetail(ErrInvalidReturnDate, "return date %s precedes the loan date %s",
				returnedOn.Format(dateLayout), loan.LoanedOn.Format(dateLayout))
		}

		n, _, err := execWrite(ctx, q,
			`UPDATE loans SET returned_on=? WHERE id=? AND returned_on IS NULL`, formatDate(returnedOn), loanID)
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrLoanAlreadyReturned
		}
		loan.ReturnedOn = &returnedOn

		if err := returnCopy(ctx, q, loan.BookID); err != nil {
			return err
		}

		res = ReturnResult{Loan: loan, Penalty: decimal.Zero}
		res.DaysLate = max(0, daysBetween(loan.DueOn, returnedOn))
		if res.DaysLate == 0 {
			return nil
		}

		p, err := e.penalties.CreatePenaltyForLoan(ctx, q, loan.ID, loan.MemberID,
			e.rules.PenaltyFor(res.DaysLate), res.DaysLate)
		if err != nil {
			return fmt.Errorf("charge late penalty: %w", err)
		}
		res.Penalty, res.PenaltyID = p.Amount, p.ID
		return nil
	})

	okMsg := "book returned on time"
	if res.DaysLate > 0 {
		okMsg = fmt.Sprintf("book returned %d day(s) late, penalty %s", res.DaysLate, FormatMoney(res.Penalty))
	}
	out, err := settle(err, okMsg)
	if !out.OK {
		res = ReturnResult{Penalty: decimal.Zero}
	}
	res.Outcome = out
	logOutcome(e.opts.logger, "return loan", out, err,
		slog.Int64("loan_id", loanID), slog.Int("days_late", res.DaysLate), slog.String("penalty", res.Penalty.String()))
	return res, err
}

// GetLoan fetches one loan.
func (e *LoanEngine) GetLoan(ctx context.Context, id int64) (*Loan, error) {
	l, err := getLoan(ctx, e.gw, id)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLoans returns loans joined with member, book and staff names. Active
// and overdue loans are ordered by due date, everything else newest first.
func (e *LoanEngine) ListLoans(ctx context.Context, f LoanFilter) ([]*LoanView, error) {
	today := e.opts.today()

	b := loanViewSelect()
	if f.MemberID > 0 {
		b = b.Where(sq.Eq{"l.member_id": f.MemberID})
	}
	if f.BookID > 0 {
		b = b.Where(sq.Eq{"l.book_id": f.BookID})
	}
	if f.ActiveOnly || f.OverdueOnly {
		b = b.Where(sq.Eq{"l.returned_on": nil})
	}
	if f.OverdueOnly {
		b = b.Where(sq.Lt{"l.due_on": formatDate(today)})
	}
	if f.ActiveOnly || f.OverdueOnly {
		b = b.OrderBy("l.due_on ASC", "l.id ASC")
	} else {
		b = b.OrderBy("l.loaned_on DESC", "l.id DESC")
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := e.gw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var views []*LoanView
	for rows.Next() {
		var v LoanView
		if err := scanLoanView(rows, &v, e.rules, today); err != nil {
			return nil, err
		}
		views = append(views, &v)
	}
	return views, mapError(rows.Err())
}

func loanViewSelect() sq.SelectBuilder {
	return sq.Select(
		"l.id", "l.member_id", "l.book_id", "COALESCE(l.staff_id,0)",
		"l.loaned_on", "l.due_on", "l.returned_on",
		"m.first_name || CASE WHEN m.last_name = '' THEN '' ELSE ' ' || m.last_name END",
		"b.title", "b.author", "COALESCE(s.username,'')",
	).
		From("loans l").
		Join("members m ON m.id = l.member_id").
		Join("books b ON b.id = l.book_id").
		LeftJoin("staff s ON s.id = l.staff_id")
}

// scanLoanView reads a loanViewSelect row into v, followed by any extra
// columns the caller added.
func scanLoanView(r rowScanner, v *LoanView, rules Rules, today time.Time, extra ...any) error {
	var (
		loaned, due string
		returned    sql.NullString
	)
	dest := append([]any{&v.ID, &v.MemberID, &v.BookID, &v.StaffID, &loaned, &due, &returned,
		&v.MemberName, &v.BookTitle, &v.BookAuthor, &v.StaffUsername}, extra...)
	if err := r.Scan(dest...); err != nil {
		return mapError(err)
	}
	if err := fillLoanDates(&v.Loan, loaned, due, returned); err != nil {
		return err
	}
	if v.ReturnedOn == nil {
		v.DaysOverdue = max(0, daysBetween(v.DueOn, today))
	}
	v.ProjectedPenalty = rules.PenaltyFor(v.DaysOverdue)
	return nil
}

// ActiveLoans lists loans not yet returned.
func (e *LoanEngine) ActiveLoans(ctx context.Context) ([]*LoanView, error) {
	return e.ListLoans(ctx, LoanFilter{ActiveOnly: true})
}

// MemberLoans lists a member's loans, optionally only the active ones.
func (e *LoanEngine) MemberLoans(ctx context.Context, memberID int64, activeOnly bool) ([]*LoanView, error) {
	return e.ListLoans(ctx, LoanFilter{MemberID: memberID, ActiveOnly: activeOnly})
}

// OverdueLoans lists active loans whose due date is before today.
func (e *LoanEngine) OverdueLoans(ctx context.Context) ([]*LoanView, error) {
	return e.ListLoans(ctx, LoanFilter{OverdueOnly: true})
}

// ActiveLoanCount counts the member's active loans.
func (e *LoanEngine) ActiveLoanCount(ctx context.Context, memberID int64) (int, error) {
	return activeLoanCount(ctx, e.gw, memberID)
}

// Stats counts total, active, returned and overdue loans.
func (e *LoanEngine) Stats(ctx context.Context) (LoanStats, error) {
	var s LoanStats
	err := e.gw.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN returned_on IS NULL THEN 1 ELSE 0 END),0),
		       COALESCE(SUM(CASE WHEN returned_on IS NOT NULL THEN 1 ELSE 0 END),0),
		       COALESCE(SUM(CASE WHEN returned_on IS NULL AND due_on < ? THEN 1 ELSE 0 END),0)
		FROM loans`, formatDate(e.opts.today())).Scan(&s.Total, &s.Active, &s.Returned, &s.Overdue)
	if err != nil {
		return LoanStats{}, mapError(err)
	}
	return s, nil
}

func getLoan(ctx context.Context, q Querier, id int64) (Loan, error) {
	var (
		l           Loan
		loaned, due string
		returned    sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT id,member_id,book_id,COALESCE(staff_id,0),loaned_on,due_on,returned_on FROM loans WHERE id=?`, id).
		Scan(&l.ID, &l.MemberID, &l.BookID, &l.StaffID, &loaned, &due, &returned)
	if errors.Is(err, sql.ErrNoRows) {
		return Loan{}, ErrLoanNotFound
	}
	if err != nil {
		return Loan{}, mapError(err)
	}
	if err := fillLoanDates(&l, loaned, due, returned); err != nil {
		return Loan{}, err
	}
	return l, nil
}

func fillLoanDates(l *Loan, loaned, due string, returned sql.NullString) error {
	var err error
	if l.LoanedOn, err = parseDate(loaned); err != nil {
		return err
	}
	if l.DueOn, err = parseDate(due); err != nil {
		return err
	}
	l.ReturnedOn, err = parseNullDate(returned)
	return err
}

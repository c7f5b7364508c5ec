package library

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/crypto/bcrypt"
)

// StaffAccounts stores staff logins.
type StaffAccounts struct {
	gw   Gateway
	cost int
}

// NewStaffAccounts returns the staff store. cost is the bcrypt cost; values
// outside bcrypt's range fall back to bcrypt.DefaultCost.
func NewStaffAccounts(gw Gateway, cost int) *StaffAccounts {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &StaffAccounts{gw: gw, cost: cost}
}

func validRole(r Role) bool { return r == RoleAdmin || r == RoleClerk }

// CreateStaff adds a staff account with a bcrypt-hashed password.
func (s *StaffAccounts) CreateStaff(ctx context.Context, username, password string, role Role, fullName string) (int64, error) {
	return s.create(ctx, username, password, role, fullName, false)
}

// CreateFirstAdmin adds an admin account only while no staff account exists.
// The check and the insert share one transaction, so concurrent callers
// cannot both succeed.
func (s *StaffAccounts) CreateFirstAdmin(ctx context.Context, username, password, fullName string) (int64, error) {
	return s.create(ctx, username, password, RoleAdmin, fullName, true)
}

func (s *StaffAccounts) create(ctx context.Context, username, password string, role Role, fullName string, firstOnly bool) (int64, error) {
	username = strings.TrimSpace(username)
	switch {
	case username == "":
		return 0, withDetail(ErrInvalidInput, "username is required")
	case strings.TrimSpace(password) == "":
		return 0, withDetail(ErrInvalidInput, "password cannot be empty")
	case !validRole(role):
		return 0, withDetail(ErrInvalidInput, "role must be %s or %s", RoleAdmin, RoleClerk)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		// bcrypt rejects passwords longer than 72 bytes.
		return 0, withDetail(ErrInvalidInput, "password: %v", err)
	}

	var id int64
	err = s.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		if firstOnly {
			var n int
			if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM staff`).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return withDetail(ErrDuplicate, "staff accounts already exist (%d)", n)
			}
		}
		dup, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM staff WHERE username=?)`, username)
		if err != nil {
			return err
		}
		if dup {
			return withDetail(ErrDuplicate, "username %s is taken", username)
		}
		_, id, err = execWrite(ctx, q,
			`INSERT INTO staff(username,password_hash,full_name,role) VALUES(?,?,?,?)`,
			username, string(hash), strings.TrimSpace(fullName), string(role))
		return err
	})
	return id, err
}

// Authenticate checks a username and password. Unknown users, inactive
// accounts and wrong passwords all yield ErrInvalidCredentials.
func (s *StaffAccounts) Authenticate(ctx context.Context, username, password string) (*Staff, error) {
	st, err := getStaff(ctx, s.gw, sq.Eq{"username": strings.TrimSpace(username)})
	if errors.Is(err, ErrStaffNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !st.Active {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(st.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return st, nil
}

// GetStaff fetches one staff account.
func (s *StaffAccounts) GetStaff(ctx context.Context, staffID int64) (*Staff, error) {
	return getStaff(ctx, s.gw, sq.Eq{"id": staffID})
}

// UpdateStaff changes the non-nil fields of in. A new username must not be
// taken, and the last active admin cannot be demoted.
func (s *StaffAccounts) UpdateStaff(ctx context.Context, staffID int64, in StaffUpdate) error {
	b := sq.Update("staff").Where(sq.Eq{"id": staffID})
	var username string
	if in.Username != nil {
		if username = strings.TrimSpace(*in.Username); username == "" {
			return withDetail(ErrInvalidInput, "username is required")
		}
		b = b.Set("username", username)
	}
	if in.FullName != nil {
		b = b.Set("full_name", strings.TrimSpace(*in.FullName))
	}
	if in.Role != nil {
		if !validRole(*in.Role) {
			return withDetail(ErrInvalidInput, "role must be %s or %s", RoleAdmin, RoleClerk)
		}
		b = b.Set("role", string(*in.Role))
	}
	if in.Username == nil && in.FullName == nil && in.Role == nil {
		return withDetail(ErrInvalidInput, "nothing to update")
	}

	return s.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		st, err := getStaff(ctx, q, sq.Eq{"id": staffID})
		if err != nil {
			return err
		}
		if in.Username != nil {
			dup, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM staff WHERE username=? AND id<>?)`, username, staffID)
			if err != nil {
				return err
			}
			if dup {
				return withDetail(ErrDuplicate, "username %s is taken", username)
			}
		}
		if in.Role != nil && *in.Role != RoleAdmin && st.IsAdmin() && st.Active {
			if err := requireOtherAdmin(ctx, q, staffID); err != nil {
				return err
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

// SetPassword replaces a staff member's password.
func (s *StaffAccounts) SetPassword(ctx context.Context, staffID int64, password string) error {
	if strings.TrimSpace(password) == "" {
		return withDetail(ErrInvalidInput, "password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return withDetail(ErrInvalidInput, "password: %v", err)
	}
	n, _, err := execWrite(ctx, s.gw, `UPDATE staff SET password_hash=? WHERE id=?`, string(hash), staffID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaffNotFound
	}
	return nil
}

// SetActive enables or disables a staff login.
func (s *StaffAccounts) SetActive(ctx context.Context, staffID int64, active bool) error {
	n, _, err := execWrite(ctx, s.gw, `UPDATE staff SET active=? WHERE id=?`, active, staffID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaffNotFound
	}
	return nil
}

// DeleteStaff removes a staff account. An account that issued loans stays for
// the loan history and is deactivated instead. The last active admin cannot
// be removed.
func (s *StaffAccounts) DeleteStaff(ctx context.Context, staffID int64) error {
	return s.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		st, err := getStaff(ctx, q, sq.Eq{"id": staffID})
		if err != nil {
			return err
		}
		if st.IsAdmin() && st.Active {
			if err := requireOtherAdmin(ctx, q, staffID); err != nil {
				return err
			}
		}
		history, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM loans WHERE staff_id=?)`, staffID)
		if err != nil {
			return err
		}
		if history {
			_, _, err := execWrite(ctx, q, `UPDATE staff SET active=0 WHERE id=?`, staffID)
			return err
		}
		_, _, err = execWrite(ctx, q, `DELETE FROM staff WHERE id=?`, staffID)
		return err
	})
}

func requireOtherAdmin(ctx context.Context, q Querier, staffID int64) error {
	ok, err := exists(ctx, q,
		`SELECT EXISTS(SELECT 1 FROM staff WHERE role=? AND active=1 AND id<>?)`, string(RoleAdmin), staffID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLastAdmin
	}
	return nil
}

// Count returns the number of staff accounts.
func (s *StaffAccounts) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.gw.QueryRowContext(ctx, `SELECT COUNT(*) FROM staff`).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// ListStaff returns all staff accounts ordered by id.
func (s *StaffAccounts) ListStaff(ctx context.Context) ([]*Staff, error) {
	return s.SearchStaff(ctx, "")
}

// SearchStaff matches the keyword against username and full name. An empty
// keyword returns every account.
func (s *StaffAccounts) SearchStaff(ctx context.Context, keyword string) ([]*Staff, error) {
	b := staffSelect().OrderBy("id")
	if kw := strings.TrimSpace(keyword); kw != "" {
		pattern := "%" + kw + "%"
		b = b.Where(sq.Or{sq.Like{"username": pattern}, sq.Like{"full_name": pattern}})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.gw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*Staff
	for rows.Next() {
		st, err := scanStaff(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, st)
	}
	return out, mapError(rows.Err())
}

func staffSelect() sq.SelectBuilder {
	return sq.Select("id", "username", "full_name", "role", "active", "password_hash").From("staff")
}

func scanStaff(r rowScanner) (*Staff, error) {
	var st Staff
	if err := r.Scan(&st.ID, &st.Username, &st.FullName, &st.Role, &st.Active, &st.PasswordHash); err != nil {
		return nil, err
	}
	return &st, nil
}

func getStaff(ctx context.Context, q Querier, where sq.Eq) (*Staff, error) {
	query, args, err := staffSelect().Where(where).ToSql()
	if err != nil {
		return nil, err
	}
	st, err := scanStaff(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStaffNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return st, nil
}

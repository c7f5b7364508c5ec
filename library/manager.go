package library

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"library-circulation/config"
)

// LibraryManager is a thin façade over the Database and the engines, keeping
// caller code simple. It owns the database handle.
type LibraryManager struct {
	db *Database

	Catalog   *Catalog
	Staff     *StaffAccounts
	Loans     *LoanEngine
	Penalties *PenaltyEngine
	Reports   *Reports

	rules Rules
}

// NewLibraryManager opens (or creates) the SQLite database named in cfg and
// wires the engines to it.
func NewLibraryManager(cfg *config.Config, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(cfg.Database.Path, DatabaseOptions{
		BusyTimeout:  cfg.Database.BusyTimeout,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		OpTimeout:    cfg.Database.OpTimeout,
	})
	if err != nil {
		return nil, err
	}

	rules := RulesFromConfig(cfg.Circulation)
	o := buildOptions(opts)
	penalties := NewPenaltyEngine(db, rules, opts...)
	return &LibraryManager{
		db:        db,
		Catalog:   NewCatalog(db, opts...),
		Staff:     NewStaffAccounts(db, o.bcryptCost),
		Loans:     NewLoanEngine(db, penalties, rules, opts...),
		Penalties: penalties,
		Reports:   NewReports(db, rules, opts...),
		rules:     rules,
	}, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// Rules returns the lending rules in force.
func (lm *LibraryManager) Rules() Rules { return lm.rules }

// ------------------ Catalog ------------------

func (lm *LibraryManager) AddCategory(ctx context.Context, name string) (int64, error) {
	return lm.Catalog.AddCategory(ctx, name)
}

func (lm *LibraryManager) AddBook(ctx context.Context, in BookInput) (int64, error) {
	return lm.Catalog.AddBook(ctx, in)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return lm.Catalog.GetBook(ctx, id)
}

func (lm *LibraryManager) GetAllBooks(ctx context.Context) ([]*Book, error) {
	return lm.Catalog.ListBooks(ctx)
}

func (lm *LibraryManager) SearchBooks(ctx context.Context, f BookFilter) ([]*Book, error) {
	return lm.Catalog.SearchBooks(ctx, f)
}

func (lm *LibraryManager) UpdateBook(ctx context.Context, id int64, in BookUpdate) error {
	return lm.Catalog.UpdateBook(ctx, id, in)
}

func (lm *LibraryManager) DeleteBook(ctx context.Context, id int64) error {
	return lm.Catalog.DeleteBook(ctx, id)
}

// ------------------ Members ------------------

func (lm *LibraryManager) AddMember(ctx context.Context, in MemberInput) (int64, error) {
	return lm.Catalog.AddMember(ctx, in)
}

func (lm *LibraryManager) GetMember(ctx context.Context, id int64) (*Member, error) {
	return lm.Catalog.GetMember(ctx, id)
}

func (lm *LibraryManager) GetAllMembers(ctx context.Context) ([]*Member, error) {
	return lm.Catalog.ListMembers(ctx)
}

func (lm *LibraryManager) UpdateMember(ctx context.Context, id int64, in MemberUpdate) error {
	return lm.Catalog.UpdateMember(ctx, id, in)
}

func (lm *LibraryManager) DeleteMember(ctx context.Context, id int64) error {
	return lm.Catalog.DeleteMember(ctx, id)
}

func (lm *LibraryManager) MemberSummary(ctx context.Context, id int64) (*MemberSummary, error) {
	return lm.Reports.MemberSummary(ctx, id)
}

// ------------------ Staff ------------------

// AuthenticateStaff verifies a staff login.
func (lm *LibraryManager) AuthenticateStaff(ctx context.Context, username, password string) (*Staff, error) {
	return lm.Staff.Authenticate(ctx, username, password)
}

// BootstrapAdmin creates the first admin account. It refuses once any staff
// account exists.
func (lm *LibraryManager) BootstrapAdmin(ctx context.Context, username, password, fullName string) (int64, error) {
	return lm.Staff.CreateFirstAdmin(ctx, username, password, fullName)
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) IssueLoan(ctx context.Context, memberID, bookID, staffID int64) (IssueResult, error) {
	return lm.Loans.IssueLoan(ctx, memberID, bookID, staffID)
}

// ReturnLoan returns the loan today.
func (lm *LibraryManager) ReturnLoan(ctx context.Context, loanID int64) (ReturnResult, error) {
	return lm.Loans.ReturnLoan(ctx, loanID, time.Time{})
}

// ReturnLoanOn returns the loan on a given date.
func (lm *LibraryManager) ReturnLoanOn(ctx context.Context, loanID int64, on time.Time) (ReturnResult, error) {
	return lm.Loans.ReturnLoan(ctx, loanID, on)
}

func (lm *LibraryManager) GetActiveLoans(ctx context.Context) ([]*LoanView, error) {
	return lm.Loans.ActiveLoans(ctx)
}

func (lm *LibraryManager) GetOverdueLoans(ctx context.Context) ([]*LoanView, error) {
	return lm.Loans.OverdueLoans(ctx)
}

// ------------------ Penalties ------------------

func (lm *LibraryManager) CreateManualPenalty(ctx context.Context, memberID int64, amount decimal.Decimal, note string) (PenaltyResult, error) {
	return lm.Penalties.CreateManualPenalty(ctx, memberID, amount, note)
}

func (lm *LibraryManager) PayPenalty(ctx context.Context, id int64) (PenaltyResult, error) {
	return lm.Penalties.PayPenalty(ctx, id)
}

// DeletePenalty is the administrative correction path and needs an admin.
func (lm *LibraryManager) DeletePenalty(ctx context.Context, by *Staff, id int64) (PenaltyResult, error) {
	if by == nil || !by.IsAdmin() {
		err := withDetail(ErrInvalidCredentials, "deleting a penalty requires an admin")
		return PenaltyResult{Outcome: Outcome{Message: err.Error(), Reason: err}}, nil
	}
	return lm.Penalties.DeletePenalty(ctx, id)
}

func (lm *LibraryManager) GetMemberOutstandingDebt(ctx context.Context, memberID int64) (decimal.Decimal, error) {
	return lm.Penalties.GetMemberOutstandingDebt(ctx, memberID)
}

// ------------------ Utilities ------------------

// PrettyLoan formats a loan view for lists.
func PrettyLoan(v *LoanView) string {
	status := string(v.State())
	if v.DaysOverdue > 0 {
		status = fmt.Sprintf("OVERDUE %dd", v.DaysOverdue)
	}
	return fmt.Sprintf("%-5d %-25s %-30s %-10s %-10s %-12s",
		v.ID, Truncate(v.MemberName, 25), Truncate(v.BookTitle, 30),
		v.LoanedOn.Format(dateLayout), v.DueOn.Format(dateLayout), status)
}

// Truncate shortens s to at most maxLen runes, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

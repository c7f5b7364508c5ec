package library

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups book titles.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Book represents a title in the catalog and its copy counters.
// AvailableCopies is derived from the loan ledger and only changes through
// loan issuance and return.
type Book struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	ISBN            string `json:"isbn"`
	Publisher       string `json:"publisher"`
	PublicationYear int    `json:"publication_year"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
	CategoryID      int64  `json:"category_id"`
	CategoryName    string `json:"category_name,omitempty"`
}

// BookInput holds the fields needed to register a new title.
type BookInput struct {
	Title           string
	Author          string
	ISBN            string
	Publisher       string
	PublicationYear int
	TotalCopies     int
	CategoryID      int64
}

// BookUpdate lists the fields UpdateBook changes. Nil fields are left alone.
// Copy counts change through SetTotalCopies only.
type BookUpdate struct {
	Title           *string
	Author          *string
	ISBN            *string
	Publisher       *string
	PublicationYear *int
	CategoryID      *int64
}

// BookFilter narrows SearchBooks. Zero values are ignored.
type BookFilter struct {
	Keyword       string
	Author        string
	CategoryID    int64
	AvailableOnly bool
}

// Member represents a registered library member.
// TotalDebt caches the sum of the member's unpaid penalties.
type Member struct {
	ID           int64           `json:"id"`
	FirstName    string          `json:"first_name"`
	LastName     string          `json:"last_name"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone"`
	Address      string          `json:"address"`
	RegisteredOn time.Time       `json:"registered_on"`
	TotalDebt    decimal.Decimal `json:"total_debt"`
	Active       bool            `json:"active"`
}

// FullName joins first and last name.
func (m *Member) FullName() string {
	if m.LastName == "" {
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}

// MemberInput holds the fields needed to register a new member.
type MemberInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Address   string
}

// MemberUpdate lists the fields UpdateMember changes. Nil fields are left
// alone.
type MemberUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string
	Address   *string
}

// Role is a staff permission level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleClerk Role = "clerk"
)

// Staff is a library employee who can issue loans.
type Staff struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	FullName     string `json:"full_name"`
	Role         Role   `json:"role"`
	Active       bool   `json:"active"`
	PasswordHash string `json:"-"`
}

// StaffUpdate lists the fields UpdateStaff changes. Nil fields are left alone.
type StaffUpdate struct {
	Username *string
	FullName *string
	Role     *Role
}

// IsAdmin reports whether the staff member has the admin role.
func (s *Staff) IsAdmin() bool { return s.Role == RoleAdmin }

// LoanState is derived from the return date.
type LoanState string

const (
	LoanActive   LoanState = "ACTIVE"
	LoanReturned LoanState = "RETURNED"
)

// Loan is one lending of one copy of a title to a member.
// ReturnedOn is nil while the loan is outstanding.
type Loan struct {
	ID         int64      `json:"id"`
	MemberID   int64      `json:"member_id"`
	BookID     int64      `json:"book_id"`
	StaffID    int64      `json:"staff_id,omitempty"`
	LoanedOn   time.Time  `json:"loaned_on"`
	DueOn      time.Time  `json:"due_on"`
	ReturnedOn *time.Time `json:"returned_on,omitempty"`
}

// State reports ACTIVE or RETURNED.
func (l *Loan) State() LoanState {
	if l.ReturnedOn == nil {
		return LoanActive
	}
	return LoanReturned
}

// LoanView is a loan joined with the names a caller shows next to it.
// DaysOverdue is measured against the reference day of the query and is zero
// for returned loans or loans not yet due.
type LoanView struct {
	Loan
	MemberName       string          `json:"member_name"`
	BookTitle        string          `json:"book_title"`
	BookAuthor       string          `json:"book_author"`
	StaffUsername    string          `json:"staff_username,omitempty"`
	DaysOverdue      int             `json:"days_overdue"`
	ProjectedPenalty decimal.Decimal `json:"projected_penalty"`
}

// LoanStats counts loans by state.
type LoanStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Returned int `json:"returned"`
	Overdue  int `json:"overdue"`
}

// Penalty is a monetary charge against a member. LoanID is zero for manual
// penalties.
type Penalty struct {
	ID        int64           `json:"id"`
	LoanID    int64           `json:"loan_id,omitempty"`
	MemberID  int64           `json:"member_id"`
	Amount    decimal.Decimal `json:"amount"`
	DaysLate  int             `json:"days_late"`
	Note      string          `json:"note,omitempty"`
	Paid      bool            `json:"paid"`
	CreatedAt time.Time       `json:"created_at"`
}

// IsManual reports whether the penalty was entered by staff rather than
// accrued from a late return.
func (p *Penalty) IsManual() bool { return p.LoanID == 0 }

// PenaltyStats aggregates the penalty ledger.
type PenaltyStats struct {
	Count       int             `json:"count"`
	UnpaidCount int             `json:"unpaid_count"`
	Total       decimal.Decimal `json:"total"`
	Paid        decimal.Decimal `json:"paid"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// MemberSummary is the per-member report.
type MemberSummary struct {
	Member           Member          `json:"member"`
	TotalLoans       int             `json:"total_loans"`
	ActiveLoans      int             `json:"active_loans"`
	OverdueLoans     int             `json:"overdue_loans"`
	UnpaidPenalties  int             `json:"unpaid_penalties"`
	OutstandingDebt  decimal.Decimal `json:"outstanding_debt"`
	ProjectedPenalty decimal.Decimal `json:"projected_penalty"` // overdue loans returned today
}

// DebtDiscrepancy describes a member whose cached debt disagrees with the
// penalty ledger.
type DebtDiscrepancy struct {
	MemberID   int64           `json:"member_id"`
	Cached     decimal.Decimal `json:"cached"`
	Recomputed decimal.Decimal `json:"recomputed"`
}

// BookActivity is a title with the number of times it was lent.
type BookActivity struct {
	Book
	TimesLent int `json:"times_lent"`
}

// StockFilter selects the titles a book report covers.
type StockFilter int

const (
	AllTitles StockFilter = iota
	InStock
	OutOfStock
)

// PeriodLoan is a loan in a date-range report. DaysLate counts to the return
// date, or to the report day for loans still out. Charged is the sum of the
// penalties recorded against the loan.
type PeriodLoan struct {
	LoanView
	MemberEmail string          `json:"member_email"`
	DaysLate    int             `json:"days_late"`
	Charged     decimal.Decimal `json:"charged"`
}

package library

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package unwraps to one of them.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrRuleViolation = errors.New("business rule violation")
	ErrConsistency   = errors.New("consistency failure")
	ErrConnectivity  = errors.New("connectivity error")
)

// ReasonError is a specific, expected rejection. Code is stable and meant for
// callers that branch on the reason; the message is meant for people.
type ReasonError struct {
	Code    string
	Message string
	kind    error
}

func (e *ReasonError) Error() string { return e.Message }

func (e *ReasonError) Unwrap() error { return e.kind }

func newReason(kind error, code, msg string) *ReasonError {
	return &ReasonError{Code: code, Message: msg, kind: kind}
}

// Reasons.
var (
	ErrMemberNotFound  = newReason(ErrNotFound, "member_not_found", "member not found")
	ErrBookNotFound    = newReason(ErrNotFound, "book_not_found", "book not found")
	ErrLoanNotFound    = newReason(ErrNotFound, "loan_not_found", "loan not found")
	ErrPenaltyNotFound = newReason(ErrNotFound, "penalty_not_found", "penalty not found")
	ErrStaffNotFound   = newReason(ErrNotFound, "staff_not_found", "staff account not found")

	ErrLoanLimitExceeded    = newReason(ErrRuleViolation, "loan_limit_exceeded", "member has reached the active loan limit")
	ErrBookUnavailable      = newReason(ErrRuleViolation, "book_unavailable", "no copies of the book are in stock")
	ErrLoanAlreadyReturned  = newReason(ErrRuleViolation, "loan_already_returned", "loan has already been returned")
	ErrAlreadyPaid          = newReason(ErrRuleViolation, "already_paid", "penalty has already been paid")
	ErrPaidPenaltyImmutable = newReason(ErrRuleViolation, "paid_penalty_immutable", "a paid penalty cannot be deleted")
	ErrMemberInactive       = newReason(ErrRuleViolation, "member_inactive", "member account is not active")
	ErrStaffInactive        = newReason(ErrRuleViolation, "staff_inactive", "staff account is not active")
	ErrLastAdmin            = newReason(ErrRuleViolation, "last_admin", "the last active admin cannot be removed or demoted")
	ErrOpenLoans            = newReason(ErrRuleViolation, "open_loans", "record has loans that are not returned")
	ErrOutstandingDebt      = newReason(ErrRuleViolation, "outstanding_debt", "member has outstanding debt")
	ErrDuplicate            = newReason(ErrRuleViolation, "duplicate", "record already exists")
	ErrCopiesOnLoan         = newReason(ErrRuleViolation, "copies_on_loan", "total copies cannot drop below the copies on loan")
	ErrInvalidCredentials   = newReason(ErrRuleViolation, "invalid_credentials", "invalid username or password")

	ErrInvalidAmount     = newReason(ErrValidation, "invalid_amount", "amount must be positive")
	ErrInvalidReturnDate = newReason(ErrValidation, "invalid_return_date", "return date precedes the loan date")
	ErrInvalidInput      = newReason(ErrValidation, "invalid_input", "invalid input")
)

// withDetail returns a copy of r whose message carries extra detail. The copy
// still matches r under errors.Is.
func withDetail(r *ReasonError, format string, args ...any) error {
	return &detailedReason{
		ReasonError: ReasonError{
			Code:    r.Code,
			Message: fmt.Sprintf(format, args...),
			kind:    r.kind,
		},
		base: r,
	}
}

type detailedReason struct {
	ReasonError
	base *ReasonError
}

func (e *detailedReason) Is(target error) bool { return target == e.base }

// Reason extracts the reason code from err, or "" when err carries none.
func Reason(err error) string {
	var r *ReasonError
	if errors.As(err, &r) {
		return r.Code
	}
	var d *detailedReason
	if errors.As(err, &d) {
		return d.Code
	}
	return ""
}

// IsRejection reports whether err is an expected business outcome (validation,
// not found or rule violation) rather than an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrRuleViolation)
}

// Outcome is the common part of every mutating operation's result.
// Reason is nil when OK is true.
type Outcome struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Reason  error  `json:"-"`
}

// settle splits err into an Outcome for expected rejections and a returned
// error for infrastructure failures.
func settle(err error, okMessage string) (Outcome, error) {
	switch {
	case err == nil:
		return Outcome{OK: true, Message: okMessage}, nil
	case IsRejection(err):
		return Outcome{Message: err.Error(), Reason: err}, nil
	default:
		return Outcome{Message: err.Error(), Reason: err}, err
	}
}

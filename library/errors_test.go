package library

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonKinds(t *testing.T) {
	tests := []struct {
		reason *ReasonError
		kind   error
	}{
		{ErrMemberNotFound, ErrNotFound},
		{ErrLoanNotFound, ErrNotFound},
		{ErrLoanLimitExceeded, ErrRuleViolation},
		{ErrBookUnavailable, ErrRuleViolation},
		{ErrAlreadyPaid, ErrRuleViolation},
		{ErrPaidPenaltyImmutable, ErrRuleViolation},
		{ErrInvalidAmount, ErrValidation},
		{ErrInvalidReturnDate, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.reason.Code, func(t *testing.T) {
			assert.ErrorIs(t, tt.reason, tt.kind)
			assert.True(t, IsRejection(tt.reason))
			assert.Equal(t, tt.reason.Code, Reason(fmt.Errorf("wrapped: %w", tt.reason)))
		})
	}
}

func TestWithDetail(t *testing.T) {
	err := withDetail(ErrLoanLimitExceeded, "member has reached the maximum of %d active loans", 3)

	assert.EqualError(t, err, "member has reached the maximum of 3 active loans")
	assert.ErrorIs(t, err, ErrLoanLimitExceeded)
	assert.ErrorIs(t, err, ErrRuleViolation)
	assert.NotErrorIs(t, err, ErrBookUnavailable)
	assert.Equal(t, "loan_limit_exceeded", Reason(err))
}

func TestSettle(t *testing.T) {
	out, err := settle(nil, "done")
	assert.NoError(t, err)
	assert.Equal(t, Outcome{OK: true, Message: "done"}, out)

	out, err = settle(ErrBookUnavailable, "done")
	assert.NoError(t, err)
	assert.False(t, out.OK)
	assert.Equal(t, ErrBookUnavailable.Message, out.Message)
	assert.ErrorIs(t, out.Reason, ErrBookUnavailable)

	infra := fmt.Errorf("%w: disk gone", ErrConnectivity)
	out, err = settle(infra, "done")
	assert.ErrorIs(t, err, ErrConnectivity)
	assert.False(t, out.OK)
	assert.False(t, IsRejection(err))

	assert.Empty(t, Reason(errors.New("plain")))
}

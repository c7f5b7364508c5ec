package library

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// latePenalty issues and returns a loan 5 days late, leaving a 25.00 penalty.
func latePenalty(t *testing.T, f *fixture, memberID int64, title string) int64 {
	t.Helper()
	loan := f.issue(t, memberID, f.addBook(t, title, 1))
	res, err := f.loans.ReturnLoan(context.Background(), loan.ID, loan.DueOn.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)
	require.NotZero(t, res.PenaltyID)
	return res.PenaltyID
}

func TestPayPenalty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.addMember(t, "sam")
	id := latePenalty(t, f, member, "Lolita")
	require.True(t, money("25.00").Equal(f.debt(t, member)))

	res, err := f.penalties.PayPenalty(ctx, id)
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "penalty paid (25.00)", res.Message)
	assert.True(t, res.Penalty.Paid)
	assert.True(t, f.debt(t, member).IsZero())

	p, err := f.penalties.GetPenalty(ctx, id)
	require.NoError(t, err)
	assert.True(t, p.Paid)

	res, err = f.penalties.PayPenalty(ctx, id)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, ErrAlreadyPaid)
	assert.True(t, f.debt(t, member).IsZero())
	f.requireDebtConsistent(t)
}

func TestPayPenalty_NotFound(t *testing.T) {
	f := newFixture(t)
	res, err := f.penalties.PayPenalty(context.Background(), 404)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, ErrPenaltyNotFound)
}

func TestDeletePenalty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.addMember(t, "tess")
	paid := latePenalty(t, f, member, "Babbitt")
	unpaid := latePenalty(t, f, member, "Arrowsmith")

	res, err := f.penalties.PayPenalty(ctx, paid)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.True(t, money("25.00").Equal(f.debt(t, member)))

	res, err = f.penalties.DeletePenalty(ctx, paid)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, ErrPaidPenaltyImmutable)
	assert.ErrorIs(t, res.Reason, ErrRuleViolation)
	assert.True(t, money("25.00").Equal(f.debt(t, member)))
	_, err = f.penalties.GetPenalty(ctx, paid)
	require.NoError(t, err, "paid penalty must remain")

	res, err = f.penalties.DeletePenalty(ctx, unpaid)
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)
	assert.True(t, f.debt(t, member).IsZero())
	_, err = f.penalties.GetPenalty(ctx, unpaid)
	assert.ErrorIs(t, err, ErrPenaltyNotFound)
	f.requireDebtConsistent(t)
}

func TestCreateManualPenalty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.addMember(t, "uma")

	res, err := f.penalties.CreateManualPenalty(ctx, member, money("12.345"), "  torn cover ")
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)
	assert.True(t, money("12.35").Equal(res.Penalty.Amount), res.Penalty.Amount.String())
	assert.Equal(t, "torn cover", res.Penalty.Note)
	assert.True(t, res.Penalty.IsManual())
	assert.Equal(t, day0, res.Penalty.CreatedAt)
	assert.True(t, money("12.35").Equal(f.debt(t, member)))

	stored, err := f.penalties.GetPenalty(ctx, res.Penalty.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Penalty.ID, stored.ID)
	assert.True(t, stored.IsManual())
	assert.True(t, money("12.35").Equal(stored.Amount))
	f.requireDebtConsistent(t)
}

func TestCreateManualPenalty_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.addMember(t, "vic")

	tests := []struct {
		name    string
		member  int64
		amount  decimal.Decimal
		wantErr error
	}{
		{"zero amount", member, decimal.Zero, ErrInvalidAmount},
		{"negative amount", member, money("-3"), ErrInvalidAmount},
		{"rounds to zero", member, money("0.004"), ErrInvalidAmount},
		{"unknown member", 999, money("1"), ErrMemberNotFound},
		{"too large to store", member, money("200000000000000000"), ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.penalties.CreateManualPenalty(ctx, tt.member, tt.amount, "")
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.ErrorIs(t, res.Reason, tt.wantErr)
		})
	}
	assert.True(t, f.debt(t, member).IsZero())

	stats, err := f.penalties.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
}

func TestCreateManualPenalty_DebtOverflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.addMember(t, "rich")

	half := money("50000000000000000")
	res, err := f.penalties.CreateManualPenalty(ctx, member, half, "first")
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)

	res, err = f.penalties.CreateManualPenalty(ctx, member, half, "second")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, ErrInvalidAmount)

	assert.True(t, half.Equal(f.debt(t, member)))
	stats, err := f.penalties.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
	f.requireDebtConsistent(t)
}

func TestReturnLoan_PenaltyTooLargeRollsBack(t *testing.T) {
	rules := DefaultRules()
	rules.DailyPenaltyRate = money("100000000000000000")
	f := newFixtureWithRules(t, rules)
	ctx := context.Background()
	member := f.addMember(t, "late")
	book := f.addBook(t, "Ulysses", 1)
	loan := f.issue(t, member, book)

	res, err := f.loans.ReturnLoan(ctx, loan.ID, loan.DueOn.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, ErrInvalidAmount)

	got, err := f.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ReturnedOn)
	assert.Equal(t, 0, f.available(t, book))
	assert.True(t, f.debt(t, member).IsZero())
}

func TestCreatePenaltyForLoan_RequiresLoan(t *testing.T) {
	f := newFixture(t)
	member := f.addMember(t, "wes")
	err := f.db.RunInTx(context.Background(), func(ctx context.Context, q Querier) error {
		_, err := f.penalties.CreatePenaltyForLoan(ctx, q, 0, member, money("5"), 1)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.True(t, f.debt(t, member).IsZero())
}

func TestGetMemberOutstandingDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.addMember(t, "xena")

	debt, err := f.penalties.GetMemberOutstandingDebt(ctx, member)
	require.NoError(t, err)
	assert.True(t, debt.IsZero())

	latePenalty(t, f, member, "Nostromo")
	_, err = f.penalties.CreateManualPenalty(ctx, member, money("2.50"), "lost card")
	require.NoError(t, err)

	debt, err = f.penalties.GetMemberOutstandingDebt(ctx, member)
	require.NoError(t, err)
	assert.True(t, money("27.50").Equal(debt), debt.String())

	_, err = f.penalties.GetMemberOutstandingDebt(ctx, 999)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestListPenaltiesAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1, m2 := f.addMember(t, "yara"), f.addMember(t, "zack")

	first := latePenalty(t, f, m1, "Kim")
	f.clock.now = f.clock.now.Add(time.Hour)
	second, err := f.penalties.CreateManualPenalty(ctx, m2, money("3.00"), "")
	require.NoError(t, err)
	f.clock.now = f.clock.now.Add(time.Hour)
	third, err := f.penalties.CreateManualPenalty(ctx, m1, money("1.25"), "")
	require.NoError(t, err)
	_, err = f.penalties.PayPenalty(ctx, first)
	require.NoError(t, err)

	all, err := f.penalties.ListPenalties(ctx, PenaltyFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.Penalty.ID, all[0].ID, "newest first")

	mine, err := f.penalties.MemberPenalties(ctx, m1, true)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, third.Penalty.ID, mine[0].ID)

	unpaid, err := f.penalties.UnpaidPenalties(ctx)
	require.NoError(t, err)
	assert.Len(t, unpaid, 2)
	assert.NotContains(t, []int64{unpaid[0].ID, unpaid[1].ID}, first)
	assert.Contains(t, []int64{unpaid[0].ID, unpaid[1].ID}, second.Penalty.ID)

	stats, err := f.penalties.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 2, stats.UnpaidCount)
	assert.True(t, money("29.25").Equal(stats.Total), stats.Total.String())
	assert.True(t, money("25").Equal(stats.Paid))
	assert.True(t, money("4.25").Equal(stats.Outstanding))

	debtors, err := f.catalog.MembersWithDebt(ctx)
	require.NoError(t, err)
	require.Len(t, debtors, 2)
	assert.Equal(t, m2, debtors[0].ID, "largest debt first")
}

func TestAuditDebts_ReportsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.addMember(t, "abel")
	latePenalty(t, f, member, "Siddhartha")
	f.requireDebtConsistent(t)

	// Simulate a write that bypassed the penalty engine.
	_, _, err := execWrite(ctx, f.db, `UPDATE members SET total_debt_cents = 100 WHERE id=?`, member)
	require.NoError(t, err)

	diffs, err := f.penalties.AuditDebts(ctx)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, member, diffs[0].MemberID)
	assert.True(t, money("1").Equal(diffs[0].Cached))
	assert.True(t, money("25").Equal(diffs[0].Recomputed))

	summary, err := f.reports.MemberSummary(ctx, member)
	require.NoError(t, err)
	assert.True(t, money("1").Equal(summary.Member.TotalDebt))
	assert.True(t, money("25").Equal(summary.OutstandingDebt))
	assert.Equal(t, 1, summary.UnpaidPenalties)
}

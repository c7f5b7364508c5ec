package library

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueLoan_LastCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune", 1)
	alice := f.addMember(t, "alice")
	bob := f.addMember(t, "bob")

	res, err := f.loans.IssueLoan(ctx, alice, book, 0)
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)
	assert.Equal(t, "loan issued, due 2024-03-16", res.Message)
	assert.Equal(t, LoanActive, res.Loan.State())
	assert.Equal(t, civilDay(day0), res.Loan.LoanedOn)
	assert.Equal(t, civilDay(day0).AddDate(0, 0, 15), res.Loan.DueOn)
	assert.Equal(t, 0, f.available(t, book))

	res, err = f.loans.IssueLoan(ctx, bob, book, 0)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, ErrBookUnavailable)
	assert.Equal(t, "book_unavailable", Reason(res.Reason))
	assert.Zero(t, res.Loan.ID)
	assert.Equal(t, 0, f.available(t, book))

	n, err := f.loans.ActiveLoanCount(ctx, bob)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIssueLoan_LimitReached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.addMember(t, "carol")
	for i := range 5 {
		f.issue(t, member, f.addBook(t, fmt.Sprintf("Vol%d", i), 1))
	}
	extra := f.addBook(t, "Extra", 3)

	res, err := f.loans.IssueLoan(ctx, member, extra, 0)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, ErrLoanLimitExceeded)
	assert.ErrorIs(t, res.Reason, ErrRuleViolation)
	assert.Contains(t, res.Message, "maximum of 5")

	n, err := f.loans.ActiveLoanCount(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 3, f.available(t, extra))
}

func TestIssueLoan_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Emma", 2)
	member := f.addMember(t, "dave")
	inactive := f.addMember(t, "erin")
	require.NoError(t, f.catalog.SetMemberActive(ctx, inactive, false))

	tests := []struct {
		name    string
		member  int64
		book    int64
		staff   int64
		wantErr error
	}{
		{"unknown member", 999, book, 0, ErrMemberNotFound},
		{"unknown book", member, 999, 0, ErrBookNotFound},
		{"unknown staff", member, book, 42, ErrStaffNotFound},
		{"inactive member", inactive, book, 0, ErrMemberInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.loans.IssueLoan(ctx, tt.member, tt.book, tt.staff)
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.ErrorIs(t, res.Reason, tt.wantErr)
			assert.Equal(t, 2, f.available(t, book))
		})
	}
}

func TestIssueLoan_InactiveAllowedWhenNotEnforced(t *testing.T) {
	rules := DefaultRules()
	rules.EnforceActiveMember = false
	f := newFixtureWithRules(t, rules)
	ctx := context.Background()
	book := f.addBook(t, "Ivanhoe", 1)
	member := f.addMember(t, "frank")
	require.NoError(t, f.catalog.SetMemberActive(ctx, member, false))

	res, err := f.loans.IssueLoan(ctx, member, book, 0)
	require.NoError(t, err)
	assert.True(t, res.OK, res.Message)
}

func TestIssueLoan_RecordsStaff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	staff := NewStaffAccounts(f.db, 4)
	clerkID, err := staff.CreateStaff(ctx, "clerk1", "s3cret", RoleClerk, "Front Desk")
	require.NoError(t, err)
	book := f.addBook(t, "Ulysses", 1)
	member := f.addMember(t, "gina")

	res, err := f.loans.IssueLoan(ctx, member, book, clerkID)
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)

	views, err := f.loans.MemberLoans(ctx, member, true)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, clerkID, views[0].StaffID)
	assert.Equal(t, "clerk1", views[0].StaffUsername)
	assert.Equal(t, "gina", views[0].MemberName)
	assert.Equal(t, "Ulysses", views[0].BookTitle)
}

func TestIssueLoan_InactiveStaff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	staff := NewStaffAccounts(f.db, 4)
	clerkID, err := staff.CreateStaff(ctx, "leaver", "s3cret", RoleClerk, "")
	require.NoError(t, err)
	require.NoError(t, staff.SetActive(ctx, clerkID, false))
	book := f.addBook(t, "Emma", 1)
	member := f.addMember(t, "iris")

	res, err := f.loans.IssueLoan(ctx, member, book, clerkID)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, ErrStaffInactive)
	assert.Equal(t, 1, f.available(t, book))

	res, err = f.loans.IssueLoan(ctx, member, book, 404)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Reason, ErrStaffNotFound)

	require.NoError(t, staff.SetActive(ctx, clerkID, true))
	res, err = f.loans.IssueLoan(ctx, member, book, clerkID)
	require.NoError(t, err)
	assert.True(t, res.OK, res.Message)
}

func TestReturnLoan_Late(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Rebecca", 1)
	member := f.addMember(t, "hank")
	loan := f.issue(t, member, book)

	res, err := f.loans.ReturnLoan(ctx, loan.ID, day0.AddDate(0, 0, 20))
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)
	assert.Equal(t, 5, res.DaysLate)
	assert.True(t, money("25.00").Equal(res.Penalty), res.Penalty.String())
	assert.NotZero(t, res.PenaltyID)
	assert.Equal(t, "book returned 5 day(s) late, penalty 25.00", res.Message)
	assert.Equal(t, LoanReturned, res.Loan.State())

	assert.True(t, money("25.00").Equal(f.debt(t, member)))
	assert.Equal(t, 1, f.available(t, book))

	p, err := f.penalties.GetPenalty(ctx, res.PenaltyID)
	require.NoError(t, err)
	assert.Equal(t, loan.ID, p.LoanID)
	assert.Equal(t, 5, p.DaysLate)
	assert.False(t, p.Paid)
	assert.False(t, p.IsManual())
	f.requireDebtConsistent(t)
}

func TestReturnLoan_EarlyAndOnDueDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Persuasion", 2)
	member := f.addMember(t, "ivy")
	early := f.issue(t, member, book)
	onTime := f.issue(t, member, book)

	res, err := f.loans.ReturnLoan(ctx, early.ID, day0.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)
	assert.Zero(t, res.DaysLate)
	assert.True(t, res.Penalty.IsZero())
	assert.Zero(t, res.PenaltyID)
	assert.Equal(t, "book returned on time", res.Message)

	res, err = f.loans.ReturnLoan(ctx, onTime.ID, onTime.DueOn)
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)
	assert.Zero(t, res.DaysLate)

	assert.True(t, f.debt(t, member).IsZero())
	ps, err := f.penalties.MemberPenalties(ctx, member, false)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestReturnLoan_DefaultsToToday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loan := f.issue(t, f.addMember(t, "jack"), f.addBook(t, "Middlemarch", 1))

	f.clock.advance(17)
	res, err := f.loans.ReturnLoan(ctx, loan.ID, time.Time{})
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)
	assert.Equal(t, 2, res.DaysLate)
	assert.True(t, money("10").Equal(res.Penalty))
	require.NotNil(t, res.Loan.ReturnedOn)
	assert.Equal(t, civilDay(f.clock.now), *res.Loan.ReturnedOn)
}

func TestReturnLoan_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Walden", 1)
	member := f.addMember(t, "kate")
	loan := f.issue(t, member, book)

	res, err := f.loans.ReturnLoan(ctx, 999, time.Time{})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Reason, ErrLoanNotFound)
	assert.ErrorIs(t, res.Reason, ErrNotFound)

	res, err = f.loans.ReturnLoan(ctx, loan.ID, day0.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, ErrInvalidReturnDate)
	assert.ErrorIs(t, res.Reason, ErrValidation)
	assert.Equal(t, 0, f.available(t, book))

	res, err = f.loans.ReturnLoan(ctx, loan.ID, time.Time{})
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)

	res, err = f.loans.ReturnLoan(ctx, loan.ID, time.Time{})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, ErrLoanAlreadyReturned)
	assert.Equal(t, 1, f.available(t, book))
}

func TestReturnLoan_PenaltyFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Beloved", 1)
	member := f.addMember(t, "liam")
	loan := f.issue(t, member, book)

	// A zero rate makes the late penalty invalid, which must undo the return.
	zeroRate := f.rules
	zeroRate.DailyPenaltyRate = decimal.Zero
	engine := NewLoanEngine(f.db, f.penalties, zeroRate, WithClock(f.clock.Now))

	res, err := engine.ReturnLoan(ctx, loan.ID, day0.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Reason, ErrInvalidAmount)

	got, err := f.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanActive, got.State())
	assert.Equal(t, 0, f.available(t, book))
	assert.True(t, f.debt(t, member).IsZero())
}

func TestLoanRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Hamlet", 4)
	member := f.addMember(t, "mia")
	before := f.available(t, book)

	loan := f.issue(t, member, book)
	assert.Equal(t, before-1, f.available(t, book))

	res, err := f.loans.ReturnLoan(ctx, loan.ID, time.Time{})
	require.NoError(t, err)
	require.True(t, res.OK, res.Message)

	assert.Equal(t, before, f.available(t, book))
	got, err := f.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanReturned, got.State())
}

func TestActiveLoans_IdempotentRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1, m2 := f.addMember(t, "nina"), f.addMember(t, "oscar")
	f.issue(t, m1, f.addBook(t, "Candide", 1))
	f.issue(t, m2, f.addBook(t, "Faust", 1))

	first, err := f.loans.ActiveLoans(ctx)
	require.NoError(t, err)
	second, err := f.loans.ActiveLoans(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, first, second)
}

func TestListLoans_OverdueAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.addMember(t, "paul")
	old := f.issue(t, member, f.addBook(t, "Odyssey", 1))

	f.clock.advance(5)
	fresh := f.issue(t, member, f.addBook(t, "Iliad", 1))
	returned := f.issue(t, member, f.addBook(t, "Aeneid", 1))
	res, err := f.loans.ReturnLoan(ctx, returned.ID, time.Time{})
	require.NoError(t, err)
	require.True(t, res.OK)

	// day0+18: the first loan is 3 days overdue, the second is not yet due.
	f.clock.advance(13)
	overdue, err := f.loans.OverdueLoans(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, old.ID, overdue[0].ID)
	assert.Equal(t, 3, overdue[0].DaysOverdue)
	assert.True(t, money("15").Equal(overdue[0].ProjectedPenalty))

	active, err := f.loans.ActiveLoans(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, old.ID, active[0].ID, "ordered by due date")
	assert.Equal(t, fresh.ID, active[1].ID)

	all, err := f.loans.MemberLoans(ctx, member, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	stats, err := f.loans.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, LoanStats{Total: 3, Active: 2, Returned: 1, Overdue: 1}, stats)

	summary, err := f.reports.MemberSummary(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalLoans)
	assert.Equal(t, 2, summary.ActiveLoans)
	assert.Equal(t, 1, summary.OverdueLoans)
	assert.True(t, money("15").Equal(summary.ProjectedPenalty))
	assert.True(t, summary.OutstandingDebt.IsZero())
}

// TestConcurrentIssue races several members for the last copies of a title.
// Exactly as many loans as copies may succeed.
func TestConcurrentIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const copies, members = 2, 6
	book := f.addBook(t, "Contested", copies)
	ids := make([]int64, members)
	for i := range ids {
		ids[i] = f.addMember(t, fmt.Sprintf("racer%d", i))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		issued   int
		rejected int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(memberID int64) {
			defer wg.Done()
			res, err := f.loans.IssueLoan(ctx, memberID, book, 0)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("issue loan: %v", err)
				return
			}
			if res.OK {
				issued++
			} else if assert.ErrorIs(t, res.Reason, ErrBookUnavailable) {
				rejected++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, copies, issued)
	assert.Equal(t, members-copies, rejected)
	assert.Equal(t, 0, f.available(t, book))
}

// TestConcurrentIssue_MemberLimit has one member one loan short of the limit
// request several different titles at once. Only one request may win.
func TestConcurrentIssue_MemberLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	member := f.addMember(t, "greedy")
	for i := range f.rules.MaxActiveLoans - 1 {
		f.issue(t, member, f.addBook(t, fmt.Sprintf("held%d", i), 1))
	}

	const requests = 6
	books := make([]int64, requests)
	for i := range books {
		books[i] = f.addBook(t, fmt.Sprintf("wanted%d", i), 1)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		issued   int
		rejected int
	)
	for _, id := range books {
		wg.Add(1)
		go func(bookID int64) {
			defer wg.Done()
			res, err := f.loans.IssueLoan(ctx, member, bookID, 0)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("issue loan: %v", err)
				return
			}
			if res.OK {
				issued++
			} else if assert.ErrorIs(t, res.Reason, ErrLoanLimitExceeded) {
				rejected++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, issued)
	assert.Equal(t, requests-1, rejected)
	count, err := f.loans.ActiveLoanCount(ctx, member)
	require.NoError(t, err)
	assert.Equal(t, f.rules.MaxActiveLoans, count)

	onShelf := 0
	for _, id := range books {
		onShelf += f.available(t, id)
	}
	assert.Equal(t, requests-1, onShelf)
}

// TestLedgerCountersStayConsistent drives a mixed sequence of issues, returns and
// payments and checks the availability bound, the loan cap and debt
// consistency after every step.
func TestLedgerCountersStayConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	books := []int64{f.addBook(t, "A", 1), f.addBook(t, "B", 2), f.addBook(t, "C", 3)}
	members := []int64{f.addMember(t, "quinn"), f.addMember(t, "rosa")}

	check := func() {
		t.Helper()
		for _, b := range books {
			book, err := f.catalog.GetBook(ctx, b)
			require.NoError(t, err)
			require.GreaterOrEqual(t, book.AvailableCopies, 0)
			require.LessOrEqual(t, book.AvailableCopies, book.TotalCopies)
		}
		for _, m := range members {
			n, err := f.loans.ActiveLoanCount(ctx, m)
			require.NoError(t, err)
			require.LessOrEqual(t, n, f.rules.MaxActiveLoans)
		}
		f.requireDebtConsistent(t)
	}

	var open []Loan
	for step := range 40 {
		f.clock.advance(step % 4)
		m := members[step%len(members)]
		b := books[step%len(books)]
		switch {
		case step%3 != 2:
			res, err := f.loans.IssueLoan(ctx, m, b, 0)
			require.NoError(t, err)
			if res.OK {
				open = append(open, res.Loan)
			}
		case len(open) > 0:
			res, err := f.loans.ReturnLoan(ctx, open[0].ID, time.Time{})
			require.NoError(t, err)
			require.True(t, res.OK, res.Message)
			open = open[1:]
		}
		if step%7 == 6 {
			unpaid, err := f.penalties.UnpaidPenalties(ctx)
			require.NoError(t, err)
			if len(unpaid) > 0 {
				res, err := f.penalties.PayPenalty(ctx, unpaid[0].ID)
				require.NoError(t, err)
				require.True(t, res.OK, res.Message)
			}
		}
		check()
	}
}

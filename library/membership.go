package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// The membership ledger keeps members.total_debt_cents equal to the sum of
// the member's unpaid penalties. adjustDebt must run inside the same
// transaction as the penalty change it mirrors.

func adjustDebt(ctx context.Context, q Querier, memberID int64, delta decimal.Decimal) error {
	debt, err := cachedDebt(ctx, q, memberID)
	if err != nil {
		return err
	}
	cents, err := toCents(debt.Add(delta))
	if err != nil {
		return withDetail(ErrInvalidAmount, "debt of member %d would exceed the largest storable amount", memberID)
	}
	n, _, err := execWrite(ctx, q, `UPDATE members SET total_debt_cents=? WHERE id=?`, cents, memberID)
	if err != nil {
		return fmt.Errorf("adjust debt of member %d: %w", memberID, err)
	}
	if n != 1 {
		return ErrMemberNotFound
	}
	return nil
}

// cachedDebt reads the member's stored debt total.
func cachedDebt(ctx context.Context, q Querier, memberID int64) (decimal.Decimal, error) {
	var cents int64
	err := q.QueryRowContext(ctx, `SELECT total_debt_cents FROM members WHERE id=?`, memberID).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrMemberNotFound
	}
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	return fromCents(cents), nil
}

// unpaidTotal sums the member's unpaid penalties from the penalty ledger.
func unpaidTotal(ctx context.Context, q Querier, memberID int64) (decimal.Decimal, error) {
	var cents int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents),0) FROM penalties WHERE member_id=? AND paid=0`, memberID).Scan(&cents)
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	return fromCents(cents), nil
}

// activeLoanCount counts the member's loans without a return date.
func activeLoanCount(ctx context.Context, q Querier, memberID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE member_id=? AND returned_on IS NULL`, memberID).Scan(&n)
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

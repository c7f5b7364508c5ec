package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"
)

// PenaltyResult is returned by the penalty mutations.
type PenaltyResult struct {
	Outcome
	Penalty Penalty `json:"penalty"`
}

// PenaltyFilter narrows ListPenalties. Zero values are ignored.
type PenaltyFilter struct {
	MemberID   int64
	UnpaidOnly bool
}

// PenaltyEngine creates, settles and removes penalties, moving the member's
// cached debt in the same transaction every time.
type PenaltyEngine struct {
	gw    Gateway
	rules Rules
	opts  options
}

// NewPenaltyEngine returns an engine writing through gw.
func NewPenaltyEngine(gw Gateway, rules Rules, opts ...Option) *PenaltyEngine {
	return &PenaltyEngine{gw: gw, rules: rules, opts: buildOptions(opts)}
}

// CreatePenaltyForLoan records an unpaid late-return penalty for loanID and
// raises the member's debt. It runs on q, which must be the transaction of
// the return that triggered it: if this fails the return must not commit.
func (e *PenaltyEngine) CreatePenaltyForLoan(ctx context.Context, q Querier, loanID, memberID int64, amount decimal.Decimal, daysLate int) (Penalty, error) {
	if loanID <= 0 {
		return Penalty{}, withDetail(ErrInvalidInput, "loan id is required")
	}
	return e.insert(ctx, q, Penalty{
		LoanID:   loanID,
		MemberID: memberID,
		Amount:   amount,
		DaysLate: daysLate,
	})
}

// CreateManualPenalty charges memberID an amount that is not tied to a loan.
func (e *PenaltyEngine) CreateManualPenalty(ctx context.Context, memberID int64, amount decimal.Decimal, note string) (PenaltyResult, error) {
	var p Penalty
	err := e.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		var err error
		p, err = e.insert(ctx, q, Penalty{
			MemberID: memberID,
			Amount:   amount,
			Note:     strings.TrimSpace(note),
		})
		return err
	})

	out, err := settle(err, fmt.Sprintf("penalty of %s recorded", FormatMoney(p.Amount)))
	e.logOutcome("manual penalty", out, err,
		slog.Int64("member_id", memberID), slog.Int64("penalty_id", p.ID), slog.String("amount", amount.String()))
	return PenaltyResult{Outcome: out, Penalty: p}, err
}

func (e *PenaltyEngine) insert(ctx context.Context, q Querier, p Penalty) (Penalty, error) {
	p.Amount = p.Amount.Round(2)
	if !p.Amount.IsPositive() {
		return Penalty{}, ErrInvalidAmount
	}
	cents, err := toCents(p.Amount)
	if err != nil {
		return Penalty{}, err
	}
	ok, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM members WHERE id=?)`, p.MemberID)
	if err != nil {
		return Penalty{}, err
	}
	if !ok {
		return Penalty{}, ErrMemberNotFound
	}

	p.CreatedAt = e.opts.now().UTC().Truncate(time.Second)
	var loanID any
	if p.LoanID > 0 {
		loanID = p.LoanID
	}
	_, id, err := execWrite(ctx, q,
		`INSERT INTO penalties(loan_id,member_id,amount_cents,days_late,note,paid,created_at) VALUES(?,?,?,?,?,0,?)`,
		loanID, p.MemberID, cents, p.DaysLate, p.Note, p.CreatedAt.Format(timestampLayout))
	if err != nil {
		return Penalty{}, fmt.Errorf("insert penalty: %w", err)
	}
	p.ID = id

	if err := adjustDebt(ctx, q, p.MemberID, p.Amount); err != nil {
		return Penalty{}, err
	}
	return p, nil
}

// PayPenalty marks an unpaid penalty as paid and lowers the member's debt by
// its amount.
func (e *PenaltyEngine) PayPenalty(ctx context.Context, penaltyID int64) (PenaltyResult, error) {
	var p Penalty
	err := e.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		var err error
		if p, err = getPenalty(ctx, q, penaltyID); err != nil {
			return err
		}
		if p.Paid {
			return ErrAlreadyPaid
		}
		n, _, err := execWrite(ctx, q, `UPDATE penalties SET paid=1 WHERE id=? AND paid=0`, penaltyID)
		if err != nil {
			return err
		}
		if n != 1 {
			return ErrAlreadyPaid
		}
		p.Paid = true
		return adjustDebt(ctx, q, p.MemberID, p.Amount.Neg())
	})

	out, err := settle(err, fmt.Sprintf("penalty paid (%s)", FormatMoney(p.Amount)))
	e.logOutcome("pay penalty", out, err,
		slog.Int64("penalty_id", penaltyID), slog.Int64("member_id", p.MemberID), slog.String("amount", p.Amount.String()))
	return PenaltyResult{Outcome: out, Penalty: p}, err
}

// DeletePenalty removes an unpaid penalty entered in error, lowering the
// member's debt first. Paid penalties are never deleted.
func (e *PenaltyEngine) DeletePenalty(ctx context.Context, penaltyID int64) (PenaltyResult, error) {
	var p Penalty
	err := e.gw.RunInTx(ctx, func(ctx context.Context, q Querier) error {
		var err error
		if p, err = getPenalty(ctx, q, penaltyID); err != nil {
			return err
		}
		if p.Paid {
			return ErrPaidPenaltyImmutable
		}
		if err := adjustDebt(ctx, q, p.MemberID, p.Amount.Neg()); err != nil {
			return err
		}
		n, _, err := execWrite(ctx, q, `DELETE FROM penalties WHERE id=? AND paid=0`, penaltyID)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("%w: penalty %d changed during delete", ErrConsistency, penaltyID)
		}
		return nil
	})

	out, err := settle(err, "penalty deleted")
	e.logOutcome("delete penalty", out, err,
		slog.Int64("penalty_id", penaltyID), slog.Int64("member_id", p.MemberID), slog.String("amount", p.Amount.String()))
	return PenaltyResult{Outcome: out, Penalty: p}, err
}

// GetMemberOutstandingDebt sums the member's unpaid penalties straight from
// the penalty ledger. It is a cross-check for the cached total, not a source
// of truth.
func (e *PenaltyEngine) GetMemberOutstandingDebt(ctx context.Context, memberID int64) (decimal.Decimal, error) {
	ok, err := exists(ctx, e.gw, `SELECT EXISTS(SELECT 1 FROM members WHERE id=?)`, memberID)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, ErrMemberNotFound
	}
	return unpaidTotal(ctx, e.gw, memberID)
}

// GetPenalty fetches a single penalty.
func (e *PenaltyEngine) GetPenalty(ctx context.Context, id int64) (*Penalty, error) {
	p, err := getPenalty(ctx, e.gw, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPenalties returns penalties newest first.
func (e *PenaltyEngine) ListPenalties(ctx context.Context, f PenaltyFilter) ([]*Penalty, error) {
	b := sq.Select(penaltyColumns...).From("penalties").OrderBy("created_at DESC", "id DESC")
	if f.MemberID > 0 {
		b = b.Where(sq.Eq{"member_id": f.MemberID})
	}
	if f.UnpaidOnly {
		b = b.Where(sq.Eq{"paid": 0})
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

	var penalties []*Penalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, err
		}
		penalties = append(penalties, &p)
	}
	return penalties, mapError(rows.Err())
}

// MemberPenalties lists one member's penalties, optionally only the unpaid
// ones.
func (e *PenaltyEngine) MemberPenalties(ctx context.Context, memberID int64, unpaidOnly bool) ([]*Penalty, error) {
	return e.ListPenalties(ctx, PenaltyFilter{MemberID: memberID, UnpaidOnly: unpaidOnly})
}

// UnpaidPenalties lists every unpaid penalty.
func (e *PenaltyEngine) UnpaidPenalties(ctx context.Context) ([]*Penalty, error) {
	return e.ListPenalties(ctx, PenaltyFilter{UnpaidOnly: true})
}

// Stats aggregates the whole penalty ledger.
func (e *PenaltyEngine) Stats(ctx context.Context) (PenaltyStats, error) {
	var (
		s                             PenaltyStats
		totalCents, paidCents, unpaid int64
	)
	err := e.gw.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN paid=0 THEN 1 ELSE 0 END),0),
		       COALESCE(SUM(amount_cents),0),
		       COALESCE(SUM(CASE WHEN paid=1 THEN amount_cents ELSE 0 END),0),
		       COALESCE(SUM(CASE WHEN paid=0 THEN amount_cents ELSE 0 END),0)
		FROM penalties`).Scan(&s.Count, &s.UnpaidCount, &totalCents, &paidCents, &unpaid)
	if err != nil {
		return PenaltyStats{}, mapError(err)
	}
	s.Total, s.Paid, s.Outstanding = fromCents(totalCents), fromCents(paidCents), fromCents(unpaid)
	return s, nil
}

// AuditDebts compares each member's cached debt with the unpaid penalty sum
// and returns every mismatch. It never writes.
func (e *PenaltyEngine) AuditDebts(ctx context.Context) ([]DebtDiscrepancy, error) {
	rows, err := e.gw.QueryContext(ctx, `
		SELECT m.id, m.total_debt_cents, COALESCE(SUM(p.amount_cents),0) AS unpaid
		FROM members m
		LEFT JOIN penalties p ON p.member_id = m.id AND p.paid = 0
		GROUP BY m.id
		HAVING m.total_debt_cents <> unpaid
		ORDER BY m.id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []DebtDiscrepancy
	for rows.Next() {
		var (
			d              DebtDiscrepancy
			cached, unpaid int64
		)
		if err := rows.Scan(&d.MemberID, &cached, &unpaid); err != nil {
			return nil, mapError(err)
		}
		d.Cached, d.Recomputed = fromCents(cached), fromCents(unpaid)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	if len(out) > 0 {
		e.opts.logger.Warn("member debt out of sync with penalties", slog.Int("members", len(out)))
	}
	return out, nil
}

func (e *PenaltyEngine) logOutcome(op string, out Outcome, err error, attrs ...any) {
	logOutcome(e.opts.logger, op, out, err, attrs...)
}

var penaltyColumns = []string{
	"id", "COALESCE(loan_id,0)", "member_id", "amount_cents", "days_late", "note", "paid", "created_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPenalty(r rowScanner) (Penalty, error) {
	var (
		p       Penalty
		cents   int64
		created string
	)
	if err := r.Scan(&p.ID, &p.LoanID, &p.MemberID, &cents, &p.DaysLate, &p.Note, &p.Paid, &created); err != nil {
		return Penalty{}, err
	}
	p.Amount = fromCents(cents)
	t, err := time.Parse(timestampLayout, created)
	if err != nil {
		return Penalty{}, fmt.Errorf("%w: bad penalty timestamp %q: %w", ErrConsistency, created, err)
	}
	p.CreatedAt = t
	return p, nil
}

func getPenalty(ctx context.Context, q Querier, id int64) (Penalty, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+strings.Join(penaltyColumns, ",")+` FROM penalties WHERE id=?`, id)
	p, err := scanPenalty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Penalty{}, ErrPenaltyNotFound
	}
	if err != nil {
		return Penalty{}, mapError(err)
	}
	return p, nil
}

// logOutcome writes one record per mutation: Info when committed, Debug for
// an expected rejection, Error for an infrastructure failure.
func logOutcome(l *slog.Logger, op string, out Outcome, err error, attrs ...any) {
	switch {
	case err != nil:
		l.Error(op+" failed", append(attrs, slog.Any("error", err))...)
	case !out.OK:
		l.Debug(op+" rejected", append(attrs, slog.String("reason", Reason(out.Reason)))...)
	default:
		l.Info(op, attrs...)
	}
}

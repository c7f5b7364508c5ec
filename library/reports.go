package library

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"
)

// Reports are read-only projections over the ledgers.
type Reports struct {
	gw    Gateway
	rules Rules
	opts  options
}

// NewReports returns the report reader.
func NewReports(gw Gateway, rules Rules, opts ...Option) *Reports {
	return &Reports{gw: gw, rules: rules, opts: buildOptions(opts)}
}

// MemberSummary reports a member's loan counts and debt. OutstandingDebt is
// recomputed from unpaid penalties; Member.TotalDebt is the cached value, so a
// caller can compare the two.
func (r *Reports) MemberSummary(ctx context.Context, memberID int64) (*MemberSummary, error) {
	m, err := getMember(ctx, r.gw, memberID)
	if err != nil {
		return nil, err
	}

	s := &MemberSummary{Member: *m}
	err = r.gw.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN returned_on IS NULL THEN 1 ELSE 0 END),0),
		       COALESCE(SUM(CASE WHEN returned_on IS NULL AND due_on < ? THEN 1 ELSE 0 END),0)
		FROM loans WHERE member_id=?`, formatDate(r.opts.today()), memberID).
		Scan(&s.TotalLoans, &s.ActiveLoans, &s.OverdueLoans)
	if err != nil {
		return nil, mapError(err)
	}

	var unpaidCents int64
	err = r.gw.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount_cents),0) FROM penalties WHERE member_id=? AND paid=0`, memberID).
		Scan(&s.UnpaidPenalties, &unpaidCents)
	if err != nil {
		return nil, mapError(err)
	}
	s.OutstandingDebt = fromCents(unpaidCents)

	if s.ProjectedPenalty, err = r.projectedPenalty(ctx, memberID); err != nil {
		return nil, err
	}
	return s, nil
}

// projectedPenalty is what the member's overdue loans would be charged if
// they were all returned today.
func (r *Reports) projectedPenalty(ctx context.Context, memberID int64) (decimal.Decimal, error) {
	today := r.opts.today()
	rows, err := r.gw.QueryContext(ctx,
		`SELECT due_on FROM loans WHERE member_id=? AND returned_on IS NULL AND due_on < ?`,
		memberID, formatDate(today))
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var due string
		if err := rows.Scan(&due); err != nil {
			return decimal.Zero, mapError(err)
		}
		dueOn, err := parseDate(due)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(r.rules.PenaltyFor(daysBetween(dueOn, today)))
	}
	return total, mapError(rows.Err())
}

// BookReport lists titles with how often each was lent, ordered by title.
func (r *Reports) BookReport(ctx context.Context, stock StockFilter) ([]*BookActivity, error) {
	b := bookActivitySelect().OrderBy("b.title", "b.id")
	switch stock {
	case InStock:
		b = b.Where(sq.Gt{"b.available_copies": 0})
	case OutOfStock:
		b = b.Where(sq.Eq{"b.available_copies": 0})
	}
	return r.queryBookActivity(ctx, b)
}

// MostBorrowed lists titles lent at least once, most lent first. limit caps
// the rows and defaults to 20.
func (r *Reports) MostBorrowed(ctx context.Context, limit int) ([]*BookActivity, error) {
	if limit <= 0 {
		limit = 20
	}
	b := bookActivitySelect().
		Having("COUNT(l.id) > 0").
		OrderBy("COUNT(l.id) DESC", "b.title", "b.id").
		Limit(uint64(limit))
	return r.queryBookActivity(ctx, b)
}

func bookActivitySelect() sq.SelectBuilder {
	return bookSelect().
		Column("COUNT(l.id)").
		LeftJoin("loans l ON l.book_id = b.id").
		GroupBy("b.id")
}

func (r *Reports) queryBookActivity(ctx context.Context, b sq.SelectBuilder) ([]*BookActivity, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.gw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*BookActivity
	for rows.Next() {
		var a BookActivity
		if err := scanBookInto(rows, &a.Book, &a.TimesLent); err != nil {
			return nil, mapError(err)
		}
		out = append(out, &a)
	}
	return out, mapError(rows.Err())
}

// LoansBetween lists loans issued or returned between from and to, both
// inclusive, most recent activity first.
func (r *Reports) LoansBetween(ctx context.Context, from, to time.Time) ([]*PeriodLoan, error) {
	from, to = civilDay(from), civilDay(to)
	if from.After(to) {
		return nil, withDetail(ErrInvalidInput, "start date %s is after end date %s",
			from.Format(dateLayout), to.Format(dateLayout))
	}
	lo, hi := formatDate(from), formatDate(to)

	query, args, err := loanViewSelect().
		Column("m.email").
		Column("COALESCE((SELECT SUM(p.amount_cents) FROM penalties p WHERE p.loan_id = l.id),0)").
		Where(sq.Or{
			sq.And{sq.GtOrEq{"l.loaned_on": lo}, sq.LtOrEq{"l.loaned_on": hi}},
			sq.And{sq.GtOrEq{"l.returned_on": lo}, sq.LtOrEq{"l.returned_on": hi}},
		}).
		OrderBy("COALESCE(l.returned_on, l.loaned_on) DESC", "l.id DESC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.gw.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	today := r.opts.today()
	var out []*PeriodLoan
	for rows.Next() {
		var (
			pl      PeriodLoan
			charged int64
		)
		if err := scanLoanView(rows, &pl.LoanView, r.rules, today, &pl.MemberEmail, &charged); err != nil {
			return nil, err
		}
		pl.Charged = fromCents(charged)
		pl.DaysLate = pl.DaysOverdue
		if pl.ReturnedOn != nil {
			pl.DaysLate = max(0, daysBetween(pl.DueOn, *pl.ReturnedOn))
		}
		out = append(out, &pl)
	}
	return out, mapError(rows.Err())
}

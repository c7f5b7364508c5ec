package library

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"library-circulation/config"
)

// Rules are the lending rules the engines enforce.
type Rules struct {
	LoanPeriodDays      int
	MaxActiveLoans      int
	DailyPenaltyRate    decimal.Decimal
	EnforceActiveMember bool
}

// DefaultRules returns a 15-day loan period, at most 5 active loans per member
// and a daily penalty of 5.00.
func DefaultRules() Rules {
	return RulesFromConfig(config.Default().Circulation)
}

// RulesFromConfig converts validated circulation settings.
func RulesFromConfig(c config.CirculationConfig) Rules {
	return Rules{
		LoanPeriodDays:      c.LoanPeriodDays,
		MaxActiveLoans:      c.MaxActiveLoans,
		DailyPenaltyRate:    c.DailyPenaltyRate,
		EnforceActiveMember: c.EnforceActiveMember,
	}
}

// PenaltyFor is the charge for returning daysLate days after the due date.
func (r Rules) PenaltyFor(daysLate int) decimal.Decimal {
	if daysLate <= 0 {
		return decimal.Zero
	}
	return r.DailyPenaltyRate.Mul(decimal.NewFromInt(int64(daysLate)))
}

// Option configures an engine or the manager.
type Option func(*options)

type options struct {
	now        func() time.Time
	logger     *slog.Logger
	bcryptCost int
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBcryptCost sets the cost used to hash staff passwords.
func WithBcryptCost(cost int) Option {
	return func(o *options) { o.bcryptCost = cost }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func (o options) today() time.Time { return civilDay(o.now()) }

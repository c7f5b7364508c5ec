package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration for the librarian tools.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Circulation CirculationConfig `yaml:"circulation"`
	Log         LogConfig         `yaml:"log"`
}

// DatabaseConfig holds SQLite connection settings.
type DatabaseConfig struct {
	Path         string        `yaml:"path"           env:"LIBRARY_DB_PATH"           env-default:"library.db"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"   env:"LIBRARY_DB_BUSY_TIMEOUT"   env-default:"5s"`
	MaxOpenConns int           `yaml:"max_open_conns" env:"LIBRARY_DB_MAX_OPEN_CONNS" env-default:"4"`
	OpTimeout    time.Duration `yaml:"op_timeout"     env:"LIBRARY_DB_OP_TIMEOUT"     env-default:"10s"`
}

// CirculationConfig holds the lending rules.
type CirculationConfig struct {
	LoanPeriodDays      int    `yaml:"loan_period_days"      env:"LIBRARY_LOAN_PERIOD_DAYS"      env-default:"15"`
	MaxActiveLoans      int    `yaml:"max_active_loans"      env:"LIBRARY_MAX_ACTIVE_LOANS"      env-default:"5"`
	DailyPenaltyRateRaw string `yaml:"daily_penalty_rate"    env:"LIBRARY_DAILY_PENALTY_RATE"    env-default:"5.00"`
	EnforceActiveMember bool   `yaml:"enforce_active_member" env:"LIBRARY_ENFORCE_ACTIVE_MEMBER" env-default:"true"`

	// DailyPenaltyRate is parsed from DailyPenaltyRateRaw during validation.
	DailyPenaltyRate decimal.Decimal `yaml:"-" env:"-"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// Default returns the configuration produced by the env-default tags alone.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Path:         "library.db",
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 4,
			OpTimeout:    10 * time.Second,
		},
		Circulation: CirculationConfig{
			LoanPeriodDays:      15,
			MaxActiveLoans:      5,
			DailyPenaltyRateRaw: "5.00",
			DailyPenaltyRate:    decimal.RequireFromString("5.00"),
			EnforceActiveMember: true,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

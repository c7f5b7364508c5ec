package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
)

// DefaultPath is used when CONFIG_PATH is unset and no explicit path is given.
const DefaultPath = "./librarian.yaml"

// Load reads configuration from a YAML file and environment variables.
// Priority: ENV > YAML > defaults (via env-default tags).
// An empty path falls back to CONFIG_PATH, then DefaultPath. A missing file is
// only an error when the path was given explicitly.
func Load(path string) (*Config, error) {
	var cfg Config

	explicitPath := path != ""
	if !explicitPath {
		path = os.Getenv("CONFIG_PATH")
		explicitPath = path != ""
	}
	if !explicitPath {
		path = DefaultPath
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and parses derived fields.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Database.MaxOpenConns < 1 {
		errs = append(errs, errors.New("database.max_open_conns must be at least 1"))
	}
	if c.Database.OpTimeout <= 0 {
		errs = append(errs, errors.New("database.op_timeout must be positive"))
	}

	if c.Circulation.LoanPeriodDays < 1 {
		errs = append(errs, errors.New("circulation.loan_period_days must be at least 1"))
	}
	if c.Circulation.MaxActiveLoans < 1 {
		errs = append(errs, errors.New("circulation.max_active_loans must be at least 1"))
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(c.Circulation.DailyPenaltyRateRaw))
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("circulation.daily_penalty_rate: %w", err))
	case !rate.IsPositive():
		errs = append(errs, errors.New("circulation.daily_penalty_rate must be positive"))
	default:
		c.Circulation.DailyPenaltyRate = rate
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsFromEnvOnly(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "library.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Database.BusyTimeout)
	assert.Equal(t, 15, cfg.Circulation.LoanPeriodDays)
	assert.Equal(t, 5, cfg.Circulation.MaxActiveLoans)
	assert.True(t, cfg.Circulation.EnforceActiveMember)
	assert.Equal(t, "5", cfg.Circulation.DailyPenaltyRate.String())
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "librarian.yaml")
	yaml := `
database:
  path: /tmp/lib.db
circulation:
  loan_period_days: 21
  max_active_loans: 3
  daily_penalty_rate: "2.50"
log:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("LIBRARY_MAX_ACTIVE_LOANS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/lib.db", cfg.Database.Path)
	assert.Equal(t, 21, cfg.Circulation.LoanPeriodDays)
	assert.Equal(t, 7, cfg.Circulation.MaxActiveLoans)
	assert.Equal(t, "2.5", cfg.Circulation.DailyPenaltyRate.String())
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero period", func(c *Config) { c.Circulation.LoanPeriodDays = 0 }, "loan_period_days"},
		{"zero limit", func(c *Config) { c.Circulation.MaxActiveLoans = 0 }, "max_active_loans"},
		{"bad rate", func(c *Config) { c.Circulation.DailyPenaltyRateRaw = "five" }, "daily_penalty_rate"},
		{"negative rate", func(c *Config) { c.Circulation.DailyPenaltyRateRaw = "-1" }, "must be positive"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"no path", func(c *Config) { c.Database.Path = " " }, "database.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LogConfig{Level: "WARN", Format: "json"})

	logger.Info("hidden")
	logger.Warn("shown", slog.Int("loan_id", 7))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"loan_id":7`)
}

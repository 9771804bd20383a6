package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Environment: EnvironmentConfig{Mode: "live", LogLevel: "info"},
		Broker:      BrokerConfig{Provider: "tradier", APIKey: "k", AccountID: "a"},
		Schedule: ScheduleConfig{
			TickInterval: "15s",
			Timezone:     "America/New_York",
			TradingStart: "09:30",
			TradingEnd:   "16:00",
		},
		Safety:  SafetyConfig{MaxOpenPositions: 5},
		Storage: StorageConfig{Path: "strategies.json"},
		Audit:   AuditConfig{Dir: "audit"},
	}
}

func TestLoad_ValidFile(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	body := `
environment: { mode: live, log_level: info }
broker: { provider: tradier, api_key: k, account_id: a }
schedule: { tick_interval: 15s, timezone: America/New_York, trading_start: "09:30", trading_end: "16:00" }
safety: { max_open_positions: 5 }
storage: { path: strategies.json }
audit: { dir: audit }
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "live", cfg.Environment.Mode)
	assert.Equal(t, 9847, cfg.StatusAPI.Port)
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	body := `
environment: { mode: live, log_level: info }
broker: { provider: tradier, api_key: k, account_id: a }
schedule: { tick_interval: 15s, trading_start: "09:30", trading_end: "16:00" }
safety: { max_open_positions: 5 }
storage: { path: strategies.json }
audit: { dir: audit }
extra_unknown_key: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_RequiresBrokerCredentialsInLiveMode(t *testing.T) {
	c := validConfig()
	c.Broker.APIKey = ""
	assert.Error(t, c.Validate())
}

func TestValidate_BacktestModeSkipsBrokerCredentials(t *testing.T) {
	c := validConfig()
	c.Environment.Mode = "backtest"
	c.Broker.APIKey = ""
	c.Broker.AccountID = ""
	assert.NoError(t, c.Validate())
}

func TestValidate_RejectsBadTickInterval(t *testing.T) {
	c := validConfig()
	c.Schedule.TickInterval = "not-a-duration"
	assert.Error(t, c.Validate())
}

func TestValidate_RequiresStoragePath(t *testing.T) {
	c := validConfig()
	c.Storage.Path = "  "
	assert.Error(t, c.Validate())
}

func TestValidate_RequiresAuditDir(t *testing.T) {
	c := validConfig()
	c.Audit.Dir = ""
	assert.Error(t, c.Validate())
}

func TestValidate_StatusAPIPortBoundsCheckedOnlyWhenEnabled(t *testing.T) {
	c := validConfig()
	c.StatusAPI.Enabled = true
	c.StatusAPI.Port = 70000
	assert.Error(t, c.Validate())

	c.StatusAPI.Enabled = false
	assert.NoError(t, c.Validate())
}

func TestNormalize_FillsDefaults(t *testing.T) {
	c := Config{}
	c.Normalize()
	assert.Equal(t, "live", c.Environment.Mode)
	assert.Equal(t, "info", c.Environment.LogLevel)
	assert.Equal(t, defaultMarketCheckInterval, c.Schedule.TickInterval)
	assert.Equal(t, defaultDuplicateWindow, c.Safety.DuplicateWindow)
	assert.Equal(t, "audit", c.Audit.Prefix)
	assert.Equal(t, defaultStatusAPIPort, c.StatusAPI.Port)
}

func TestIsWithinTradingHours(t *testing.T) {
	c := validConfig()

	tests := []struct {
		name     string
		timeStr  string
		expected bool
	}{
		{"during hours", "2026-01-05T10:00:00-05:00", true},
		{"before hours", "2026-01-05T09:00:00-05:00", false},
		{"after hours", "2026-01-05T16:30:00-05:00", false},
		{"weekend", "2026-01-03T10:00:00-05:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := time.Parse(time.RFC3339, tt.timeStr)
			require.NoError(t, err)
			within, err := c.IsWithinTradingHours(ts)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, within)
		})
	}
}

func TestIsWithinTradingHours_AfterHoursCheckBypassesWindow(t *testing.T) {
	c := validConfig()
	c.Schedule.AfterHoursCheck = true
	ts, err := time.Parse(time.RFC3339, "2026-01-05T20:00:00-05:00")
	require.NoError(t, err)
	within, err := c.IsWithinTradingHours(ts)
	require.NoError(t, err)
	assert.True(t, within)
}

// Package config loads and validates the engine's static configuration
// (§4.1, §4.2, §4.9): environment, broker, schedule, safety-gate policy,
// storage, and the read-only status API. The YAML decoding discipline
// (KnownFields, os.ExpandEnv, Normalize-then-Validate) is carried over
// unchanged from the teacher's internal/config/config.go.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by Normalize when a field is left unset.
const (
	defaultMarketCheckInterval = "15s"
	defaultDuplicateWindow     = 5 * time.Second
	defaultCallTimeout         = 5 * time.Second
	defaultAuditMaxBytes       = 64 * 1024 * 1024
	defaultStatusAPIPort       = 9847
)

// Config is the engine's complete static configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Safety      SafetyConfig      `yaml:"safety"`
	Storage     StorageConfig     `yaml:"storage"`
	Audit       AuditConfig       `yaml:"audit"`
	StatusAPI   StatusAPIConfig   `yaml:"status_api"`
}

// EnvironmentConfig selects the run mode and logging verbosity.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // live | backtest
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig configures the live broker adapter and its circuit breaker.
type BrokerConfig struct {
	Provider              string        `yaml:"provider"`
	APIKey                string        `yaml:"api_key"`
	AccountID             string        `yaml:"account_id"`
	CallTimeout           time.Duration `yaml:"call_timeout"`
	CircuitBreakerTimeout time.Duration `yaml:"circuit_breaker_timeout"`
	CircuitBreakerMinReqs uint32        `yaml:"circuit_breaker_min_requests"`
}

// ScheduleConfig defines the engine tick cadence and trading window
// (§4.1). The window is applied by IsWithinTradingHours; a strategy's
// schedule_pending state depends on its schedule_at, not on this window.
type ScheduleConfig struct {
	TickInterval    string `yaml:"tick_interval"`
	Timezone        string `yaml:"timezone"` // e.g. "America/New_York"
	TradingStart    string `yaml:"trading_start"`
	TradingEnd      string `yaml:"trading_end"`
	AfterHoursCheck bool   `yaml:"after_hours_check"`
}

// SafetyConfig maps directly onto internal/safety.Policy (§4.2).
type SafetyConfig struct {
	KillSwitch               bool    `yaml:"kill_switch"`
	MaxPositionValue         float64 `yaml:"max_position_value"`
	MaxDailyLossPct          float64 `yaml:"max_daily_loss_pct"`
	MaxOpenPositions         int     `yaml:"max_open_positions"`
	PatternDayTradeProtect   bool    `yaml:"pattern_day_trade_protect"`
	PatternDayTradeMinEquity float64 `yaml:"pattern_day_trade_min_equity"`
	DuplicateWindow          time.Duration `yaml:"duplicate_window"`
}

// StorageConfig configures the JSON strategy store (internal/store).
type StorageConfig struct {
	Path string `yaml:"path"`
}

// AuditConfig configures the append-only audit log (§4.8).
type AuditConfig struct {
	Dir      string `yaml:"dir"`
	Prefix   string `yaml:"prefix"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// StatusAPIConfig configures the read-only HTTP surface (internal/statusapi).
type StatusAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads, expands, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-provided config file
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// resolveLocation returns the configured timezone, defaulting to
// America/New_York the way the teacher's schedule config does.
func (c *Config) resolveLocation() (*time.Location, error) {
	tz := strings.TrimSpace(c.Schedule.Timezone)
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Normalize fills in defaults for unset fields, mirroring the teacher's
// Normalize-before-Validate sequencing.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Environment.Mode) == "" {
		c.Environment.Mode = "live"
	}
	if strings.TrimSpace(c.Environment.LogLevel) == "" {
		c.Environment.LogLevel = "info"
	}
	if strings.TrimSpace(c.Schedule.TickInterval) == "" {
		c.Schedule.TickInterval = defaultMarketCheckInterval
	}
	if c.Safety.DuplicateWindow == 0 {
		c.Safety.DuplicateWindow = defaultDuplicateWindow
	}
	if c.Broker.CallTimeout == 0 {
		c.Broker.CallTimeout = defaultCallTimeout
	}
	if c.Audit.MaxBytes == 0 {
		c.Audit.MaxBytes = defaultAuditMaxBytes
	}
	if strings.TrimSpace(c.Audit.Prefix) == "" {
		c.Audit.Prefix = "audit"
	}
	if c.StatusAPI.Port == 0 {
		c.StatusAPI.Port = defaultStatusAPIPort
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Environment.Mode {
	case "live", "backtest":
	default:
		return fmt.Errorf("environment.mode must be 'live' or 'backtest'")
	}

	switch strings.ToLower(c.Environment.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of: debug, info, warn, error")
	}

	if c.Environment.Mode == "live" {
		if strings.TrimSpace(c.Broker.APIKey) == "" {
			return fmt.Errorf("broker.api_key is required in live mode")
		}
		if strings.TrimSpace(c.Broker.AccountID) == "" {
			return fmt.Errorf("broker.account_id is required in live mode")
		}
	}
	if c.Broker.CallTimeout < 0 {
		return fmt.Errorf("broker.call_timeout must be >= 0")
	}

	if _, err := time.ParseDuration(c.Schedule.TickInterval); err != nil {
		return fmt.Errorf("schedule.tick_interval invalid: %w", err)
	}
	loc, err := c.resolveLocation()
	if err != nil {
		return fmt.Errorf("timezone resolution failed: %w", err)
	}
	if c.Schedule.TradingStart != "" || c.Schedule.TradingEnd != "" {
		s, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
		e, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
		if err1 != nil || err2 != nil || !s.Before(e) {
			return fmt.Errorf("schedule trading window invalid (start/end parse/order)")
		}
	}

	if c.Safety.MaxOpenPositions < 0 {
		return fmt.Errorf("safety.max_open_positions must be >= 0")
	}
	if c.Safety.DuplicateWindow < 0 {
		return fmt.Errorf("safety.duplicate_window must be >= 0")
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if strings.TrimSpace(c.Audit.Dir) == "" {
		return fmt.Errorf("audit.dir is required")
	}

	if c.StatusAPI.Enabled {
		if c.StatusAPI.Port <= 0 || c.StatusAPI.Port > 65535 {
			return fmt.Errorf("status_api.port must be between 1 and 65535")
		}
	}

	return nil
}

// TickInterval returns the parsed tick cadence, falling back to a safe
// default if somehow unparseable after Validate.
func (c *Config) TickInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.TickInterval)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// IsWithinTradingHours reports whether now falls within the configured
// trading window. Saturdays and Sundays are always outside it; on
// weekdays it is always true when AfterHoursCheck is set.
func (c *Config) IsWithinTradingHours(now time.Time) (bool, error) {
	loc, err := c.resolveLocation()
	if err != nil {
		return false, fmt.Errorf("timezone resolution failed: %w", err)
	}
	today := now.In(loc)

	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false, nil
	}
	if c.Schedule.AfterHoursCheck {
		return true, nil
	}

	startClock, err1 := time.ParseInLocation("15:04", c.Schedule.TradingStart, loc)
	endClock, err2 := time.ParseInLocation("15:04", c.Schedule.TradingEnd, loc)
	if err1 != nil || err2 != nil {
		startClock = time.Date(0, 1, 1, 9, 30, 0, 0, loc)
		endClock = time.Date(0, 1, 1, 16, 0, 0, 0, loc)
	}
	start := time.Date(today.Year(), today.Month(), today.Day(), startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(), endClock.Hour(), endClock.Minute(), 0, 0, loc)
	return !today.Before(start) && today.Before(end), nil
}

package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// ScheduleParser accepts standard five-field specs, an optional leading
// seconds field, and descriptors such as "@hourly".
var ScheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// SnapshotsEnabled reports whether a balance snapshot schedule is configured.
func (f FinanceConfig) SnapshotsEnabled() bool {
	return f.SnapshotSchedule != "" && f.SnapshotSchedule != "off"
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}
	if cfg.Gateway.SSEKeepAlive < 0 {
		add("gateway.sseKeepAlive", "must not be negative")
	}

	// Model validation
	if cfg.Models.Primary == "" {
		add("models.primary", "a primary provider is required")
	} else if _, ok := cfg.Models.Providers[cfg.Models.Primary]; !ok {
		add("models.primary", "provider %q is not defined in models.providers", cfg.Models.Primary)
	}
	for _, fb := range cfg.Models.Fallbacks {
		if _, ok := cfg.Models.Providers[fb]; !ok {
			add("models.fallbacks", "provider %q is not defined in models.providers", fb)
		}
	}
	for name, p := range cfg.Models.Providers {
		if p.Model == "" {
			add("models.providers."+name+".model", "model is required")
		}
		if p.MaxTokens < 0 {
			add("models.providers."+name+".maxTokens", "must not be negative")
		}
	}

	// Agent validation
	if cfg.Agent.MaxToolRounds < 1 {
		add("agent.maxToolRounds", "must be at least 1, got %d", cfg.Agent.MaxToolRounds)
	}
	if cfg.Agent.HistoryTurns < 0 {
		add("agent.historyTurns", "must not be negative")
	}
	if cfg.Agent.TokenBudget < 0 {
		add("agent.tokenBudget", "must not be negative")
	}
	if cfg.Agent.Timeout <= 0 {
		add("agent.timeout", "must be positive")
	}

	// Store validation
	validDrivers := []string{"sqlite", "memory"}
	if !slices.Contains(validDrivers, cfg.Store.Driver) {
		add("store.driver", "must be one of %v, got %q", validDrivers, cfg.Store.Driver)
	}

	// Finance validation
	if len(cfg.Finance.Currency) != 3 {
		add("finance.currency", "must be an ISO 4217 code, got %q", cfg.Finance.Currency)
	}
	if cfg.Finance.RecentDays < 1 {
		add("finance.recentDays", "must be at least 1")
	}
	if cfg.Finance.SnapshotsEnabled() {
		if _, err := ScheduleParser.Parse(cfg.Finance.SnapshotSchedule); err != nil {
			add("finance.snapshotSchedule", "invalid schedule: %v", err)
		}
	}

	// History validation
	if tz := cfg.History.Timezone; tz != "" && tz != "Local" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("history.timezone", "unknown timezone %q", tz)
		}
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	return issues
}

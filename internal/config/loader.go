package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	for name, provider := range cfg.Models.Providers {
		provider.APIKey = expandEnvVars(provider.APIKey)
		provider.BaseURL = expandEnvVars(provider.BaseURL)
		cfg.Models.Providers[name] = provider
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			expandSensitiveFields(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	// A configured provider map replaces the default one instead of merging.
	cfg.Models.Providers = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()

	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = def.Gateway.Bind
	}
	if cfg.Gateway.SSEKeepAlive == 0 {
		cfg.Gateway.SSEKeepAlive = def.Gateway.SSEKeepAlive
	}
	if len(cfg.Models.Providers) == 0 {
		cfg.Models.Providers = def.Models.Providers
		if cfg.Models.Primary == "" {
			cfg.Models.Primary = def.Models.Primary
		}
	}
	if cfg.Models.Primary == "" && len(cfg.Models.Providers) == 1 {
		for name := range cfg.Models.Providers {
			cfg.Models.Primary = name
		}
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = def.Agent.Name
	}
	if cfg.Agent.MaxToolRounds == 0 {
		cfg.Agent.MaxToolRounds = def.Agent.MaxToolRounds
	}
	if cfg.Agent.HistoryTurns == 0 {
		cfg.Agent.HistoryTurns = def.Agent.HistoryTurns
	}
	if cfg.Agent.Timeout == 0 {
		cfg.Agent.Timeout = def.Agent.Timeout
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Finance.Currency == "" {
		cfg.Finance.Currency = def.Finance.Currency
	}
	if cfg.Finance.RecentDays == 0 {
		cfg.Finance.RecentDays = def.Finance.RecentDays
	}
	if cfg.History.Timezone == "" {
		cfg.History.Timezone = def.History.Timezone
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = def.Logging.ConsoleStyle
	}
}

// applyEnvOverrides reads LUCAI_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LUCAI_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("LUCAI_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("LUCAI_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("LUCAI_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("LUCAI_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("LUCAI_AGENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Agent.Timeout = d
		}
	}
	if v := os.Getenv("LUCAI_TIMEZONE"); v != "" {
		cfg.History.Timezone = v
	}
	if v := os.Getenv("LUCAI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

package config

import "time"

// Config is the root configuration for LucAI.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	Models  ModelsConfig  `yaml:"models,omitempty"`
	Agent   AgentConfig   `yaml:"agent,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Finance FinanceConfig `yaml:"finance,omitempty"`
	History HistoryConfig `yaml:"history,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// GatewayConfig controls the HTTP/SSE/WebSocket server.
type GatewayConfig struct {
	Port           int           `yaml:"port,omitempty"`
	Bind           string        `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string        `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth   `yaml:"auth,omitempty"`
	TLS            GatewayTLS    `yaml:"tls,omitempty"`
	CORSOrigins    []string      `yaml:"corsOrigins,omitempty"`
	SSEKeepAlive   time.Duration `yaml:"sseKeepAlive,omitempty"`
}

// GatewayAuth configures bearer-token authentication. An empty token
// leaves the gateway open.
type GatewayAuth struct {
	Token string `yaml:"token,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// ModelsConfig names the primary provider, its fallbacks, and the
// connection settings of each.
type ModelsConfig struct {
	Primary   string                   `yaml:"primary,omitempty"`
	Fallbacks []string                 `yaml:"fallbacks,omitempty"`
	Providers map[string]ProviderEntry `yaml:"providers,omitempty"`
}

// ProviderEntry defines an OpenAI-compatible chat completions endpoint.
type ProviderEntry struct {
	BaseURL     string   `yaml:"baseUrl,omitempty"`
	APIKey      string   `yaml:"apiKey,omitempty"`
	Model       string   `yaml:"model"`
	MaxTokens   int      `yaml:"maxTokens,omitempty"`
	Temperature *float32 `yaml:"temperature,omitempty"`
}

// AgentConfig tunes the agent loop and the context builder.
type AgentConfig struct {
	Name          string        `yaml:"name,omitempty"`
	MaxToolRounds int           `yaml:"maxToolRounds,omitempty"`
	HistoryTurns  int           `yaml:"historyTurns,omitempty"`
	TokenBudget   int           `yaml:"tokenBudget,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	RestreamFinal *bool         `yaml:"restreamFinal,omitempty"` // defaults to true
	ExtraPrompt   string        `yaml:"extraPrompt,omitempty"`
}

// Restream reports whether the final answer is re-requested as a stream.
func (a AgentConfig) Restream() bool {
	return a.RestreamFinal == nil || *a.RestreamFinal
}

// StoreConfig selects the transcript and ledger backend.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`
}

// FinanceConfig controls the ledger and the summary given to the model.
type FinanceConfig struct {
	Currency         string `yaml:"currency,omitempty"`
	RecentDays       int    `yaml:"recentDays,omitempty"`
	SnapshotSchedule string `yaml:"snapshotSchedule,omitempty"` // cron spec, "" or "off" disables
}

// HistoryConfig controls day grouping of the transcript.
type HistoryConfig struct {
	Timezone string `yaml:"timezone,omitempty"`
}

// Location resolves the configured timezone, falling back to local time.
func (h HistoryConfig) Location() *time.Location {
	if h.Timezone == "" || h.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

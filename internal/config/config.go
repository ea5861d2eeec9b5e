package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultPort          = 8080
	DefaultAgentName     = "LucAI"
	DefaultMaxToolRounds = 3
	DefaultHistoryTurns  = 10
	DefaultTokenBudget   = 6000
	DefaultAgentTimeout  = 2 * time.Minute
	DefaultSSEKeepAlive  = 15 * time.Second
	DefaultCurrency      = "BRL"
	DefaultRecentDays    = 30
	DefaultSnapshotSpec  = "@hourly"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port:         DefaultPort,
			Bind:         "loopback",
			SSEKeepAlive: DefaultSSEKeepAlive,
		},
		Models: ModelsConfig{
			Primary: "openai",
			Providers: map[string]ProviderEntry{
				"openai": {Model: "gpt-4o-mini", APIKey: "${OPENAI_API_KEY}"},
			},
		},
		Agent: AgentConfig{
			Name:          DefaultAgentName,
			MaxToolRounds: DefaultMaxToolRounds,
			HistoryTurns:  DefaultHistoryTurns,
			TokenBudget:   DefaultTokenBudget,
			Timeout:       DefaultAgentTimeout,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Finance: FinanceConfig{
			Currency:         DefaultCurrency,
			RecentDays:       DefaultRecentDays,
			SnapshotSchedule: DefaultSnapshotSpec,
		},
		History: HistoryConfig{
			Timezone: "Local",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}

package cli

import (
	"fmt"

	"github.com/soyeahso/lucai/internal/agent"
	"github.com/soyeahso/lucai/internal/config"
	"github.com/soyeahso/lucai/internal/finance"
	"github.com/soyeahso/lucai/internal/gateway"
	"github.com/soyeahso/lucai/internal/llm"
	"github.com/soyeahso/lucai/internal/logging"
	"github.com/soyeahso/lucai/internal/metrics"
	"github.com/soyeahso/lucai/internal/store"
	"github.com/soyeahso/lucai/internal/tools"
	"github.com/soyeahso/lucai/internal/transcript"
)

// ledger is what the server needs from a finance backend.
type ledger interface {
	finance.Service
	finance.SnapshotSource
}

// app is the fully wired server process.
type app struct {
	cfg         config.Config
	db          *store.DB
	ledger      ledger
	transcripts transcript.Store
	metrics     *metrics.Metrics
	runner      *agent.Runner
	snapshots   *finance.Snapshotter
	server      *gateway.Server
}

// newApp wires config → store → agent → gateway. The caller must Close it.
func newApp(cfg config.Config, paths config.Paths, log *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	switch cfg.Store.Driver {
	case "memory":
		a.ledger = finance.NewMemoryLedger(cfg.Finance.Currency, cfg.Finance.RecentDays)
		a.transcripts = transcript.NewMemoryStore()
		log.Warn().Msg("using in-memory store, nothing survives a restart")
	default:
		path := cfg.Store.Path
		if path == "" {
			path = paths.DatabasePath()
		}
		db, err := store.Open(path, log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.db = db
		a.ledger = store.NewLedger(db, cfg.Finance.Currency, cfg.Finance.RecentDays)
		a.transcripts = store.NewTranscriptStore(db)
	}

	loc := cfg.History.Location()

	registry := llm.NewRegistryFromConfig(cfg.Models, log)
	if providers := registry.List(); len(providers) > 0 {
		primary := cfg.Models.Providers[cfg.Models.Primary]
		client := agent.NewFailoverClient(registry, cfg.Models.Primary, cfg.Models.Fallbacks, a.metrics, log)

		exec, err := tools.NewExecutor(a.ledger, cfg.Finance.Currency, loc, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("building tool executor: %w", err)
		}
		builder := agent.NewContextBuilder(agent.ContextConfig{
			AgentName:    cfg.Agent.Name,
			Currency:     cfg.Finance.Currency,
			HistoryTurns: cfg.Agent.HistoryTurns,
			TokenBudget:  cfg.Agent.TokenBudget,
			ExtraPrompt:  cfg.Agent.ExtraPrompt,
			Location:     loc,
		}, a.transcripts, a.ledger, llm.NewTokenCounter(primary.Model, log), log)

		a.runner = agent.NewRunner(agent.RunnerConfig{
			MaxToolRounds: cfg.Agent.MaxToolRounds,
			Timeout:       cfg.Agent.Timeout,
			RestreamFinal: cfg.Agent.Restream(),
			MaxTokens:     primary.MaxTokens,
			Temperature:   primary.Temperature,
		}, client, builder, exec, a.transcripts, a.metrics, log)

		log.Info().
			Strs("providers", providers).
			Str("primary", cfg.Models.Primary).
			Strs("fallbacks", cfg.Models.Fallbacks).
			Msg("LLM providers available")
	} else {
		log.Warn().Msg("no LLM providers configured, /agent will be unavailable")
	}

	if cfg.Finance.SnapshotsEnabled() {
		a.snapshots = finance.NewSnapshotter(a.ledger, log)
		a.snapshots.OnSnapshot(a.metrics.Snapshot)
	}

	opts := []gateway.ServerOption{
		gateway.WithTranscripts(a.transcripts),
		gateway.WithMetrics(a.metrics),
		gateway.WithLocation(loc),
	}
	if a.runner != nil {
		opts = append(opts, gateway.WithAgent(a.runner))
	}
	a.server = gateway.New(cfg.Gateway, log, opts...)
	return a, nil
}

// startBackground starts scheduled jobs.
func (a *app) startBackground() error {
	if a.snapshots == nil {
		return nil
	}
	return a.snapshots.Start(a.cfg.Finance.SnapshotSchedule)
}

// Close stops background jobs and releases the database.
func (a *app) Close() error {
	if a.snapshots != nil {
		a.snapshots.Stop()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/lucai/internal/finance"
	"github.com/soyeahso/lucai/internal/llm"
	"github.com/soyeahso/lucai/internal/logging"
	"github.com/soyeahso/lucai/internal/transcript"
)

// SummarySource computes a user's financial summary. finance.Service
// satisfies it.
type SummarySource interface {
	Summary(ctx context.Context, userID string) (finance.Summary, error)
}

// ContextConfig configures prompt assembly.
type ContextConfig struct {
	AgentName    string
	Currency     string
	HistoryTurns int
	TokenBudget  int // 0 disables trimming
	ExtraPrompt  string
	Location     *time.Location
}

// ContextBuilder assembles the message sequence for one exchange.
type ContextBuilder struct {
	cfg         ContextConfig
	transcripts transcript.Store
	summaries   SummarySource
	counter     llm.TokenCounter
	now         func() time.Time
	log         *logging.Logger
}

// NewContextBuilder creates a builder. counter may be nil when no token
// budget is configured.
func NewContextBuilder(cfg ContextConfig, transcripts transcript.Store, summaries SummarySource, counter llm.TokenCounter, log *logging.Logger) *ContextBuilder {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if counter == nil {
		counter = llm.EstimateCounter{}
	}
	return &ContextBuilder{
		cfg:         cfg,
		transcripts: transcripts,
		summaries:   summaries,
		counter:     counter,
		now:         time.Now,
		log:         log.Sub("context"),
	}
}

// Build returns [system, history pairs oldest first..., user prompt].
// A failing summary is left out of the prompt; a failing transcript read
// fails the build.
func (b *ContextBuilder) Build(ctx context.Context, userID, prompt string) ([]llm.Message, error) {
	log := b.log.With("userId", userID)

	pc := PromptConfig{
		AgentName:   b.cfg.AgentName,
		Now:         b.now().In(b.cfg.Location),
		Currency:    b.cfg.Currency,
		ExtraPrompt: b.cfg.ExtraPrompt,
	}

	if b.summaries != nil {
		sum, err := b.summaries.Summary(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Msg("financial summary unavailable, continuing without it")
		} else {
			pc.Summary = sum.Render()
		}
	}

	ltc, err := b.transcripts.LongTermContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load long-term context: %w", err)
	}
	if !transcript.IsEmptyContext(ltc) {
		pc.LongTermContext = string(ltc)
	}

	var turns []transcript.Turn
	if b.cfg.HistoryTurns > 0 {
		turns, err = b.transcripts.Recent(ctx, userID, b.cfg.HistoryTurns)
		if err != nil {
			return nil, fmt.Errorf("load history: %w", err)
		}
	}

	system := llm.Message{Role: llm.RoleSystem, Content: BuildSystemPrompt(pc)}
	user := llm.Message{Role: llm.RoleUser, Content: prompt}

	history := make([]llm.Message, 0, 2*len(turns))
	for _, t := range turns {
		history = append(history,
			llm.Message{Role: llm.RoleUser, Content: t.UserMessage},
			llm.Message{Role: llm.RoleAssistant, Content: t.AIResponse},
		)
	}

	if b.cfg.TokenBudget > 0 {
		before := len(history) / 2
		history = b.trim(system, history, user)
		if dropped := before - len(history)/2; dropped > 0 {
			log.Debug().Int("dropped", dropped).Int("budget", b.cfg.TokenBudget).Msg("trimmed history to token budget")
		}
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, system)
	msgs = append(msgs, history...)
	msgs = append(msgs, user)
	return msgs, nil
}

// trim drops the oldest user/assistant pairs until the prompt fits the
// budget. The system and new user messages always stay.
func (b *ContextBuilder) trim(system llm.Message, history []llm.Message, user llm.Message) []llm.Message {
	fixed := llm.CountMessagesTokens(b.counter, []llm.Message{system, user})
	total := fixed
	for _, m := range history {
		total += llm.CountMessageTokens(b.counter, m)
	}
	for total > b.cfg.TokenBudget && len(history) >= 2 {
		total -= llm.CountMessageTokens(b.counter, history[0]) + llm.CountMessageTokens(b.counter, history[1])
		history = history[2:]
	}
	return history
}

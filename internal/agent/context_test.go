package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/soyeahso/lucai/internal/finance"
	"github.com/soyeahso/lucai/internal/llm"
	"github.com/soyeahso/lucai/internal/logging"
	"github.com/soyeahso/lucai/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(io.Discard, "silent")
}

var fixedNow = time.Date(2025, 10, 24, 12, 0, 0, 0, time.UTC)

type failingSummary struct{}

func (failingSummary) Summary(ctx context.Context, userID string) (finance.Summary, error) {
	return finance.Summary{}, errors.New("ledger offline")
}

func newBuilder(store transcript.Store, sums SummarySource, cfg ContextConfig) *ContextBuilder {
	if cfg.AgentName == "" {
		cfg.AgentName = "LucAI"
	}
	cfg.Location = time.UTC
	b := NewContextBuilder(cfg, store, sums, llm.EstimateCounter{}, silentLog())
	b.now = func() time.Time { return fixedNow }
	return b
}

func seedTurns(t *testing.T, store transcript.Store, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, store.Append(context.Background(), userID, transcript.Turn{
			UserMessage: fmt.Sprintf("question %d", i),
			AIResponse:  fmt.Sprintf("answer %d", i),
			Timestamp:   fixedNow.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(PromptConfig{
		AgentName:       "LucAI",
		Now:             fixedNow,
		Currency:        "BRL",
		Summary:         "User financial summary (BRL):\n- Current balance: 10.00\n",
		LongTermContext: `{"goal":"save for a trip"}`,
		ExtraPrompt:     "Be brief.",
	})
	assert.Contains(t, prompt, "You are LucAI")
	assert.Contains(t, prompt, "Fri, 24 Oct 2025")
	assert.Contains(t, prompt, "FOOD_AND_DINING")
	assert.Contains(t, prompt, "GOVERNMENT_BENEFITS")
	assert.Contains(t, prompt, "createExpense or createIncome")
	assert.Contains(t, prompt, "respond in the user's language")
	assert.Contains(t, prompt, "Current balance: 10.00")
	assert.Contains(t, prompt, "save for a trip")
	assert.Contains(t, prompt, "Be brief.")
}

func TestBuildSystemPromptMinimal(t *testing.T) {
	prompt := BuildSystemPrompt(PromptConfig{AgentName: "LucAI", Now: fixedNow})
	assert.NotContains(t, prompt, "What you know about this user")
	assert.NotContains(t, prompt, "Amounts are in")
}

func TestContextBuild_Order(t *testing.T) {
	store := transcript.NewMemoryStore()
	seedTurns(t, store, "u1", 12)
	ledger := finance.NewMemoryLedger("BRL", 30)
	_, err := ledger.CreateIncome(context.Background(), "u1", "c1", finance.Fields{
		Title: "Salary", Category: "SALARY", Amount: decimal.NewFromInt(3000), TransactionDate: fixedNow,
	})
	require.NoError(t, err)

	b := newBuilder(store, ledger, ContextConfig{HistoryTurns: 10, Currency: "BRL"})
	msgs, err := b.Build(context.Background(), "u1", "how much did I earn?")
	require.NoError(t, err)

	require.Len(t, msgs, 1+20+1)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "3000")

	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "question 2"}, msgs[1])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "answer 2"}, msgs[2])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "answer 11"}, msgs[20])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "how much did I earn?"}, msgs[21])
}

func TestContextBuild_NewUser(t *testing.T) {
	b := newBuilder(transcript.NewMemoryStore(), finance.NewMemoryLedger("BRL", 30), ContextConfig{HistoryTurns: 10})
	msgs, err := b.Build(context.Background(), "fresh", "hi")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "No transactions registered yet")
	assert.NotContains(t, msgs[0].Content, "What you know about this user")
}

func TestContextBuild_SummaryFailureIsOmitted(t *testing.T) {
	b := newBuilder(transcript.NewMemoryStore(), failingSummary{}, ContextConfig{HistoryTurns: 10})
	msgs, err := b.Build(context.Background(), "u1", "hi")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.NotContains(t, msgs[0].Content, "financial summary")
}

func TestContextBuild_LongTermContext(t *testing.T) {
	store := transcript.NewMemoryStore()
	require.NoError(t, store.SetLongTermContext(context.Background(), "u1", json.RawMessage(`{"payday":"5th"}`)))

	b := newBuilder(store, nil, ContextConfig{HistoryTurns: 10})
	msgs, err := b.Build(context.Background(), "u1", "hi")
	require.NoError(t, err)
	assert.Contains(t, msgs[0].Content, `{"payday":"5th"}`)
}

func TestContextBuild_TokenBudgetDropsOldestPairs(t *testing.T) {
	store := transcript.NewMemoryStore()
	seedTurns(t, store, "u1", 5)

	full, err := newBuilder(store, nil, ContextConfig{HistoryTurns: 10}).Build(context.Background(), "u1", "next")
	require.NoError(t, err)
	require.Len(t, full, 12)

	// Room for the fixed messages plus exactly the newest pair.
	var c llm.EstimateCounter
	budget := llm.CountMessagesTokens(c, []llm.Message{full[0], full[11]}) +
		llm.CountMessageTokens(c, full[9]) + llm.CountMessageTokens(c, full[10])

	trimmed, err := newBuilder(store, nil, ContextConfig{HistoryTurns: 10, TokenBudget: budget}).Build(context.Background(), "u1", "next")
	require.NoError(t, err)
	require.Len(t, trimmed, 4)
	assert.Equal(t, "question 4", trimmed[1].Content)
	assert.Equal(t, "answer 4", trimmed[2].Content)
	assert.Equal(t, "next", trimmed[3].Content)

	// A budget smaller than the fixed messages keeps them anyway.
	tiny, err := newBuilder(store, nil, ContextConfig{HistoryTurns: 10, TokenBudget: 1}).Build(context.Background(), "u1", "next")
	require.NoError(t, err)
	require.Len(t, tiny, 2)
	assert.Equal(t, llm.RoleSystem, tiny[0].Role)
	assert.Equal(t, "next", tiny[1].Content)
}

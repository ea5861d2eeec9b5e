package gateway

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/lucai/internal/agent"
	"github.com/soyeahso/lucai/internal/consumer"
	"github.com/soyeahso/lucai/internal/domain"
	"github.com/soyeahso/lucai/internal/finance"
	"github.com/soyeahso/lucai/internal/llm"
	"github.com/soyeahso/lucai/internal/metrics"
	"github.com/soyeahso/lucai/internal/tools"
	"github.com/soyeahso/lucai/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A prompt travels client → gateway → agent loop → tool → ledger, and the
// streamed confirmation comes back through the SSE decoder intact.
func TestEndToEndExpenseOverSSE(t *testing.T) {
	var completes atomic.Int32
	client := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if completes.Add(1) == 1 {
				return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{
					ID:        "call_1",
					Name:      "createExpense",
					Arguments: `{"title":"Burger","category":"FOOD_AND_DINING","amount":12,"transactionDate":"2025-10-24"}`,
				}}, StopReason: "tool_calls"}, nil
			}
			return &llm.CompletionResponse{Content: "Got it, I've logged that.", StopReason: "stop"}, nil
		},
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			return llm.StreamOf("Got it", ", I've", " logged", " that."), nil
		},
	}

	ledger := finance.NewMemoryLedger("BRL", 30)
	store := transcript.NewMemoryStore()
	m := metrics.New()

	exec, err := tools.NewExecutor(ledger, "BRL", time.UTC, testLog())
	require.NoError(t, err)
	builder := agent.NewContextBuilder(agent.ContextConfig{
		AgentName:    "LucAI",
		Currency:     "BRL",
		HistoryTurns: 10,
		TokenBudget:  6000,
		Location:     time.UTC,
	}, store, ledger, llm.EstimateCounter{}, testLog())
	runner := agent.NewRunner(agent.RunnerConfig{
		MaxToolRounds: 3,
		Timeout:       5 * time.Second,
		RestreamFinal: true,
	}, client, builder, exec, store, m, testLog())

	_, ts := testServer(t, "secret", nil,
		WithAgent(runner), WithTranscripts(store), WithMetrics(m), WithLocation(time.UTC))

	api := consumer.NewClient(ts.URL, "secret", testLog())
	var phases []consumer.Phase
	st, err := api.Send(context.Background(), domain.ChatRequest{Prompt: "I spent $12 on a burger", UserID: "u1"}, func(s consumer.State) {
		phases = append(phases, s.Phase)
	})
	require.NoError(t, err)
	assert.Equal(t, consumer.State{Phase: consumer.PhaseSettled, Text: "Got it, I've logged that."}, st)
	assert.Equal(t, consumer.PhaseConnecting, phases[0])
	assert.Equal(t, consumer.PhaseStreaming, phases[1])
	assert.Equal(t, consumer.PhaseSettled, phases[len(phases)-1])

	recs := ledger.Records("u1")
	require.Len(t, recs, 1)
	assert.Equal(t, "Burger", recs[0].Title)

	hist, err := api.History(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, hist.ConversationHistory, 1)
	assert.Equal(t, "Got it, I've logged that.", hist.ConversationHistory[0].AIResponse)

	days, err := api.Days(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, days.Days, 1)
	assert.Len(t, days.Days[0].Turns, 1)
}

// A provider failure reaches the client as the apology, and nothing is stored.
func TestEndToEndProviderFailure(t *testing.T) {
	client := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, &llm.ProviderError{Provider: "mock", Message: "upstream exploded", Code: 500}
		},
	}
	store := transcript.NewMemoryStore()
	ledger := finance.NewMemoryLedger("BRL", 30)
	exec, err := tools.NewExecutor(ledger, "BRL", time.UTC, testLog())
	require.NoError(t, err)
	builder := agent.NewContextBuilder(agent.ContextConfig{HistoryTurns: 10, Location: time.UTC}, store, ledger, llm.EstimateCounter{}, testLog())
	runner := agent.NewRunner(agent.RunnerConfig{MaxToolRounds: 3, Timeout: 5 * time.Second, RestreamFinal: true},
		client, builder, exec, store, nil, testLog())

	_, ts := testServer(t, "", nil, WithAgent(runner), WithTranscripts(store))

	st, err := consumer.NewClient(ts.URL, "", testLog()).
		Send(context.Background(), domain.ChatRequest{Prompt: "hi", UserID: "u2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, consumer.PhaseErrored, st.Phase)
	assert.Equal(t, domain.MsgClientApology, st.Text)
	assert.Equal(t, domain.MsgStreamFailed, st.Cause)
	assert.NotContains(t, st.Cause, "exploded")

	_, err = store.Get(context.Background(), "u2")
	assert.ErrorIs(t, err, transcript.ErrNotFound)
}

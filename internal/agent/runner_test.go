package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/soyeahso/lucai/internal/domain"
	"github.com/soyeahso/lucai/internal/finance"
	"github.com/soyeahso/lucai/internal/llm"
	"github.com/soyeahso/lucai/internal/metrics"
	"github.com/soyeahso/lucai/internal/tools"
	"github.com/soyeahso/lucai/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	runner  *Runner
	ledger  *finance.MemoryLedger
	store   *transcript.MemoryStore
	metrics *metrics.Metrics

	mu     sync.Mutex
	events []domain.StreamEvent
	states []State
}

func newFixture(t *testing.T, client llm.Client, cfg RunnerConfig) *fixture {
	t.Helper()
	f := &fixture{
		ledger:  finance.NewMemoryLedger("BRL", 30),
		store:   transcript.NewMemoryStore(),
		metrics: metrics.New(),
	}
	exec, err := tools.NewExecutor(f.ledger, "BRL", time.UTC, silentLog())
	require.NoError(t, err)

	builder := newBuilder(f.store, f.ledger, ContextConfig{HistoryTurns: 10, Currency: "BRL"})
	f.runner = NewRunner(cfg, client, builder, exec, f.store, f.metrics, silentLog())
	f.runner.now = func() time.Time { return fixedNow }
	f.runner.onState = func(s State) {
		f.mu.Lock()
		f.states = append(f.states, s)
		f.mu.Unlock()
	}
	return f
}

func (f *fixture) emit(ev domain.StreamEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fixture) turns(t *testing.T, userID string) []transcript.Turn {
	t.Helper()
	turns, err := f.store.Recent(context.Background(), userID, 100)
	require.NoError(t, err)
	return turns
}

func defaultConfig() RunnerConfig {
	return RunnerConfig{MaxToolRounds: 3, Timeout: 5 * time.Second, RestreamFinal: true}
}

func expenseCall(id string) llm.ToolCall {
	return llm.ToolCall{
		ID:        id,
		Name:      "createExpense",
		Arguments: `{"title":"Burger","category":"FOOD_AND_DINING","amount":12,"transactionDate":"2025-10-24"}`,
	}
}

// A prompt that registers an expense streams the confirmation and stores
// exactly that text.
func TestRunStream_ToolCallThenStreamedAnswer(t *testing.T) {
	var completeReqs []llm.CompletionRequest
	var streamReq llm.CompletionRequest

	client := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			completeReqs = append(completeReqs, req)
			if len(completeReqs) == 1 {
				return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{expenseCall("call_1")}, StopReason: "tool_calls"}, nil
			}
			return &llm.CompletionResponse{Content: "Got it, I've logged that.", StopReason: "stop"}, nil
		},
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			streamReq = req
			return llm.StreamOf("Got it", ", I've", " logged", " that."), nil
		},
	}

	f := newFixture(t, client, defaultConfig())
	err := f.runner.RunStream(context.Background(), domain.ChatRequest{Prompt: "I spent $12 on a burger", UserID: "u1"}, f.emit)
	require.NoError(t, err)

	assert.Equal(t, []domain.StreamEvent{
		domain.Delta("Got it"),
		domain.Delta(", I've"),
		domain.Delta(" logged"),
		domain.Delta(" that."),
		domain.Done(),
	}, f.events)

	turns := f.turns(t, "u1")
	require.Len(t, turns, 1)
	assert.Equal(t, "I spent $12 on a burger", turns[0].UserMessage)
	assert.Equal(t, "Got it, I've logged that.", turns[0].AIResponse)

	recs := f.ledger.Records("u1")
	require.Len(t, recs, 1)
	assert.Equal(t, "Burger", recs[0].Title)
	assert.Equal(t, "call_1", recs[0].ToolCallID)

	// The second model call sees the tool call and its result, in order.
	require.Len(t, completeReqs, 2)
	assert.Len(t, completeReqs[0].Tools, 2)
	assert.Equal(t, llm.ToolChoiceAuto, completeReqs[0].ToolChoice)
	msgs := completeReqs[1].Messages
	n := len(msgs)
	assert.Equal(t, llm.RoleAssistant, msgs[n-2].Role)
	assert.Equal(t, "call_1", msgs[n-2].ToolCalls[0].ID)
	assert.Equal(t, llm.RoleTool, msgs[n-1].Role)
	assert.Equal(t, "call_1", msgs[n-1].ToolCallID)
	assert.Contains(t, msgs[n-1].Content, `"ok":true`)

	assert.Equal(t, llm.ToolChoiceNone, streamReq.ToolChoice)

	assert.Equal(t, []State{
		StateBuildingContext,
		StateAwaitingModel,
		StateToolRequested,
		StateExecutingTool,
		StateAwaitingModel,
		StateStreamingFinal,
		StatePersisting,
		StateDone,
	}, f.states)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Exchanges.WithLabelValues(OutcomeDone)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ToolCalls.WithLabelValues("createExpense", "ok")))
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.Deltas))
}

// A provider failure while awaiting the model yields a single error event
// and nothing is stored.
func TestRunStream_ProviderFailure(t *testing.T) {
	client := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, &llm.ProviderError{Provider: "mock", Message: "dial tcp: connection refused"}
		},
	}

	f := newFixture(t, client, defaultConfig())
	err := f.runner.RunStream(context.Background(), domain.ChatRequest{Prompt: "hello", UserID: "u1"}, f.emit)

	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []domain.StreamEvent{domain.Failure(domain.MsgStreamFailed)}, f.events)
	assert.Empty(t, f.turns(t, "u1"))
	assert.Equal(t, StateError, f.states[len(f.states)-1])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Exchanges.WithLabelValues(OutcomeError)))
}

func TestRunStream_ErrorInsideStream(t *testing.T) {
	client := &llm.MockClient{
		ProviderName: "mock",
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			ch := make(chan llm.StreamEvent, 2)
			ch <- llm.StreamEvent{Type: llm.EventDelta, Content: "Hel"}
			ch <- llm.StreamEvent{Type: llm.EventError, Error: "connection reset"}
			close(ch)
			return ch, nil
		},
	}

	f := newFixture(t, client, defaultConfig())
	err := f.runner.RunStream(context.Background(), domain.ChatRequest{Prompt: "hello", UserID: "u1"}, f.emit)
	require.Error(t, err)

	assert.Equal(t, []domain.StreamEvent{
		domain.Delta("Hel"),
		domain.Failure(domain.MsgStreamFailed),
	}, f.events)
	assert.Empty(t, f.turns(t, "u1"))
}

func TestRunStream_StreamClosedWithoutDone(t *testing.T) {
	client := &llm.MockClient{
		ProviderName: "mock",
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			ch := make(chan llm.StreamEvent, 1)
			ch <- llm.StreamEvent{Type: llm.EventDelta, Content: "partial"}
			close(ch)
			return ch, nil
		},
	}

	f := newFixture(t, client, defaultConfig())
	require.Error(t, f.runner.RunStream(context.Background(), domain.ChatRequest{Prompt: "hello", UserID: "u1"}, f.emit))
	assert.Equal(t, domain.Failure(domain.MsgStreamFailed), f.events[len(f.events)-1])
	assert.Empty(t, f.turns(t, "u1"))
}

// A model that keeps requesting tools is stopped after the configured
// number of rounds.
func TestRunStream_ToolRoundCap(t *testing.T) {
	calls := 0
	client := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			calls++
			return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{expenseCall(fmt.Sprintf("call_%d", calls))}}, nil
		},
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			t.Fatal("final answer must not be streamed")
			return nil, nil
		},
	}

	for _, rounds := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("cap=%d", rounds), func(t *testing.T) {
			calls = 0
			cfg := defaultConfig()
			cfg.MaxToolRounds = rounds
			f := newFixture(t, client, cfg)

			err := f.runner.RunStream(context.Background(), domain.ChatRequest{Prompt: "log it", UserID: "u1"}, f.emit)
			require.ErrorIs(t, err, ErrToolLimit)

			assert.Equal(t, rounds+1, calls)
			assert.Len(t, f.ledger.Records("u1"), rounds)
			assert.Equal(t, []domain.StreamEvent{domain.Failure(domain.MsgTooManyTools)}, f.events)
			assert.Empty(t, f.turns(t, "u1"))
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Exchanges.WithLabelValues(OutcomeToolLimit)))
		})
	}
}

// Invalid arguments are reported back to the model rather than failing
// the exchange.
func TestRunStream_InvalidToolArgumentsFedBack(t *testing.T) {
	var toolMsg llm.Message
	round := 0
	client := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			round++
			if round == 1 {
				return &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{
					ID: "call_x", Name: "createIncome",
					Arguments: `{"title":"Gift","category":"GROCERIES","amount":50,"transactionDate":"2025-10-24"}`,
				}}}, nil
			}
			toolMsg = req.Messages[len(req.Messages)-1]
			return &llm.CompletionResponse{Content: "Which income category?"}, nil
		},
	}

	cfg := defaultConfig()
	cfg.RestreamFinal = false
	f := newFixture(t, client, cfg)
	require.NoError(t, f.runner.RunStream(context.Background(), domain.ChatRequest{Prompt: "got 50 as a gift", UserID: "u1"}, f.emit))

	assert.Equal(t, "call_x", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, `"ok":false`)
	assert.Contains(t, toolMsg.Content, "category")
	assert.Empty(t, f.ledger.Records("u1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ToolCalls.WithLabelValues("createIncome", "invalid")))
}

func TestRunStream_WithoutRestream(t *testing.T) {
	client := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "Your balance is 10.00"}, nil
		},
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			t.Fatal("stream must not be opened")
			return nil, nil
		},
	}

	cfg := defaultConfig()
	cfg.RestreamFinal = false
	f := newFixture(t, client, cfg)
	require.NoError(t, f.runner.RunStream(context.Background(), domain.ChatRequest{Prompt: "balance?", UserID: "u1"}, f.emit))

	assert.Equal(t, []domain.StreamEvent{domain.Delta("Your balance is 10.00"), domain.Done()}, f.events)
	turns := f.turns(t, "u1")
	require.Len(t, turns, 1)
	assert.Equal(t, "Your balance is 10.00", turns[0].AIResponse)
}

func TestRunStream_EmptyAnswerIsError(t *testing.T) {
	tests := []struct {
		name     string
		restream bool
		stream   func() <-chan llm.StreamEvent
	}{
		{name: "buffered completion", restream: false},
		{name: "restream without deltas", restream: true, stream: func() <-chan llm.StreamEvent { return llm.StreamOf() }},
		{name: "restream of whitespace", restream: true, stream: func() <-chan llm.StreamEvent { return llm.StreamOf("  ", "\n") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &llm.MockClient{
				ProviderName: "mock",
				CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
					return &llm.CompletionResponse{Content: ""}, nil
				},
				StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
					if tt.stream == nil {
						t.Fatal("stream must not be opened")
					}
					return tt.stream(), nil
				},
			}

			cfg := defaultConfig()
			cfg.RestreamFinal = tt.restream
			f := newFixture(t, client, cfg)
			err := f.runner.RunStream(context.Background(), domain.ChatRequest{Prompt: "hi", UserID: "u1"}, f.emit)

			var pe *llm.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "empty answer", pe.Message)
			require.NotEmpty(t, f.events)
			assert.Equal(t, domain.Failure(domain.MsgStreamFailed), f.events[len(f.events)-1])
			for _, ev := range f.events {
				assert.NotEqual(t, domain.EventDone, ev.Type)
			}
			assert.Empty(t, f.turns(t, "u1"))
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Exchanges.WithLabelValues(OutcomeError)))
		})
	}
}

func TestRunStream_HistoryFeedsNextExchange(t *testing.T) {
	var last llm.CompletionRequest
	client := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			last = req
			return &llm.CompletionResponse{Content: "ok"}, nil
		},
	}
	cfg := defaultConfig()
	cfg.RestreamFinal = false
	f := newFixture(t, client, cfg)

	require.NoError(t, f.runner.RunStream(context.Background(), domain.ChatRequest{Prompt: "first", UserID: "u1"}, f.emit))
	require.NoError(t, f.runner.RunStream(context.Background(), domain.ChatRequest{Prompt: "second", UserID: "u1"}, f.emit))

	require.Len(t, last.Messages, 4)
	assert.Equal(t, "first", last.Messages[1].Content)
	assert.Equal(t, "ok", last.Messages[2].Content)
	assert.Equal(t, "second", last.Messages[3].Content)
	assert.Len(t, f.turns(t, "u1"), 2)
}

// A client that goes away mid-stream gets no further events and nothing
// is stored.
func TestRunStream_ClientDisconnect(t *testing.T) {
	client := &llm.MockClient{ProviderName: "mock"}
	f := newFixture(t, client, defaultConfig())

	sent := 0
	emit := func(ev domain.StreamEvent) error {
		sent++
		if sent > 1 {
			return errors.New("write: broken pipe")
		}
		return f.emit(ev)
	}

	err := f.runner.RunStream(context.Background(), domain.ChatRequest{Prompt: "hi", UserID: "u1"}, emit)
	require.ErrorIs(t, err, ErrDisconnected)
	assert.Len(t, f.events, 1)
	assert.Empty(t, f.turns(t, "u1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Exchanges.WithLabelValues(OutcomeCancelled)))
}

func TestRunStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			cancel()
			return nil, ctx.Err()
		},
	}
	f := newFixture(t, client, defaultConfig())

	err := f.runner.RunStream(ctx, domain.ChatRequest{Prompt: "hi", UserID: "u1"}, f.emit)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.events)
	assert.Empty(t, f.turns(t, "u1"))
}

func TestRunStream_Timeout(t *testing.T) {
	client := &llm.MockClient{
		ProviderName: "mock",
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	cfg := defaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	f := newFixture(t, client, cfg)

	err := f.runner.RunStream(context.Background(), domain.ChatRequest{Prompt: "hi", UserID: "u1"}, f.emit)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []domain.StreamEvent{domain.Failure(domain.MsgRequestTimeout)}, f.events)
	assert.Empty(t, f.turns(t, "u1"))
}

func TestRunStream_RejectsIncompleteRequest(t *testing.T) {
	f := newFixture(t, &llm.MockClient{ProviderName: "mock"}, defaultConfig())
	err := f.runner.RunStream(context.Background(), domain.ChatRequest{Prompt: "  ", UserID: "u1"}, f.emit)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "prompt"))
	assert.Empty(t, f.events)
	assert.Empty(t, f.states)
}

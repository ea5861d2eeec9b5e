// Package agent runs one conversational exchange: it builds the prompt,
// lets the model call ledger tools, streams the final answer and stores
// the completed turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/lucai/internal/domain"
	"github.com/soyeahso/lucai/internal/llm"
	"github.com/soyeahso/lucai/internal/logging"
	"github.com/soyeahso/lucai/internal/metrics"
	"github.com/soyeahso/lucai/internal/tools"
	"github.com/soyeahso/lucai/internal/transcript"
)

// State is a step of the exchange state machine.
type State string

const (
	StateBuildingContext State = "BUILDING_CONTEXT"
	StateAwaitingModel   State = "AWAITING_MODEL"
	StateToolRequested   State = "TOOL_REQUESTED"
	StateExecutingTool   State = "EXECUTING_TOOL"
	StateStreamingFinal  State = "STREAMING_FINAL"
	StatePersisting      State = "PERSISTING"
	StateDone            State = "DONE"
	StateError           State = "ERROR"
)

// Outcome labels recorded per exchange.
const (
	OutcomeDone      = "done"
	OutcomeError     = "error"
	OutcomeToolLimit = "tool_limit"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

var (
	// ErrToolLimit is returned when the model still requests tools after
	// the configured number of rounds.
	ErrToolLimit = errors.New("tool round limit exceeded")

	// ErrDisconnected is returned when the emitter rejects an event.
	ErrDisconnected = errors.New("client disconnected")
)

const persistTimeout = 10 * time.Second

// ToolExecutor runs model tool calls. *tools.Executor satisfies it.
type ToolExecutor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, req tools.Request, userID string) tools.Result
}

// RunnerConfig configures the agent runner.
type RunnerConfig struct {
	MaxToolRounds int
	Timeout       time.Duration // 0 means no deadline beyond the caller's
	RestreamFinal bool
	MaxTokens     int
	Temperature   *float32
}

// Runner is the agent orchestration loop.
type Runner struct {
	cfg         RunnerConfig
	client      llm.Client
	builder     *ContextBuilder
	tools       ToolExecutor
	transcripts transcript.Store
	metrics     *metrics.Metrics
	now         func() time.Time
	onState     func(State)
	log         *logging.Logger
}

// NewRunner creates an agent runner. m may be nil.
func NewRunner(
	cfg RunnerConfig,
	client llm.Client,
	builder *ContextBuilder,
	exec ToolExecutor,
	transcripts transcript.Store,
	m *metrics.Metrics,
	log *logging.Logger,
) *Runner {
	return &Runner{
		cfg:         cfg,
		client:      client,
		builder:     builder,
		tools:       exec,
		transcripts: transcripts,
		metrics:     m,
		now:         time.Now,
		log:         log.Sub("agent"),
	}
}

// exchange is the per-request state of RunStream.
type exchange struct {
	r     *Runner
	req   domain.ChatRequest
	emit  domain.Emitter
	state State
	start time.Time
	log   *logging.Logger
}

func (x *exchange) enter(s State) {
	x.state = s
	x.log.Debug().Str("state", string(s)).Dur("elapsed", time.Since(x.start)).Msg("state")
	if x.r.onState != nil {
		x.r.onState(s)
	}
}

// RunStream processes one prompt and reports progress through emit: zero
// or more deltas followed by exactly one done or error event. The turn is
// stored only after done was accepted by emit.
//
// A rejected emit or a cancelled ctx abandons the exchange silently. The
// returned error describes why the exchange did not complete.
func (r *Runner) RunStream(ctx context.Context, req domain.ChatRequest, emit domain.Emitter) error {
	if err := req.Validate(); err != nil {
		return err
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
	}
	defer cancel()

	x := &exchange{
		r:     r,
		req:   req,
		emit:  emit,
		start: time.Now(),
		log:   r.log.With("userId", req.UserID),
	}
	x.log.Info().Int("promptLen", len(req.Prompt)).Msg("processing prompt")

	answer, err := x.run(runCtx)
	if err != nil {
		return x.fail(ctx, runCtx, err)
	}

	if err := emit(domain.Done()); err != nil {
		return x.fail(ctx, runCtx, fmt.Errorf("%w: %v", ErrDisconnected, err))
	}

	x.enter(StatePersisting)
	persistCtx, pcancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer pcancel()
	turn := transcript.Turn{UserMessage: req.Prompt, AIResponse: answer, Timestamp: r.now().UTC()}
	if err := r.transcripts.Append(persistCtx, req.UserID, turn); err != nil {
		x.log.Error().Err(err).Msg("failed to persist turn")
		r.metrics.Exchange(OutcomeDone)
		return fmt.Errorf("persist turn: %w", err)
	}

	x.enter(StateDone)
	r.metrics.Exchange(OutcomeDone)
	x.log.Info().
		Int("responseLen", len(answer)).
		Dur("duration", time.Since(x.start)).
		Msg("exchange complete")
	return nil
}

func (x *exchange) run(ctx context.Context) (string, error) {
	r := x.r

	x.enter(StateBuildingContext)
	msgs, err := r.builder.Build(ctx, x.req.UserID, x.req.Prompt)
	if err != nil {
		return "", fmt.Errorf("build context: %w", err)
	}
	defs := r.tools.Definitions()

	for round := 0; ; round++ {
		x.enter(StateAwaitingModel)
		resp, err := r.client.Complete(ctx, r.request(msgs, defs, llm.ToolChoiceAuto))
		if err != nil {
			return "", fmt.Errorf("model call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return x.streamFinal(ctx, msgs, defs, resp)
		}
		if round >= r.cfg.MaxToolRounds {
			x.log.Warn().Int("rounds", round).Int("pending", len(resp.ToolCalls)).Msg("tool round limit reached")
			return "", ErrToolLimit
		}

		x.enter(StateToolRequested)
		msgs = append(msgs, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		x.enter(StateExecutingTool)
		for _, tc := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			res := r.tools.Execute(ctx, tools.RequestFromCall(tc), x.req.UserID)
			r.metrics.ToolCall(tc.Name, res.Status())
			x.log.Info().
				Int("round", round+1).
				Str("tool", tc.Name).
				Str("status", res.Status()).
				Msg("tool call handled")
			msgs = append(msgs, res.Message())
		}
	}
}

// streamFinal forwards the answer. With restreaming enabled the model is
// asked again with streaming and tools disabled; otherwise the text of
// the last completion is sent as a single delta.
func (x *exchange) streamFinal(ctx context.Context, msgs []llm.Message, defs []llm.ToolDefinition, last *llm.CompletionResponse) (string, error) {
	r := x.r
	x.enter(StateStreamingFinal)

	if !r.cfg.RestreamFinal {
		if strings.TrimSpace(last.Content) == "" {
			return "", x.emptyAnswer()
		}
		if err := x.forward(last.Content); err != nil {
			return "", err
		}
		return last.Content, nil
	}

	ch, err := r.client.Stream(ctx, r.request(msgs, defs, llm.ToolChoiceNone))
	if err != nil {
		return "", fmt.Errorf("open stream: %w", err)
	}

	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return "", &llm.ProviderError{Provider: r.client.Name(), Message: "stream closed before completion"}
			}
			switch ev.Type {
			case llm.EventDelta:
				if ev.Content == "" {
					continue
				}
				sb.WriteString(ev.Content)
				if err := x.forward(ev.Content); err != nil {
					return "", err
				}
			case llm.EventDone:
				if strings.TrimSpace(sb.String()) == "" {
					return "", x.emptyAnswer()
				}
				return sb.String(), nil
			case llm.EventError:
				return "", &llm.ProviderError{Provider: r.client.Name(), Message: ev.Error}
			}
		}
	}
}

// emptyAnswer is a malformed provider response; a turn without an answer
// is never stored.
func (x *exchange) emptyAnswer() error {
	return &llm.ProviderError{Provider: x.r.client.Name(), Message: "empty answer"}
}

func (x *exchange) forward(text string) error {
	if err := x.emit(domain.Delta(text)); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	x.r.metrics.Delta()
	return nil
}

// fail ends the exchange in ERROR and sends the user-visible error event
// unless the client is already gone.
func (x *exchange) fail(parent, runCtx context.Context, err error) error {
	r := x.r
	from := x.state
	x.enter(StateError)

	var outcome, message string
	switch {
	case errors.Is(err, ErrDisconnected) || parent.Err() != nil:
		x.log.Info().Str("from", string(from)).Err(err).Msg("client went away, exchange abandoned")
		r.metrics.Exchange(OutcomeCancelled)
		return err
	case errors.Is(err, ErrToolLimit):
		outcome, message = OutcomeToolLimit, domain.MsgTooManyTools
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		outcome, message = OutcomeTimeout, domain.MsgRequestTimeout
	default:
		outcome, message = OutcomeError, domain.MsgStreamFailed
	}

	x.log.Error().Str("from", string(from)).Str("outcome", outcome).Err(err).Msg("exchange failed")
	r.metrics.Exchange(outcome)
	if emitErr := x.emit(domain.Failure(message)); emitErr != nil {
		x.log.Debug().Err(emitErr).Msg("could not deliver error event")
	}
	return err
}

func (r *Runner) request(msgs []llm.Message, defs []llm.ToolDefinition, choice string) llm.CompletionRequest {
	return llm.CompletionRequest{
		Messages:    msgs,
		Tools:       defs,
		ToolChoice:  choice,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	}
}

// Package consumer reassembles an agent response stream into UI state and
// provides an HTTP client for the assistant API.
package consumer

import (
	"sync"

	"github.com/soyeahso/lucai/internal/domain"
)

// Phase is the lifecycle of one exchange as seen by the client.
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseStreaming  Phase = "streaming"
	PhaseSettled    Phase = "settled"
	PhaseErrored    Phase = "errored"
)

// Terminal reports whether the phase can no longer change.
func (p Phase) Terminal() bool {
	return p == PhaseSettled || p == PhaseErrored
}

// State is the observable view of an exchange.
type State struct {
	Phase Phase
	// Text is what the UI shows: the concatenated deltas, or the apology
	// once errored.
	Text string
	// Cause is the server or transport message behind an error.
	Cause string
}

// Accumulator holds the state of a single exchange. Every change is
// reported to the observer, which runs synchronously on the caller's
// goroutine.
type Accumulator struct {
	mu       sync.Mutex
	state    State
	observer func(State)
}

// NewAccumulator starts an exchange in the connecting phase. observer may
// be nil.
func NewAccumulator(observer func(State)) *Accumulator {
	return &Accumulator{state: State{Phase: PhaseConnecting}, observer: observer}
}

// Begin reports the connecting state so a renderer can show it before the
// first delta. It does nothing once the exchange has moved on.
func (a *Accumulator) Begin() {
	a.mu.Lock()
	if a.state.Phase != PhaseConnecting {
		a.mu.Unlock()
		return
	}
	snapshot := a.state
	a.mu.Unlock()

	if a.observer != nil {
		a.observer(snapshot)
	}
}

// Delta appends text and re-renders.
func (a *Accumulator) Delta(text string) {
	a.update(func(s *State) {
		s.Phase = PhaseStreaming
		s.Text += text
	})
}

// Fail replaces the text with the apology.
func (a *Accumulator) Fail(cause string) {
	a.update(func(s *State) {
		s.Phase = PhaseErrored
		s.Text = domain.MsgClientApology
		s.Cause = cause
	})
}

// Settle marks the exchange complete with whatever text arrived.
func (a *Accumulator) Settle() {
	a.update(func(s *State) { s.Phase = PhaseSettled })
}

// State returns a copy of the current state.
func (a *Accumulator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Accumulator) update(fn func(*State)) {
	a.mu.Lock()
	if a.state.Phase.Terminal() {
		a.mu.Unlock()
		return
	}
	fn(&a.state)
	snapshot := a.state
	a.mu.Unlock()

	if a.observer != nil {
		a.observer(snapshot)
	}
}

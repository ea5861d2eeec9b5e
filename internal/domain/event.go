package domain

// EventType tags a StreamEvent.
type EventType string

const (
	EventDelta EventType = "delta"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// StreamEvent is one unit sent from the agent loop to a client.
// Text is set for deltas, Message for errors.
type StreamEvent struct {
	Type    EventType `json:"type"`
	Text    string    `json:"text,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Delta builds a delta event.
func Delta(text string) StreamEvent { return StreamEvent{Type: EventDelta, Text: text} }

// Done builds the terminal success event.
func Done() StreamEvent { return StreamEvent{Type: EventDone} }

// Failure builds the terminal error event with a user-visible message.
func Failure(message string) StreamEvent { return StreamEvent{Type: EventError, Message: message} }

// Terminal reports whether no further events follow this one.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Emitter receives stream events in order. Returning an error stops the
// producer; it is how a transport reports a disconnected client.
type Emitter func(StreamEvent) error

// User-visible error texts. Internal details never reach the wire.
const (
	MsgStreamFailed   = "Stream failed"
	MsgTooManyTools   = "Sorry, I couldn't finish registering that. Please try again."
	MsgClientApology  = "Sorry, an error occurred while processing the response."
	MsgRequestTimeout = "Sorry, the response took too long. Please try again."
)

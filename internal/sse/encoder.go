// Package sse frames agent stream events as Server-Sent Events and decodes
// them again on the client side.
//
// Wire format, one frame per event:
//
//	data: {"content":"<delta>"}\n\n
//	data: {"error":"<message>"}\n\n
//	data: [DONE]\n\n
//
// Comment frames (": keep-alive\n\n") may appear between frames.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/soyeahso/lucai/internal/domain"
)

const (
	dataPrefix     = "data: "
	frameEnd       = "\n\n"
	keepAliveFrame = ": keep-alive\n\n"
)

// ErrClosed is returned when writing after a terminal event.
var ErrClosed = errors.New("sse: stream already terminated")

// SetHeaders sets the response headers of an event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Payload returns the data carried by ev: a JSON object for deltas and
// errors, the [DONE] sentinel for completion.
func Payload(ev domain.StreamEvent) ([]byte, error) {
	var v any
	switch ev.Type {
	case domain.EventDelta:
		v = domain.ContentPayload{Content: ev.Text}
	case domain.EventError:
		v = domain.ErrorPayload{Error: ev.Message}
	case domain.EventDone:
		return []byte(domain.DoneSentinel), nil
	default:
		return nil, fmt.Errorf("sse: unknown event type %q", ev.Type)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Frame returns the complete SSE frame for ev.
func Frame(ev domain.StreamEvent) ([]byte, error) {
	p, err := Payload(ev)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(dataPrefix)+len(p)+len(frameEnd))
	out = append(out, dataPrefix...)
	out = append(out, p...)
	out = append(out, frameEnd...)
	return out, nil
}

// Encoder writes frames to a response. Each frame is one Write followed
// by a flush; concurrent callers are serialized.
type Encoder struct {
	mu     sync.Mutex
	w      io.Writer
	flush  func()
	closed bool
}

// NewEncoder wraps w, flushing after every frame when w is an http.Flusher.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flush = f.Flush
	}
	return e
}

// Encode writes one event. After a done or error event the encoder is
// closed and further calls return ErrClosed.
func (e *Encoder) Encode(ev domain.StreamEvent) error {
	frame, err := Frame(ev)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if ev.Terminal() {
		e.closed = true
	}
	return e.write(frame)
}

// Emit adapts the encoder to domain.Emitter.
func (e *Encoder) Emit(ev domain.StreamEvent) error { return e.Encode(ev) }

// KeepAlive writes a comment frame. It is a no-op once the stream ended.
func (e *Encoder) KeepAlive() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	return e.write([]byte(keepAliveFrame))
}

// Closed reports whether a terminal event was written.
func (e *Encoder) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Encoder) write(frame []byte) error {
	if _, err := e.w.Write(frame); err != nil {
		return err
	}
	if e.flush != nil {
		e.flush()
	}
	return nil
}

package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/soyeahso/lucai/internal/domain"
	"github.com/soyeahso/lucai/internal/logging"
)

// DecodeError reports a data line whose payload could not be parsed. The
// line is skipped and decoding continues.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("sse: undecodable frame %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Handler receives decoded events. Nil callbacks are skipped.
type Handler struct {
	OnDelta       func(text string)
	OnError       func(message string)
	OnDone        func()
	OnDecodeError func(err *DecodeError)
}

// Outcome is how a stream ended.
type Outcome int

const (
	// OutcomeDone means the [DONE] sentinel was received.
	OutcomeDone Outcome = iota
	// OutcomeErrored means an error frame was received before the end.
	OutcomeErrored
	// OutcomeEnded means the stream ended without [DONE] or an error frame.
	OutcomeEnded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeErrored:
		return "errored"
	default:
		return "ended"
	}
}

type wirePayload struct {
	Content *string `json:"content"`
	Error   *string `json:"error"`
}

// Decoder turns arbitrarily chunked bytes back into events. A trailing
// partial line is held until more bytes arrive or Close is called.
type Decoder struct {
	h       Handler
	buf     []byte
	done    bool
	errored bool
	log     *logging.Logger
}

// NewDecoder creates a decoder dispatching to h.
func NewDecoder(h Handler, log *logging.Logger) *Decoder {
	return &Decoder{h: h, log: log.Sub("sse")}
}

// Feed consumes a chunk and dispatches every complete line. It reports
// whether [DONE] has been seen; bytes after it are ignored.
func (d *Decoder) Feed(chunk []byte) bool {
	if d.done {
		return true
	}
	d.buf = append(d.buf, chunk...)
	for !d.done {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		d.line(string(bytes.TrimSuffix(line, []byte("\r"))))
	}
	if d.done {
		d.buf = nil
	}
	return d.done
}

// Close flushes a final line that had no terminating newline.
func (d *Decoder) Close() {
	if d.done || len(d.buf) == 0 {
		return
	}
	rest := string(bytes.TrimSuffix(d.buf, []byte("\r")))
	d.buf = nil
	d.line(rest)
}

// Done reports whether the completion sentinel was received.
func (d *Decoder) Done() bool { return d.done }

// Outcome reports how the stream has ended so far.
func (d *Decoder) Outcome() Outcome {
	switch {
	case d.done:
		return OutcomeDone
	case d.errored:
		return OutcomeErrored
	default:
		return OutcomeEnded
	}
}

func (d *Decoder) line(line string) {
	if !strings.HasPrefix(line, "data:") {
		// comments, event:, id:, retry: and blank separators
		return
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" {
		return
	}
	if payload == domain.DoneSentinel {
		d.done = true
		if d.h.OnDone != nil {
			d.h.OnDone()
		}
		return
	}

	var p wirePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		de := &DecodeError{Line: line, Err: err}
		d.log.Warn().Err(err).Str("line", line).Msg("skipping undecodable frame")
		if d.h.OnDecodeError != nil {
			d.h.OnDecodeError(de)
		}
		return
	}
	if p.Content != nil && d.h.OnDelta != nil {
		d.h.OnDelta(*p.Content)
	}
	if p.Error != nil {
		d.errored = true
		if d.h.OnError != nil {
			d.h.OnError(*p.Error)
		}
	}
}

const readSize = 4096

// Run reads r until [DONE], end of stream, a read error or ctx
// cancellation.
func (d *Decoder) Run(ctx context.Context, r io.Reader) (Outcome, error) {
	buf := make([]byte, readSize)
	for {
		if err := ctx.Err(); err != nil {
			return d.Outcome(), err
		}
		n, err := r.Read(buf)
		if n > 0 && d.Feed(buf[:n]) {
			return OutcomeDone, nil
		}
		if errors.Is(err, io.EOF) {
			d.Close()
			return d.Outcome(), nil
		}
		if err != nil {
			return d.Outcome(), err
		}
	}
}

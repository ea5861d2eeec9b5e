package consumer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/soyeahso/lucai/internal/domain"
	"github.com/soyeahso/lucai/internal/logging"
	"github.com/soyeahso/lucai/internal/sse"
	"github.com/soyeahso/lucai/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(io.Discard, "silent")
}

func TestAccumulatorPhases(t *testing.T) {
	var seen []State
	acc := NewAccumulator(func(s State) { seen = append(seen, s) })
	assert.Equal(t, PhaseConnecting, acc.State().Phase)

	acc.Delta("Got it")
	acc.Delta(", done.")
	acc.Settle()

	require.Len(t, seen, 3)
	assert.Equal(t, State{Phase: PhaseStreaming, Text: "Got it"}, seen[0])
	assert.Equal(t, State{Phase: PhaseStreaming, Text: "Got it, done."}, seen[1])
	assert.Equal(t, State{Phase: PhaseSettled, Text: "Got it, done."}, seen[2])
}

func TestAccumulatorBeginReportsConnectingOnce(t *testing.T) {
	var seen []State
	acc := NewAccumulator(func(s State) { seen = append(seen, s) })
	acc.Begin()
	acc.Delta("hi")
	acc.Begin()

	require.Len(t, seen, 2)
	assert.Equal(t, State{Phase: PhaseConnecting}, seen[0])
	assert.Equal(t, PhaseStreaming, seen[1].Phase)
}

func TestAccumulatorErrorReplacesText(t *testing.T) {
	acc := NewAccumulator(nil)
	acc.Delta("partial")
	acc.Fail("Stream failed")
	assert.Equal(t, State{Phase: PhaseErrored, Text: domain.MsgClientApology, Cause: "Stream failed"}, acc.State())
}

func TestAccumulatorTerminalIsSticky(t *testing.T) {
	calls := 0
	acc := NewAccumulator(func(State) { calls++ })
	acc.Fail("boom")
	acc.Delta("late")
	acc.Settle()
	acc.Fail("again")
	assert.Equal(t, 1, calls)
	assert.Equal(t, PhaseErrored, acc.State().Phase)
	assert.Equal(t, "boom", acc.State().Cause)

	settled := NewAccumulator(nil)
	settled.Settle()
	settled.Fail("late error")
	assert.Equal(t, PhaseSettled, settled.State().Phase)
	assert.Empty(t, settled.State().Text)
}

// streamServer answers POST /agent with the given events.
func streamServer(t *testing.T, events ...domain.StreamEvent) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req domain.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u1", req.UserID)

		sse.SetHeaders(w.Header())
		enc := sse.NewEncoder(w)
		for _, ev := range events {
			_ = enc.Encode(ev)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSendSettlesOnDone(t *testing.T) {
	srv := streamServer(t,
		domain.Delta("Got it"), domain.Delta(", I've"), domain.Delta(" logged"), domain.Delta(" that."), domain.Done())
	c := NewClient(srv.URL, "secret", silentLog())

	var (
		texts  []string
		phases []Phase
	)
	st, err := c.Send(context.Background(), domain.ChatRequest{Prompt: "I spent $12 on a burger", UserID: "u1"}, func(s State) {
		texts = append(texts, s.Text)
		phases = append(phases, s.Phase)
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseSettled, st.Phase)
	assert.Equal(t, "Got it, I've logged that.", st.Text)
	assert.Equal(t, []string{"", "Got it", "Got it, I've", "Got it, I've logged", "Got it, I've logged that.", "Got it, I've logged that."}, texts)
	assert.Equal(t, []Phase{PhaseConnecting, PhaseStreaming, PhaseStreaming, PhaseStreaming, PhaseStreaming, PhaseSettled}, phases)
}

func TestSendErrorFrame(t *testing.T) {
	srv := streamServer(t, domain.Failure(domain.MsgStreamFailed))
	c := NewClient(srv.URL, "secret", silentLog())

	st, err := c.Send(context.Background(), domain.ChatRequest{Prompt: "hi", UserID: "u1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, PhaseErrored, st.Phase)
	assert.Equal(t, domain.MsgClientApology, st.Text)
	assert.Equal(t, domain.MsgStreamFailed, st.Cause)
}

func TestSendAbruptEndSettles(t *testing.T) {
	srv := streamServer(t, domain.Delta("half an ans"))
	c := NewClient(srv.URL, "secret", silentLog())

	st, err := c.Send(context.Background(), domain.ChatRequest{Prompt: "hi", UserID: "u1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, PhaseSettled, st.Phase)
	assert.Equal(t, "half an ans", st.Text)
}

func TestSendRejectedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"prompt is required"}`))
	}))
	defer srv.Close()

	st, err := NewClient(srv.URL, "", silentLog()).Send(context.Background(), domain.ChatRequest{UserID: "u1"}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "prompt is required", apiErr.Message)
	assert.Equal(t, PhaseErrored, st.Phase)
}

func TestSendCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse.SetHeaders(w.Header())
		enc := sse.NewEncoder(w)
		_ = enc.Encode(domain.Delta("thinking"))
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.URL, "", silentLog())
	st, err := c.Send(ctx, domain.ChatRequest{Prompt: "hi", UserID: "u1"}, func(s State) {
		if s.Text == "thinking" {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseStreaming, st.Phase)
}

func TestHistoryAndDays(t *testing.T) {
	ts := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u1", r.URL.Query().Get("userId"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/agent/history":
			_ = json.NewEncoder(w).Encode(transcript.Transcript{
				UserID:              "u1",
				ConversationHistory: []transcript.Turn{{UserMessage: "q", AIResponse: "a", Timestamp: ts}},
				LongTermContext:     json.RawMessage(`{}`),
			})
		case "/agent/history/days":
			_ = json.NewEncoder(w).Encode(DaysResponse{
				UserID:   "u1",
				Timezone: "UTC",
				Days:     transcript.GroupByDay([]transcript.Turn{{UserMessage: "q", AIResponse: "a", Timestamp: ts}}, time.UTC),
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "", silentLog())

	tr, err := c.History(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, tr.ConversationHistory, 1)
	assert.Equal(t, "a", tr.ConversationHistory[0].AIResponse)

	days, err := c.Days(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, days.Days, 1)
	assert.Equal(t, "10/01/2024", days.Days[0].Key)

	_, err = c.Health(context.Background())
	assert.True(t, IsNotFound(err))
}

func TestSetContext(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/agent/context", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewClient(srv.URL, "", silentLog()).SetContext(context.Background(), "u1", json.RawMessage(`{"goal":"trip"}`)))
	assert.Equal(t, `{"goal":"trip"}`, got)
}

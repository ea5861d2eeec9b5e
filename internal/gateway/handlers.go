package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/lucai/internal/sse"
	"github.com/soyeahso/lucai/internal/transcript"
)

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    s.version,
		WSClients:  s.clients.Count(),
		UptimeSecs: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		handleNotFound(w, r)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

// handleAgent streams one exchange as Server-Sent Events. Bad requests are
// rejected with a JSON error before the stream starts; after that every
// failure is reported in-band as an error frame.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, "no LLM provider configured")
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	req, err := parseChatRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sse.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	enc := sse.NewEncoder(w)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepAlive(ctx, enc)
	}()

	log := s.log.With("userId", req.UserID)
	start := time.Now()
	err = s.agent.RunStream(ctx, req, enc.Emit)
	cancel()
	wg.Wait()

	if err != nil {
		log.Debug().Err(err).Dur("duration", time.Since(start)).Msg("exchange ended with error")
		return
	}
	log.Debug().Dur("duration", time.Since(start)).Msg("exchange streamed")
}

// keepAlive writes comment frames while the model is thinking so proxies
// keep the connection open.
func (s *Server) keepAlive(ctx context.Context, enc *sse.Encoder) {
	ticker := time.NewTicker(s.cfg.SSEKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The stream may end before the handler cancels ctx.
			if enc.Closed() {
				return
			}
			if err := enc.KeepAlive(); err != nil {
				return
			}
		}
	}
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("userId"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return "", false
	}
	return id, true
}

func (s *Server) loadTranscript(w http.ResponseWriter, r *http.Request) (transcript.Transcript, bool) {
	if s.transcripts == nil {
		writeError(w, http.StatusServiceUnavailable, "no transcript store configured")
		return transcript.Transcript{}, false
	}
	userID, ok := userIDParam(w, r)
	if !ok {
		return transcript.Transcript{}, false
	}
	tr, err := s.transcripts.Get(r.Context(), userID)
	if errors.Is(err, transcript.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no history for user")
		return tr, false
	}
	if err != nil {
		s.log.Error().Err(err).Str("userId", userID).Msg("loading transcript failed")
		writeError(w, http.StatusInternalServerError, "could not load history")
		return tr, false
	}
	return tr, true
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	tr, ok := s.loadTranscript(w, r)
	if !ok {
		return
	}
	if tr.ConversationHistory == nil {
		tr.ConversationHistory = []transcript.Turn{}
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleHistoryDays(w http.ResponseWriter, r *http.Request) {
	tr, ok := s.loadTranscript(w, r)
	if !ok {
		return
	}
	days := transcript.GroupByDay(tr.ConversationHistory, s.loc)
	if days == nil {
		days = []transcript.DayBucket{}
	}
	writeJSON(w, http.StatusOK, DaysResponse{
		UserID:   tr.UserID,
		Timezone: s.loc.String(),
		Days:     days,
	})
}

func (s *Server) handleSetContext(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		writeError(w, http.StatusServiceUnavailable, "no transcript store configured")
		return
	}
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	value, err := transcript.NormalizeContext(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.transcripts.SetLongTermContext(r.Context(), userID, value); err != nil {
		s.log.Error().Err(err).Str("userId", userID).Msg("saving long-term context failed")
		writeError(w, http.StatusInternalServerError, "could not save context")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

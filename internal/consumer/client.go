package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/soyeahso/lucai/internal/domain"
	"github.com/soyeahso/lucai/internal/logging"
	"github.com/soyeahso/lucai/internal/sse"
	"github.com/soyeahso/lucai/internal/transcript"
	"github.com/soyeahso/lucai/internal/version"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to a LucAI gateway.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logging.Logger
}

// NewClient creates a client for baseURL (e.g. http://127.0.0.1:8080).
// token is sent as a bearer token when non-empty.
func NewClient(baseURL, token string, log *logging.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// Streams are bounded by the request context, not a client timeout.
		http: &http.Client{},
		log:  log.Sub("consumer"),
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// Send posts a prompt and consumes the response stream, reporting every
// state change to observer. The returned state is terminal unless ctx was
// cancelled first.
func (c *Client) Send(ctx context.Context, req domain.ChatRequest, observer func(State)) (State, error) {
	acc := NewAccumulator(observer)

	body, err := json.Marshal(req)
	if err != nil {
		return acc.State(), err
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/agent", nil, bytes.NewReader(body))
	if err != nil {
		return acc.State(), err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	acc.Begin()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return acc.State(), ctx.Err()
		}
		acc.Fail(err.Error())
		return acc.State(), fmt.Errorf("send prompt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := readAPIError(resp)
		acc.Fail(apiErr.Message)
		return acc.State(), apiErr
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		acc.Fail("unexpected content type " + mt)
		return acc.State(), fmt.Errorf("unexpected content type %q", mt)
	}

	start := time.Now()
	dec := sse.NewDecoder(sse.Handler{
		OnDelta: acc.Delta,
		OnError: acc.Fail,
	}, c.log)

	outcome, err := dec.Run(ctx, resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return acc.State(), ctx.Err()
		}
		acc.Fail(err.Error())
		return acc.State(), fmt.Errorf("read stream: %w", err)
	}

	// [DONE] and an abrupt end both settle; an error frame already failed.
	acc.Settle()
	c.log.Debug().
		Str("outcome", outcome.String()).
		Dur("duration", time.Since(start)).
		Msg("stream finished")
	return acc.State(), nil
}

// History returns the user's transcript.
func (c *Client) History(ctx context.Context, userID string) (transcript.Transcript, error) {
	var out transcript.Transcript
	err := c.getJSON(ctx, "/agent/history", url.Values{"userId": {userID}}, &out)
	return out, err
}

// DaysResponse is the body of GET /agent/history/days.
type DaysResponse struct {
	UserID   string                 `json:"userId"`
	Timezone string                 `json:"timezone"`
	Days     []transcript.DayBucket `json:"days"`
}

// Days returns the user's turns grouped by calendar day, newest first.
func (c *Client) Days(ctx context.Context, userID string) (DaysResponse, error) {
	var out DaysResponse
	err := c.getJSON(ctx, "/agent/history/days", url.Values{"userId": {userID}}, &out)
	return out, err
}

// SetContext replaces the user's long-term context object.
func (c *Client) SetContext(ctx context.Context, userID string, value json.RawMessage) error {
	req, err := c.newRequest(ctx, http.MethodPut, "/agent/context", url.Values{"userId": {userID}}, bytes.NewReader(value))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return readAPIError(resp)
	}
	return nil
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	WSClients  int    `json:"wsClients"`
	UptimeSecs int64  `json:"uptimeSecs"`
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.getJSON(ctx, "/health", nil, &out)
	return out, err
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload domain.ErrorPayload
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

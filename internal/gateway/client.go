package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/lucai/internal/domain"
	"github.com/soyeahso/lucai/internal/logging"
	"github.com/soyeahso/lucai/internal/sse"
)

// ErrClientClosed is returned when sending to a closed connection.
var ErrClientClosed = errors.New("client connection closed")

const (
	wsWriteTimeout = 10 * time.Second
	wsQueueSize    = 8 // requests buffered while an exchange runs
)

// Client is one WebSocket connection. Each text message it sends is a chat
// request; each event of the answer goes back as one text message holding
// the same payload an SSE data line would carry.
type Client struct {
	ConnID      string
	RemoteAddr  string
	Socket      *websocket.Conn
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
	log    *logging.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, remoteAddr string, log *logging.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		ConnID:      id,
		RemoteAddr:  remoteAddr,
		Socket:      conn,
		ConnectedAt: time.Now(),
		log:         log.With("connId", id),
	}
}

// Send writes one text message. Thread-safe.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.Socket.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.Socket.WriteMessage(websocket.TextMessage, data)
}

// Emit sends ev as its frame payload. It satisfies domain.Emitter.
func (c *Client) Emit(ev domain.StreamEvent) error {
	p, err := sse.Payload(ev)
	if err != nil {
		return err
	}
	return c.Send(p)
}

// ReadRequest blocks for the next text message and parses it as a chat
// request. A malformed message returns a non-nil request error and a nil
// connection error.
func (c *Client) ReadRequest() (req domain.ChatRequest, reqErr, connErr error) {
	for {
		mt, msg, err := c.Socket.ReadMessage()
		if err != nil {
			return req, nil, err
		}
		if mt != websocket.TextMessage {
			c.log.Debug().Int("type", mt).Msg("ignoring non-text message")
			continue
		}
		req, reqErr = parseChatRequest(msg)
		return req, reqErr, nil
	}
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ClientRegistry manages connected clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client // connID → Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("remote", c.RemoteAddr).Msg("client connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes all connected clients.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}

// inbound is one message read by the pump: a request or why it was rejected.
type inbound struct {
	req domain.ChatRequest
	err error
}

// serve runs the request loop of one connection. Requests on a connection
// are answered one at a time. A read pump keeps the socket drained while an
// exchange runs, so a dropped peer cancels the exchange in flight.
func (c *Client) serve(ctx context.Context, agent Agent) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan inbound, wsQueueSize)
	go c.readPump(ctx, cancel, queue)

	for {
		var in inbound
		select {
		case <-ctx.Done():
			return
		case next, ok := <-queue:
			if !ok {
				return
			}
			in = next
		}
		if ctx.Err() != nil {
			return
		}
		if in.err != nil {
			if err := c.Emit(domain.Failure(in.err.Error())); err != nil {
				return
			}
			continue
		}
		if err := agent.RunStream(ctx, in.req, c.Emit); err != nil {
			c.log.Debug().Err(err).Str("userId", in.req.UserID).Msg("exchange ended with error")
		}
	}
}

// readPump reads until the connection fails or closes, then cancels the
// connection context.
func (c *Client) readPump(ctx context.Context, cancel context.CancelFunc, queue chan<- inbound) {
	defer close(queue)
	defer cancel()

	for {
		req, reqErr, err := c.ReadRequest()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
				c.log.Debug().Msg("client closed connection")
			} else {
				c.log.Warn().Err(err).Msg("read error")
			}
			return
		}
		select {
		case queue <- inbound{req: req, err: reqErr}:
		case <-ctx.Done():
			return
		}
	}
}

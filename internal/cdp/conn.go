// Package cdp implements the wire transport for the browser's
// remote-debugging protocol: one WebSocket connection carrying JSON
// command, response, and event messages. Responses correlate to
// commands by integer id; events fan out to method-scoped subscribers.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// maxMessageSize bounds inbound frames. DOM snapshots of heavy pages
// run to tens of megabytes.
const maxMessageSize = 256 << 20

// message is the wire envelope. Commands carry ID+Method+Params;
// responses carry ID+Result or ID+Error; events carry Method+Params.
// SessionID scopes a message to an attached target session.
type message struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    any             `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *responseError  `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type inboundMessage struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *responseError  `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type responseError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// ProtocolError is a command the browser received and rejected.
type ProtocolError struct {
	Method  string
	Code    int64
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %s (code %d)", e.Method, e.Message, e.Code)
}

// TransportError is a connection-level failure: the socket broke, the
// dial failed, or the connection closed with commands still in flight.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Event is an unsolicited protocol notification.
type Event struct {
	Method    string
	SessionID string
	Params    json.RawMessage
}

type pendingRequest struct {
	method string
	result chan inboundMessage
}

type subscription struct {
	id        int64
	method    string
	sessionID string
	ch        chan Event
}

// Conn is one remote-debugging connection. All methods are safe for
// concurrent use; writes serialize on a mutex, and a single read loop
// resolves pending commands and dispatches events.
type Conn struct {
	ws  *websocket.Conn
	log *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	nextID    int64
	nextSubID int64
	pending   map[int64]*pendingRequest
	subs      map[int64]*subscription
	closed    bool
	closeErr  error

	done chan struct{}
}

// Dial connects to a remote-debugging WebSocket endpoint and starts the
// read loop.
func Dial(ctx context.Context, wsURL string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	ws.SetReadLimit(maxMessageSize)
	c := &Conn{
		ws:      ws,
		log:     slog.Default().With("component", "cdp"),
		pending: make(map[int64]*pendingRequest),
		subs:    make(map[int64]*subscription),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Call sends one command and blocks until its response, ctx
// cancellation, or connection teardown. sessionID may be empty for
// browser-level commands. When result is non-nil the response payload
// is unmarshaled into it.
func (c *Conn) Call(ctx context.Context, sessionID, method string, params, result any) error {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return &TransportError{Op: method, Err: err}
	}
	c.nextID++
	id := c.nextID
	req := &pendingRequest{method: method, result: make(chan inboundMessage, 1)}
	c.pending[id] = req
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	out := message{ID: id, Method: method, Params: params, SessionID: sessionID}
	c.writeMu.Lock()
	err := c.ws.WriteJSON(out)
	c.writeMu.Unlock()
	if err != nil {
		return &TransportError{Op: method, Err: err}
	}

	select {
	case resp := <-req.result:
		if resp.Error != nil {
			return &ProtocolError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	case <-c.done:
		c.mu.Lock()
		err := c.closeErr
		c.mu.Unlock()
		return &TransportError{Op: method, Err: err}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers for events of the given method, optionally scoped
// to one session (empty sessionID matches every session). The returned
// cancel func must be called to release the subscription. Slow
// consumers drop events rather than stall the read loop.
func (c *Conn) Subscribe(method, sessionID string) (<-chan Event, func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	c.nextSubID++
	sub := &subscription{
		id:        c.nextSubID,
		method:    method,
		sessionID: sessionID,
		ch:        make(chan Event, 16),
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subs[sub.id]; ok {
			delete(c.subs, sub.id)
			close(sub.ch)
		}
		c.mu.Unlock()
	}
	return sub.ch, cancel
}

// Close tears down the connection. In-flight Calls return
// TransportError.
func (c *Conn) Close() error {
	c.teardown(fmt.Errorf("connection closed"))
	return c.ws.Close()
}

func (c *Conn) readLoop() {
	for {
		var msg inboundMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.teardown(err)
			return
		}
		if msg.ID != 0 {
			c.mu.Lock()
			req := c.pending[msg.ID]
			c.mu.Unlock()
			if req != nil {
				req.result <- msg
			}
			continue
		}
		if msg.Method != "" {
			c.dispatchEvent(msg)
		}
	}
}

// dispatchEvent delivers an event to matching subscribers. Sends happen
// under the registry lock so they cannot race a cancel closing the
// channel; deliveries never block, slow consumers drop events instead.
func (c *Conn) dispatchEvent(msg inboundMessage) {
	ev := Event{Method: msg.Method, SessionID: msg.SessionID, Params: msg.Params}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		if sub.method != msg.Method {
			continue
		}
		if sub.sessionID != "" && sub.sessionID != msg.SessionID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			c.log.Warn("dropping event for slow subscriber", "method", msg.Method)
		}
	}
}

func (c *Conn) teardown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	close(c.done)
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub.ch)
	}
	c.mu.Unlock()
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collab-sync/backend/internal/platform/apperr"
	"collab-sync/backend/internal/protocol"
)

// State is the connection state reported to the observer.
type State string

const (
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
)

// EventHandler receives server events in arrival order. *Engine implements it.
type EventHandler interface {
	HandleEvent(ctx context.Context, m protocol.Message) error
}

// ConnOptions configures a Conn. URL, Token and SessionID are required.
type ConnOptions struct {
	URL       string
	Token     string
	SessionID string
	// MaxAttempts bounds consecutive dial attempts before Run gives up. Defaults to 5.
	MaxAttempts       uint
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
	Dialer            *websocket.Dialer
	Logger            *zap.Logger
	// OnState is called on every state change.
	OnState func(State)
	// OnEvent is called after the handler has seen an event.
	OnEvent func(protocol.Message)
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 15 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Conn is a reconnecting connection to the gateway bound to one session. It re-joins the session
// after every reconnect, since the gateway treats each connection as new.
type Conn struct {
	opts ConnOptions
	log  *zap.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	seq     int64
	waiters map[string]chan protocol.Ack
	state   State
	connID  string

	writeMu sync.Mutex
	latency atomic.Int64
}

// NewConn returns an unconnected Conn. Call Run to connect.
func NewConn(opts ConnOptions) *Conn {
	opts = opts.withDefaults()
	return &Conn{opts: opts, log: opts.Logger, state: StateDisconnected}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionID returns the id the gateway assigned to the current connection.
func (c *Conn) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Latency returns the round trip of the last heartbeat.
func (c *Conn) Latency() time.Duration {
	return time.Duration(c.latency.Load())
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

// Run connects, joins the session and serves it until ctx is done, reconnecting on transport
// failures. It returns nil when ctx ends, or the error that made it give up: retries exhausted,
// a rejected token, or a refused join.
func (c *Conn) Run(ctx context.Context, handler EventHandler) error {
	for {
		ws, err := c.connect(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		err = c.serve(ctx, ws, handler)
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return nil
		}
		if k := apperr.KindOf(err); k != apperr.KindConnection {
			c.setState(StateDisconnected)
			return err
		}
		c.log.Warn("connection lost, reconnecting", zap.Error(err))
		c.setState(StateReconnecting)
	}
}

func (c *Conn) connect(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.opts.Token)
	dial := func() (*websocket.Conn, error) {
		ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return nil, backoff.Permanent(apperr.Wrap(apperr.KindAuthenticationRequired, "gateway rejected the token", err))
			}
			return nil, apperr.Wrap(apperr.KindConnection, "dial gateway", err)
		}
		return ws, nil
	}
	return backoff.Retry(ctx, dial,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.opts.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Info("dial failed, retrying", zap.Duration("in", next), zap.Error(err))
			c.setState(StateReconnecting)
		}),
	)
}

// serve runs one connection until it fails or ctx ends. Events are handed to handler on their own
// goroutine through an unbounded queue, so the read loop keeps delivering acks while a handler waits
// on one, however many events arrive meanwhile.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn, handler EventHandler) error {
	c.mu.Lock()
	c.ws = ws
	c.waiters = make(map[string]chan protocol.Ack)
	c.mu.Unlock()

	events := newEventQueue()
	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(ws, events) }()

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for {
			m, ok := events.next()
			if !ok {
				return
			}
			if err := handler.HandleEvent(ctx, m); err != nil {
				c.log.Warn("event handling failed", zap.String("type", m.Type), zap.Error(err))
			}
			if c.opts.OnEvent != nil {
				c.opts.OnEvent(m)
			}
		}
	}()

	done := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		joinCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
		_, err := c.Send(joinCtx, protocol.TypeJoinSession, protocol.SessionRef{SessionID: c.opts.SessionID})
		cancel()
		if err != nil {
			result <- err
			return
		}
		c.setState(StateConnected)
		c.heartbeat(ctx, done)
	}()

	var err error
	select {
	case <-ctx.Done():
		c.closeWS(ws)
		err = <-readErr
	case err = <-readErr:
	case err = <-result:
		c.closeWS(ws)
		<-readErr
	}
	close(done)

	c.mu.Lock()
	c.ws = nil
	for id, ch := range c.waiters {
		close(ch)
		delete(c.waiters, id)
	}
	c.mu.Unlock()
	<-dispatched

	if apperr.KindOf(err) == apperr.KindInternal {
		err = apperr.Wrap(apperr.KindConnection, "connection lost", err)
	}
	return err
}

func (c *Conn) closeWS(ws *websocket.Conn) {
	c.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = ws.Close()
}

func (c *Conn) readLoop(ws *websocket.Conn, events *eventQueue) error {
	defer events.close()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return apperr.Wrap(apperr.KindConnection, "read", err)
		}
		var m protocol.Message
		if err := json.Unmarshal(data, &m); err != nil {
			c.log.Debug("malformed server message", zap.Error(err))
			continue
		}
		switch m.Type {
		case protocol.TypeAck:
			c.deliverAck(m)
		case protocol.TypeConnectionAcknowledged:
			var hello protocol.ConnectionAcknowledged
			if err := json.Unmarshal(m.Data, &hello); err == nil {
				c.mu.Lock()
				c.connID = hello.ConnectionID
				c.mu.Unlock()
			}
			events.push(m)
		default:
			events.push(m)
		}
	}
}

func (c *Conn) deliverAck(m protocol.Message) {
	var ack protocol.Ack
	if err := json.Unmarshal(m.Data, &ack); err != nil {
		c.log.Debug("malformed ack", zap.Error(err))
		return
	}
	c.mu.Lock()
	ch, ok := c.waiters[string(m.ID)]
	if ok {
		delete(c.waiters, string(m.ID))
	}
	c.mu.Unlock()
	if ok {
		ch <- ack
	}
}

func (c *Conn) heartbeat(ctx context.Context, done <-chan struct{}) {
	t := time.NewTicker(c.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			start := time.Now()
			hbCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
			_, err := c.Send(hbCtx, protocol.TypeHeartbeat, protocol.Heartbeat{ClientTimestamp: protocol.Millis(start)})
			cancel()
			if err != nil {
				c.log.Debug("heartbeat failed", zap.Error(err))
				continue
			}
			c.latency.Store(int64(time.Since(start)))
		}
	}
}

// Send writes a request and waits for its ack. A failed ack comes back as an error of the kind
// the server reported; a lost or missing connection is a ConnectionError.
func (c *Conn) Send(ctx context.Context, typ string, data any) (protocol.Ack, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return protocol.Ack{}, apperr.Wrap(apperr.KindValidation, "encode request", err)
	}

	c.mu.Lock()
	ws := c.ws
	if ws == nil {
		c.mu.Unlock()
		return protocol.Ack{}, apperr.New(apperr.KindConnection, "not connected")
	}
	c.seq++
	id := strconv.FormatInt(c.seq, 10)
	ch := make(chan protocol.Ack, 1)
	c.waiters[id] = ch
	c.mu.Unlock()

	raw, err := json.Marshal(protocol.Request{ID: json.RawMessage(id), Type: typ, Data: payload})
	if err != nil {
		c.forget(id)
		return protocol.Ack{}, apperr.Wrap(apperr.KindValidation, "encode request", err)
	}
	c.writeMu.Lock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.opts.RequestTimeout))
	err = ws.WriteMessage(websocket.TextMessage, raw)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return protocol.Ack{}, apperr.Wrap(apperr.KindConnection, "write request", err)
	}

	select {
	case ack, ok := <-ch:
		if !ok {
			return protocol.Ack{}, apperr.New(apperr.KindConnection, "connection lost before ack")
		}
		if !ack.Success {
			return ack, ackError(ack)
		}
		return ack, nil
	case <-ctx.Done():
		c.forget(id)
		return protocol.Ack{}, apperr.Wrap(apperr.KindConnection, "no ack for "+typ, ctx.Err())
	}
}

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.waiters, id)
	c.mu.Unlock()
}

func ackError(ack protocol.Ack) error {
	if ack.Error == nil {
		return apperr.New(apperr.KindInternal, "request failed")
	}
	return apperr.New(apperr.Kind(ack.Error.Code), ack.Error.Message)
}

// IsTransient reports whether err is worth retrying after a reconnect.
func IsTransient(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e) && e.Kind == apperr.KindConnection
}

// Package gateway is the WebSocket synchronization service: it authenticates connections, keeps each one in at
// most one session room, routes requests to the session store and fans results out to the room.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"collab-sync/backend/internal/ot"
	"collab-sync/backend/internal/platform/apperr"
	"collab-sync/backend/internal/presence"
	"collab-sync/backend/internal/protocol"
	"collab-sync/backend/internal/security"
	"collab-sync/backend/internal/server/interceptors"
	"collab-sync/backend/internal/session/domain"
	"collab-sync/backend/internal/telemetry"
)

const tracerName = "collab-sync/backend/internal/gateway"

// Store is the part of the session store the gateway uses.
type Store interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	AddParticipant(ctx context.Context, sessionID, userID string, connectionID *string) (*domain.Participant, error)
	RemoveParticipant(ctx context.Context, sessionID, userID string) error
	SetCursor(ctx context.Context, sessionID, userID string, position ot.Position, selection *ot.Range) error
	ApplyOperations(ctx context.Context, sessionID string, ops []ot.Operation, submittedVersion int64) (*domain.Session, error)
	ReplaceCode(ctx context.Context, sessionID, code string, newVersion *int64) (*domain.Session, error)
	ListActiveParticipants(ctx context.Context, sessionID string) ([]*domain.Participant, error)
	ReleaseConnection(ctx context.Context, connectionID string) (*domain.Participant, error)
	Profile(ctx context.Context, userID string) domain.PublicProfile
}

// TokenVerifier verifies the bearer credential presented at connect time.
type TokenVerifier interface {
	Verify(token string) (security.Identity, error)
}

// Options tunes connections. Zero values fall back to DefaultOptions.
type Options struct {
	ReadLimit      int64
	SendBuffer     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	// AllowedOrigins restricts the Origin header on upgrade. Nil accepts any origin.
	AllowedOrigins []string
}

var DefaultOptions = Options{
	ReadLimit:      1 << 20,
	SendBuffer:     256,
	PingInterval:   25 * time.Second,
	WriteTimeout:   10 * time.Second,
	RequestTimeout: 5 * time.Second,
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = DefaultOptions.ReadLimit
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultOptions.SendBuffer
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultOptions.PingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultOptions.WriteTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultOptions.RequestTimeout
	}
	return o
}

// Gateway serves the sync protocol on an HTTP endpoint.
type Gateway struct {
	store      Store
	verifier   TokenVerifier
	opts       Options
	registry   *Registry
	hub        *Hub
	presence   *presence.Tracker
	emitter    telemetry.EventEmitter
	metrics    *telemetry.Metrics
	relay      Relay
	tracer     trace.Tracer
	log        *zap.Logger
	upgrader   websocket.Upgrader
	instanceID string
	now        func() time.Time
	newID      func() string
	handlers   map[string]handlerFunc

	mu    sync.Mutex
	conns map[string]*Conn
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option             { return func(g *Gateway) { g.log = l } }
func WithRegistry(r *Registry) Option             { return func(g *Gateway) { g.registry = r } }
func WithPresence(t *presence.Tracker) Option     { return func(g *Gateway) { g.presence = t } }
func WithEmitter(e telemetry.EventEmitter) Option { return func(g *Gateway) { g.emitter = e } }
func WithMetrics(m *telemetry.Metrics) Option     { return func(g *Gateway) { g.metrics = m } }
func WithRelay(r Relay) Option                    { return func(g *Gateway) { g.relay = r } }
func WithClock(now func() time.Time) Option       { return func(g *Gateway) { g.now = now } }
func WithInstanceID(id string) Option             { return func(g *Gateway) { g.instanceID = id } }

// WithTracerProvider sets where request spans go. The default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) { g.tracer = tp.Tracer(tracerName) }
}
func withIDGenerator(newID func() string) Option { return func(g *Gateway) { g.newID = newID } }

// New returns a Gateway. Without WithRegistry or WithPresence it creates its own.
func New(store Store, verifier TokenVerifier, opts Options, options ...Option) *Gateway {
	g := &Gateway{
		store:    store,
		verifier: verifier,
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		conns:    make(map[string]*Conn),
	}
	for _, o := range options {
		o(g)
	}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	if g.registry == nil {
		g.registry = NewRegistry()
	}
	if g.presence == nil {
		g.presence = presence.NewTracker()
	}
	if g.emitter == nil {
		g.emitter = telemetry.NopEmitter{}
	}
	if g.metrics == nil {
		g.metrics = telemetry.NopMetrics()
	}
	if g.instanceID == "" {
		g.instanceID = uuid.NewString()
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(tracerName)
	}
	g.hub = NewHub(g.metrics, g.log)
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(g.opts.AllowedOrigins),
	}
	g.handlers = g.routes()
	return g
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimSuffix(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// ServeHTTP verifies the credential, upgrades the connection and runs it until it closes.
// A missing or invalid credential gets 401 and no upgrade.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := interceptors.ExtractBearer(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "missing or invalid authorization", http.StatusUnauthorized)
		return
	}
	identity, err := g.verifier.Verify(token)
	if err != nil {
		http.Error(w, "missing or invalid authorization", http.StatusUnauthorized)
		return
	}
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newConn(g.newID(), identity, ws, g.opts.SendBuffer)
	ctx := context.WithoutCancel(r.Context())
	g.registry.Register(c.id)
	g.track(c, true)
	g.metrics.ConnectionOpened(ctx)
	g.log.Info("connection opened", zap.String("connection_id", c.id), zap.String("user_id", identity.UserID))

	go c.writePump(g.opts.PingInterval, g.opts.WriteTimeout, g.log)
	g.push(c, protocol.TypeConnectionAcknowledged, protocol.ConnectionAcknowledged{
		ConnectionID: c.id,
		Timestamp:    protocol.Millis(g.now()),
	})

	pongWait := g.opts.PingInterval * 2
	c.readPump(g.opts.ReadLimit, pongWait, func(data []byte) { g.dispatch(ctx, c, data) }, g.log)

	g.disconnect(ctx, c)
	g.track(c, false)
	g.metrics.ConnectionClosed(ctx)
	g.log.Info("connection closed", zap.String("connection_id", c.id), zap.String("user_id", identity.UserID))
}

// Run relays room traffic from other instances until ctx is done. Without a relay it just waits.
func (g *Gateway) Run(ctx context.Context) error {
	if g.relay == nil {
		<-ctx.Done()
		return nil
	}
	return g.relay.Subscribe(ctx, func(m RelayMessage) {
		switch m.Kind {
		case relayEnd:
			g.hub.Deliver(ctx, m.SessionID, m.Payload, "")
			g.evict(ctx, m.SessionID)
		default:
			g.hub.Deliver(ctx, m.SessionID, m.Payload, m.Exclude)
		}
	})
}

// Stats returns the number of open connections and non-empty rooms on this instance.
func (g *Gateway) Stats() (connections, rooms int) {
	return g.registry.Count(), g.hub.RoomCount()
}

// CloseSession tells every member of sessionID that it has ended and takes them out of the room.
// Called after the host ends or deletes the session.
func (g *Gateway) CloseSession(ctx context.Context, sessionID, endedBy string) {
	msg, err := protocol.Encode(protocol.TypeSessionEnded, nil, protocol.SessionEnded{
		SessionID: sessionID,
		EndedBy:   endedBy,
		Timestamp: protocol.Millis(g.now()),
	})
	if err != nil {
		g.log.Error("encode sessionEnded", zap.Error(err))
		return
	}
	g.hub.Deliver(ctx, sessionID, msg, "")
	g.publish(ctx, RelayMessage{SessionID: sessionID, Kind: relayEnd, Payload: msg})
	g.evict(ctx, sessionID)
	telemetry.EmitAsync(ctx, g.log, g.emitter, telemetry.NewEvent(telemetry.EventSessionEnded, telemetry.SourceGateway, sessionID, endedBy))
}

// Shutdown closes every open connection. Their read loops then run the normal disconnect cleanup.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (g *Gateway) track(c *Conn, open bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if open {
		g.conns[c.id] = c
	} else {
		delete(g.conns, c.id)
	}
}

func (g *Gateway) evict(ctx context.Context, sessionID string) {
	for _, c := range g.hub.Evict(sessionID) {
		if !g.registry.ClearSession(c.id, sessionID) {
			continue
		}
		reqCtx, cancel := context.WithTimeout(ctx, g.opts.RequestTimeout)
		if err := g.store.RemoveParticipant(reqCtx, sessionID, c.UserID()); err != nil {
			g.log.Warn("deactivate evicted participant", zap.String("session_id", sessionID), zap.Error(err))
		}
		cancel()
	}
	g.presence.Clear(sessionID)
}

// disconnect runs the leave cleanup for whatever session c was in. Without one it still releases
// any participant row left bound to the connection.
func (g *Gateway) disconnect(ctx context.Context, c *Conn) {
	sessionID, _ := g.registry.Unregister(c.id)
	reqCtx, cancel := context.WithTimeout(ctx, g.opts.RequestTimeout)
	defer cancel()
	if sessionID != "" {
		g.leave(reqCtx, c, sessionID)
		return
	}
	p, err := g.store.ReleaseConnection(reqCtx, c.id)
	if err != nil {
		g.log.Warn("release connection", zap.String("connection_id", c.id), zap.Error(err))
		return
	}
	if p != nil {
		g.log.Info("released stale participant", zap.String("session_id", p.SessionID), zap.String("user_id", p.UserID))
	}
}

// dispatch decodes one request, runs its handler and sends the ack.
func (g *Gateway) dispatch(ctx context.Context, c *Conn, data []byte) {
	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		g.ack(c, nil, protocol.Ack{}, apperr.Validation("malformed message"))
		return
	}
	h, ok := g.handlers[req.Type]
	if !ok {
		g.ack(c, req.ID, protocol.Ack{}, apperr.Newf(apperr.KindValidation, "unknown request type %q", req.Type))
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, g.opts.RequestTimeout)
	defer cancel()
	reqCtx = interceptors.WithIdentity(reqCtx, c.identity)
	reqCtx, span := g.tracer.Start(reqCtx, "ws "+req.Type,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("collab.connection_id", c.id),
			attribute.String("collab.user_id", c.UserID()),
		))
	defer span.End()
	start := time.Now()
	ack, err := h(reqCtx, c, req.Data)
	if err != nil {
		span.SetAttributes(attribute.String("collab.error_code", string(apperr.KindOf(err))))
		fields := []zap.Field{
			zap.String("type", req.Type),
			zap.String("connection_id", c.id),
			zap.String("user_id", c.UserID()),
			zap.Error(err),
		}
		if apperr.KindOf(err) == apperr.KindInternal {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, "request failed")
			g.log.Error("request failed", fields...)
		} else {
			g.log.Debug("request rejected", fields...)
		}
	} else {
		g.log.Debug("request handled", zap.String("type", req.Type), zap.Duration("duration", time.Since(start)))
	}
	g.ack(c, req.ID, ack, err)
}

func (g *Gateway) ack(c *Conn, id json.RawMessage, ack protocol.Ack, err error) {
	if err != nil {
		ack = protocol.Ack{Error: &protocol.Error{Code: string(apperr.KindOf(err)), Message: apperr.MessageOf(err)}}
	} else {
		ack.Success = true
	}
	msg, encErr := protocol.Encode(protocol.TypeAck, id, ack)
	if encErr != nil {
		g.log.Error("encode ack", zap.Error(encErr))
		return
	}
	if !c.enqueue(msg) && !c.closed() {
		g.metrics.MessageDropped(context.Background())
		g.log.Warn("send buffer full, ack dropped", zap.String("connection_id", c.id))
	}
}

// push sends an event to c alone.
func (g *Gateway) push(c *Conn, typ string, v any) {
	msg, err := protocol.Encode(typ, nil, v)
	if err != nil {
		g.log.Error("encode event", zap.String("type", typ), zap.Error(err))
		return
	}
	if !c.enqueue(msg) && !c.closed() {
		g.metrics.MessageDropped(context.Background())
	}
}

// broadcast sends an event to every member of sessionID except excludeConnID, here and on other instances.
func (g *Gateway) broadcast(ctx context.Context, sessionID, excludeConnID, typ string, v any) {
	msg, err := protocol.Encode(typ, nil, v)
	if err != nil {
		g.log.Error("encode event", zap.String("type", typ), zap.Error(err))
		return
	}
	g.hub.Deliver(ctx, sessionID, msg, excludeConnID)
	g.publish(ctx, RelayMessage{SessionID: sessionID, Kind: relayBroadcast, Exclude: excludeConnID, Payload: msg})
}

func (g *Gateway) publish(ctx context.Context, m RelayMessage) {
	if g.relay == nil {
		return
	}
	if err := g.relay.Publish(ctx, m); err != nil {
		g.log.Warn("relay publish failed", zap.String("session_id", m.SessionID), zap.Error(err))
	}
}

func (g *Gateway) emit(ctx context.Context, c *Conn, t telemetry.EventType, sessionID string, version int64) {
	ev := telemetry.NewEvent(t, telemetry.SourceGateway, sessionID, c.UserID())
	ev.ConnectionID = c.id
	ev.Version = version
	telemetry.EmitAsync(ctx, g.log, g.emitter, ev)
}

// profile returns the directory profile of c's user, filling names from the token when the directory has none.
func (g *Gateway) profile(ctx context.Context, c *Conn) domain.PublicProfile {
	p := g.store.Profile(ctx, c.UserID())
	if p.FirstName == "" && p.LastName == "" {
		p.FirstName = c.identity.FirstName
		p.LastName = c.identity.LastName
	}
	p.ID = c.UserID()
	return p
}

// publicParticipants strips connection ids before participant lists leave the server.
func publicParticipants(list []*domain.Participant) []*domain.Participant {
	out := make([]*domain.Participant, 0, len(list))
	for _, p := range list {
		cp := p.Clone()
		cp.ConnectionID = nil
		out = append(out, cp)
	}
	return out
}

// Package hub implements the dashboard broadcast hub: it owns the set of
// live dashboard connections, fans session updates out to all of them, and
// detects half-open connections with an application-level ping/pong
// heartbeat.
package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sessionpulse/backend/internal/session"
)

// Config tunes heartbeat timing and buffering. Zero fields take defaults.
type Config struct {
	PingInterval     time.Duration // how often an idle client is pinged
	PingTimeout      time.Duration // how long to wait for a pong
	MonitorInterval  time.Duration // heartbeat check cadence
	MaxMissedPings   int           // missed pongs before forced disconnect
	HistorySize      int           // broadcast history ring capacity
	ClientQueueSize  int           // per-client outbound queue capacity
	QueueTTL         time.Duration // queued messages older than this are dropped
	SendFailureLimit int           // consecutive write failures before removal
	RetryDelay       time.Duration // pause between write retries
}

func DefaultConfig() Config {
	return Config{
		PingInterval:     15 * time.Second,
		PingTimeout:      10 * time.Second,
		MonitorInterval:  5 * time.Second,
		MaxMissedPings:   3,
		HistorySize:      1000,
		ClientQueueSize:  100,
		QueueTTL:         60 * time.Second,
		SendFailureLimit: 3,
		RetryDelay:       100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	if c.MaxMissedPings <= 0 {
		c.MaxMissedPings = d.MaxMissedPings
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.ClientQueueSize <= 0 {
		c.ClientQueueSize = d.ClientQueueSize
	}
	if c.QueueTTL <= 0 {
		c.QueueTTL = d.QueueTTL
	}
	if c.SendFailureLimit <= 0 {
		c.SendFailureLimit = d.SendFailureLimit
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	return c
}

// Mirror receives a copy of every broadcast, e.g. for publishing to NATS.
// Implementations must not block.
type Mirror interface {
	Publish(Envelope)
}

type registration struct {
	conn  Conn
	reply chan string
}

type ingestRequest struct {
	event   string
	session any
	reply   chan int
}

type inboundMessage struct {
	clientID string
	data     []byte
}

type historyRequest struct {
	n     int
	reply chan []Envelope
}

// Hub is the session-dashboard broadcast coordinator. A single run-loop
// goroutine owns the client registry and the history ring; every public
// method hands its work to that loop over a channel, so no lock guards the
// registry. Run must be started before any other method is called.
type Hub struct {
	cfg       Config
	log       zerolog.Logger
	snapshots SnapshotSource
	mirror    Mirror

	register   chan registration
	unregister chan string
	failed     chan string
	inbound    chan inboundMessage
	ingests    chan ingestRequest
	statusReq  chan chan Status
	historyReq chan historyRequest

	clients             map[string]*client
	history             *history
	startedAt           time.Time
	lifetimeConnections uint64
	messagesSent        uint64
}

func New(cfg Config, snapshots SnapshotSource, log zerolog.Logger) *Hub {
	cfg = cfg.withDefaults()
	return &Hub{
		cfg:        cfg,
		log:        log.With().Str("component", "hub").Logger(),
		snapshots:  snapshots,
		register:   make(chan registration),
		unregister: make(chan string),
		failed:     make(chan string, 16),
		inbound:    make(chan inboundMessage, 64),
		ingests:    make(chan ingestRequest),
		statusReq:  make(chan chan Status),
		historyReq: make(chan historyRequest),
		clients:    make(map[string]*client),
		history:    newHistory(cfg.HistorySize),
		startedAt:  time.Now(),
	}
}

// SetMirror attaches an event mirror. Must be called before Run.
func (h *Hub) SetMirror(m Mirror) {
	h.mirror = m
}

// Run drives the hub until ctx is canceled. All registry mutation happens
// here.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.MonitorInterval)
	defer ticker.Stop()

	h.log.Info().
		Dur("ping_interval", h.cfg.PingInterval).
		Dur("ping_timeout", h.cfg.PingTimeout).
		Int("max_missed_pings", h.cfg.MaxMissedPings).
		Msg("hub started")

	for {
		select {
		case <-ctx.Done():
			for id := range h.clients {
				h.removeClient(id, "shutdown")
			}
			h.log.Info().Msg("hub stopped")
			return
		case reg := <-h.register:
			reg.reply <- h.addClient(reg.conn)
		case id := <-h.unregister:
			h.removeClient(id, "disconnect")
		case id := <-h.failed:
			h.removeClient(id, "send failure")
		case msg := <-h.inbound:
			h.handleInbound(msg.clientID, msg.data)
		case req := <-h.ingests:
			req.reply <- h.broadcast(req.event, req.session)
		case reply := <-h.statusReq:
			reply <- h.currentStatus()
		case req := <-h.historyReq:
			req.reply <- h.history.Recent(req.n)
		case <-ticker.C:
			h.checkClients(time.Now())
		}
	}
}

// Accept registers a connection that has already completed its handshake and
// returns the new client id. The client's first queued message is a full
// state snapshot.
func (h *Hub) Accept(conn Conn) string {
	reply := make(chan string, 1)
	h.register <- registration{conn: conn, reply: reply}
	return <-reply
}

// Disconnect removes a client. Unknown ids are a no-op.
func (h *Hub) Disconnect(clientID string) {
	h.unregister <- clientID
}

// HandleInbound feeds a raw message received from a client into the hub.
func (h *Hub) HandleInbound(clientID string, data []byte) {
	h.inbound <- inboundMessage{clientID: clientID, data: data}
}

// Ingest wraps an update event in a broadcast envelope and fans it out to
// every connected client. Returns the number of clients the message was
// queued for.
func (h *Hub) Ingest(event string, sess any) int {
	reply := make(chan int, 1)
	h.ingests <- ingestRequest{event: event, session: sess, reply: reply}
	return <-reply
}

// Status returns the hub's operational counters.
func (h *Hub) Status() Status {
	reply := make(chan Status, 1)
	h.statusReq <- reply
	return <-reply
}

// RecentHistory returns up to n recently broadcast envelopes, oldest first.
func (h *Hub) RecentHistory(n int) []Envelope {
	reply := make(chan []Envelope, 1)
	h.historyReq <- historyRequest{n: n, reply: reply}
	return <-reply
}

func (h *Hub) addClient(conn Conn) string {
	now := time.Now()
	id := uuid.NewString()
	c := newClient(id, conn, h.cfg.ClientQueueSize, now)
	h.clients[id] = c
	h.lifetimeConnections++

	go c.writePump(h.cfg.QueueTTL, h.cfg.RetryDelay, h.cfg.SendFailureLimit, h.failed, h.log)

	h.sendSnapshot(c, now)
	h.log.Info().Str("client", id).Int("connected", len(h.clients)).Msg("client connected")
	return id
}

func (h *Hub) removeClient(id, reason string) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	c.close()
	h.log.Info().Str("client", id).Str("reason", reason).Int("connected", len(h.clients)).Msg("client removed")
}

func (h *Hub) broadcast(event string, sess any) int {
	env := Envelope{
		Type:        TypeSessionUpdate,
		Event:       event,
		Session:     sess,
		Timestamp:   time.Now().UTC(),
		BroadcastID: uuid.NewString(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("broadcast marshal failed")
		return 0
	}

	h.history.Append(env)
	if h.mirror != nil {
		h.mirror.Publish(env)
	}

	now := time.Now()
	for _, c := range h.clients {
		if dropped := c.enqueue(data, now); dropped > 0 {
			h.log.Debug().Str("client", c.id).Int("dropped", dropped).Msg("client queue overflow")
		}
	}
	h.messagesSent += uint64(len(h.clients))
	return len(h.clients)
}

func (h *Hub) handleInbound(clientID string, data []byte) {
	c, ok := h.clients[clientID]
	if !ok {
		h.log.Debug().Str("client", clientID).Msg("message from unknown client")
		return
	}

	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.log.Warn().Err(err).Str("client", clientID).Msg("malformed client message dropped")
		return
	}

	now := time.Now()
	switch msg.Type {
	case TypePing:
		h.sendControl(c, TypePong, now)
	case TypePong:
		c.missedPings = 0
		c.pingOutstanding = false
		c.lastPongAt = now
	case TypeHeartbeat:
		h.sendControl(c, TypeHeartbeatAck, now)
	case TypeRequestData:
		h.sendSnapshot(c, now)
	default:
		h.log.Debug().Str("client", clientID).Str("type", msg.Type).Msg("unrecognized message type ignored")
	}
}

// checkClients is the heartbeat monitor: time out outstanding pings, drop
// clients past the missed-pong threshold, and ping clients that are due.
func (h *Hub) checkClients(now time.Time) {
	for id, c := range h.clients {
		if c.pingOutstanding && now.Sub(c.lastPingSent) > h.cfg.PingTimeout {
			c.missedPings++
			c.pingOutstanding = false
			h.log.Debug().Str("client", id).Int("missed", c.missedPings).Msg("ping timed out")
			if c.missedPings >= h.cfg.MaxMissedPings {
				h.removeClient(id, "unresponsive")
				continue
			}
		}
		if !c.pingOutstanding && (c.lastPingSent.IsZero() || now.Sub(c.lastPingSent) >= h.cfg.PingInterval) {
			h.sendControl(c, TypePing, now)
			c.lastPingSent = now
			c.pingOutstanding = true
		}
	}
}

func (h *Hub) sendControl(c *client, msgType string, now time.Time) {
	data, err := json.Marshal(Envelope{Type: msgType, Timestamp: now.UTC()})
	if err != nil {
		return
	}
	c.enqueue(data, now)
}

func (h *Hub) sendSnapshot(c *client, now time.Time) {
	var snap Snapshot
	if h.snapshots != nil {
		snap = h.snapshots.Snapshot()
	}
	snap.Type = TypeInitialData
	snap.Timestamp = now.UTC()
	if snap.ActiveSessions == nil {
		snap.ActiveSessions = []*session.State{}
	}
	if snap.RecentSessions == nil {
		snap.RecentSessions = []*session.State{}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		h.log.Error().Err(err).Msg("snapshot marshal failed")
		return
	}
	c.enqueue(data, now)
	h.messagesSent++
}

func (h *Hub) currentStatus() Status {
	return Status{
		ConnectedClients:    len(h.clients),
		LifetimeConnections: h.lifetimeConnections,
		MessagesSent:        h.messagesSent,
		UptimeSeconds:       int64(time.Since(h.startedAt).Seconds()),
	}
}

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sessionpulse/backend/internal/blocks"
	"github.com/sessionpulse/backend/internal/session"
)

// fakeConn records every write and can be told to fail.
type fakeConn struct {
	mu      sync.Mutex
	writes  chan []byte
	failAll bool
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{writes: make(chan []byte, 256)}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return errors.New("transport broken")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.writes <- buf
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) setFailAll(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAll = v
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// recv waits for the next written message and decodes it.
func (c *fakeConn) recv(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-c.writes:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("invalid JSON written to client: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// expectNoMessage asserts nothing is written within the window.
func (c *fakeConn) expectNoMessage(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case data := <-c.writes:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(window):
	}
}

type stubSnapshots struct {
	active []*session.State
	recent []*session.State
}

func (s *stubSnapshots) Snapshot() Snapshot {
	return Snapshot{
		ActiveSessions: s.active,
		RecentSessions: s.recent,
		Analytics:      blocks.Analytics{ActiveSessions: len(s.active)},
	}
}

// quietConfig keeps the heartbeat monitor out of the way unless a test
// wants it.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.MonitorInterval = time.Hour
	cfg.PingInterval = time.Hour
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func startHub(t *testing.T, cfg Config, snaps SnapshotSource) *Hub {
	t.Helper()
	h := New(cfg, snaps, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func TestAcceptSendsSnapshotBeforeBroadcasts(t *testing.T) {
	snaps := &stubSnapshots{
		active: []*session.State{{ID: "a"}, {ID: "b"}},
	}
	h := startHub(t, quietConfig(), snaps)

	conn := newFakeConn()
	h.Accept(conn)

	first := conn.recv(t)
	if first["type"] != TypeInitialData {
		t.Fatalf("first message type = %v, want %s", first["type"], TypeInitialData)
	}
	active, ok := first["active_sessions"].([]any)
	if !ok || len(active) != 2 {
		t.Fatalf("active_sessions = %v, want 2 entries", first["active_sessions"])
	}

	h.Ingest(session.EventStarted, &session.State{ID: "s1"})

	second := conn.recv(t)
	if second["type"] != TypeSessionUpdate {
		t.Fatalf("second message type = %v, want %s", second["type"], TypeSessionUpdate)
	}
	if second["event"] != session.EventStarted {
		t.Errorf("event = %v, want %s", second["event"], session.EventStarted)
	}
	sess, ok := second["session"].(map[string]any)
	if !ok || sess["id"] != "s1" {
		t.Errorf("session = %v, want id s1", second["session"])
	}
	if second["broadcast_id"] == "" || second["broadcast_id"] == nil {
		t.Error("broadcast_id missing")
	}
}

func TestAcceptAssignsDistinctIDs(t *testing.T) {
	h := startHub(t, quietConfig(), &stubSnapshots{})

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		id := h.Accept(newFakeConn())
		if id == "" {
			t.Fatal("empty client id")
		}
		if seen[id] {
			t.Fatalf("duplicate client id %s", id)
		}
		seen[id] = true
	}

	st := h.Status()
	if st.ConnectedClients != 5 {
		t.Errorf("ConnectedClients = %d, want 5", st.ConnectedClients)
	}
	if st.LifetimeConnections != 5 {
		t.Errorf("LifetimeConnections = %d, want 5", st.LifetimeConnections)
	}
}

func TestIngestFansOutToAllClients(t *testing.T) {
	h := startHub(t, quietConfig(), &stubSnapshots{})

	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, c := range conns {
		h.Accept(c)
		c.recv(t) // snapshot
	}

	notified := h.Ingest(session.EventUpdated, &session.State{ID: "s9"})
	if notified != 3 {
		t.Fatalf("clients_notified = %d, want 3", notified)
	}

	var ids []any
	for _, c := range conns {
		msg := c.recv(t)
		if msg["type"] != TypeSessionUpdate {
			t.Fatalf("type = %v, want %s", msg["type"], TypeSessionUpdate)
		}
		ids = append(ids, msg["broadcast_id"])
	}
	if ids[0] != ids[1] || ids[1] != ids[2] {
		t.Errorf("broadcast ids differ across clients: %v", ids)
	}
}

func TestIngestIsolatesFailingClient(t *testing.T) {
	cfg := quietConfig()
	cfg.SendFailureLimit = 1
	h := startHub(t, cfg, &stubSnapshots{})

	good1, good2, bad := newFakeConn(), newFakeConn(), newFakeConn()
	for _, c := range []*fakeConn{good1, good2, bad} {
		h.Accept(c)
		c.recv(t)
	}
	bad.setFailAll(true)

	h.Ingest(session.EventUpdated, &session.State{ID: "s1"})

	for _, c := range []*fakeConn{good1, good2} {
		if msg := c.recv(t); msg["type"] != TypeSessionUpdate {
			t.Fatalf("healthy client got %v", msg["type"])
		}
	}

	// The failing client is removed once its write pump gives up.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Status().ConnectedClients == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := h.Status().ConnectedClients; got != 2 {
		t.Fatalf("ConnectedClients = %d, want 2 after send failure", got)
	}
	if !bad.isClosed() {
		t.Error("failing client's connection was not closed")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := startHub(t, quietConfig(), &stubSnapshots{})

	id := h.Accept(newFakeConn())
	h.Disconnect(id)
	h.Disconnect(id)
	h.Disconnect("never-existed")

	if got := h.Status().ConnectedClients; got != 0 {
		t.Errorf("ConnectedClients = %d, want 0", got)
	}
}

func TestPingYieldsExactlyOnePong(t *testing.T) {
	h := startHub(t, quietConfig(), &stubSnapshots{})

	conn := newFakeConn()
	id := h.Accept(conn)
	conn.recv(t) // snapshot

	other := newFakeConn()
	h.Accept(other)
	other.recv(t)

	h.HandleInbound(id, []byte(`{"type":"ping"}`))

	if msg := conn.recv(t); msg["type"] != TypePong {
		t.Fatalf("response type = %v, want %s", msg["type"], TypePong)
	}
	conn.expectNoMessage(t, 50*time.Millisecond)
	other.expectNoMessage(t, 50*time.Millisecond)
}

func TestHeartbeatGetsAck(t *testing.T) {
	h := startHub(t, quietConfig(), &stubSnapshots{})

	conn := newFakeConn()
	id := h.Accept(conn)
	conn.recv(t)

	h.HandleInbound(id, []byte(`{"type":"heartbeat"}`))
	if msg := conn.recv(t); msg["type"] != TypeHeartbeatAck {
		t.Fatalf("response type = %v, want %s", msg["type"], TypeHeartbeatAck)
	}
}

func TestRequestDataResendsSnapshot(t *testing.T) {
	snaps := &stubSnapshots{active: []*session.State{{ID: "a"}}}
	h := startHub(t, quietConfig(), snaps)

	conn := newFakeConn()
	id := h.Accept(conn)
	conn.recv(t)

	h.HandleInbound(id, []byte(`{"type":"request_data"}`))
	msg := conn.recv(t)
	if msg["type"] != TypeInitialData {
		t.Fatalf("type = %v, want %s", msg["type"], TypeInitialData)
	}
}

func TestMalformedAndUnknownInboundIgnored(t *testing.T) {
	h := startHub(t, quietConfig(), &stubSnapshots{})

	conn := newFakeConn()
	id := h.Accept(conn)
	conn.recv(t)

	h.HandleInbound(id, []byte(`{not json`))
	h.HandleInbound(id, []byte(`{"type":"warp_drive"}`))
	h.HandleInbound("ghost", []byte(`{"type":"ping"}`))

	conn.expectNoMessage(t, 50*time.Millisecond)
	if got := h.Status().ConnectedClients; got != 1 {
		t.Errorf("ConnectedClients = %d, want 1", got)
	}
}

func TestIngestRecordsHistory(t *testing.T) {
	h := startHub(t, quietConfig(), &stubSnapshots{})

	h.Ingest(session.EventStarted, &session.State{ID: "s1"})
	h.Ingest(session.EventUpdated, &session.State{ID: "s1"})

	hist := h.RecentHistory(10)
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Event != session.EventStarted || hist[1].Event != session.EventUpdated {
		t.Errorf("history order wrong: %s then %s", hist[0].Event, hist[1].Event)
	}
	if hist[0].BroadcastID == hist[1].BroadcastID {
		t.Error("broadcast ids should be unique per ingest")
	}
}

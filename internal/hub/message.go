package hub

import (
	"time"

	"github.com/sessionpulse/backend/internal/blocks"
	"github.com/sessionpulse/backend/internal/session"
)

// Outbound message types.
const (
	TypeInitialData   = "initial_data"
	TypeSessionUpdate = "session_update"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeHeartbeatAck  = "heartbeat_ack"
)

// Inbound message types.
const (
	TypeHeartbeat   = "heartbeat"
	TypeRequestData = "request_data"
)

// Envelope is the immutable wrapper every broadcast is delivered in. For
// control traffic (ping/pong/heartbeat_ack) only Type and Timestamp are set.
type Envelope struct {
	Type        string    `json:"type"`
	Event       string    `json:"event,omitempty"`
	Session     any       `json:"session,omitempty"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	BroadcastID string    `json:"broadcast_id,omitempty"`
}

// clientMessage is the shape of messages read from a dashboard client.
type clientMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Snapshot is the full current-state payload sent as the first message to
// every new connection and on request_data.
type Snapshot struct {
	Type           string           `json:"type"`
	ActiveSessions []*session.State `json:"active_sessions"`
	RecentSessions []*session.State `json:"recent_sessions"`
	Analytics      blocks.Analytics `json:"analytics"`
	Timestamp      time.Time        `json:"timestamp"`
}

// SnapshotSource supplies the snapshot content; the hub fills in Type and
// Timestamp itself.
type SnapshotSource interface {
	Snapshot() Snapshot
}

// Status is the hub's operational counters, served by /api/status.
type Status struct {
	ConnectedClients    int    `json:"connected_clients"`
	LifetimeConnections uint64 `json:"lifetime_connections"`
	MessagesSent        uint64 `json:"messages_sent"`
	UptimeSeconds       int64  `json:"uptime_seconds"`
}

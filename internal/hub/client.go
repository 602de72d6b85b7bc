package hub

import (
	"time"

	"github.com/rs/zerolog"
)

// Conn is the transport side of a dashboard connection. The websocket layer
// wraps *websocket.Conn; tests substitute an in-memory fake.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

type queuedMessage struct {
	data       []byte
	enqueuedAt time.Time
}

// client is one live dashboard connection. All fields except the send queue
// are owned by the hub's run loop; the write pump only ever touches the
// queue, the done channel, and the transport.
type client struct {
	id   string
	conn Conn
	send chan queuedMessage
	done chan struct{}

	connectedAt     time.Time
	lastPingSent    time.Time
	lastPongAt      time.Time
	pingOutstanding bool
	missedPings     int
}

func newClient(id string, conn Conn, queueSize int, now time.Time) *client {
	return &client{
		id:          id,
		conn:        conn,
		send:        make(chan queuedMessage, queueSize),
		done:        make(chan struct{}),
		connectedAt: now,
	}
}

// enqueue adds data to the outbound queue. When the queue is full the oldest
// entry is dropped so a stalled dashboard sees the freshest state once it
// drains. Returns the number of messages dropped.
func (c *client) enqueue(data []byte, now time.Time) int {
	dropped := 0
	for {
		select {
		case c.send <- queuedMessage{data: data, enqueuedAt: now}:
			return dropped
		default:
		}
		select {
		case <-c.send:
			dropped++
		default:
		}
	}
}

// close is idempotent; the hub calls it exactly once per client because
// removal from the registry happens in the same step.
func (c *client) close() {
	close(c.done)
	c.conn.Close()
}

// writePump drains the queue onto the transport. Messages older than ttl are
// discarded unsent. A failed write is put back on the queue for a later
// attempt; after failureLimit consecutive failures the client is reported on
// the failed channel and the pump exits.
func (c *client) writePump(ttl, retryDelay time.Duration, failureLimit int, failed chan<- string, log zerolog.Logger) {
	failures := 0
	for {
		select {
		case <-c.done:
			return
		case qm := <-c.send:
			if ttl > 0 && time.Since(qm.enqueuedAt) > ttl {
				log.Debug().Str("client", c.id).Msg("expired queued message dropped")
				continue
			}
			if err := c.conn.WriteMessage(qm.data); err != nil {
				failures++
				log.Debug().Err(err).Str("client", c.id).Int("failures", failures).Msg("send failed, message re-queued")
				c.enqueue(qm.data, qm.enqueuedAt)
				if failures >= failureLimit {
					select {
					case failed <- c.id:
					case <-c.done:
					}
					return
				}
				select {
				case <-c.done:
					return
				case <-time.After(retryDelay):
				}
				continue
			}
			failures = 0
		}
	}
}

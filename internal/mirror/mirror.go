// Package mirror publishes every dashboard broadcast to NATS JetStream so
// other tools (cost analyzers, schedulers) can consume the event stream
// without talking to the hub, and optionally feeds remote updates back in.
package mirror

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sessionpulse/backend/internal/hub"
)

const (
	streamName      = "SESSION_EVENTS"
	streamRetention = 24 * time.Hour
)

type Mirror struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
	log    zerolog.Logger
	sub    *nats.Subscription
}

// Connect dials NATS and ensures the event stream exists. The stream keeps
// events under prefix.> with a bounded retention.
func Connect(url, prefix string, log zerolog.Logger) (*Mirror, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("getting JetStream context: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{prefix + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   streamRetention,
	}
	if _, err := js.StreamInfo(streamName); err != nil {
		if _, err := js.AddStream(cfg); err != nil {
			nc.Close()
			return nil, fmt.Errorf("creating stream %s: %w", streamName, err)
		}
	} else if _, err := js.UpdateStream(cfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("updating stream %s: %w", streamName, err)
	}

	return &Mirror{
		nc:     nc,
		js:     js,
		prefix: prefix,
		log:    log.With().Str("component", "mirror").Logger(),
	}, nil
}

// Publish implements hub.Mirror. Publishes are async so the hub's broadcast
// loop never waits on the broker.
func (m *Mirror) Publish(env hub.Envelope) {
	subject := m.prefix + "." + env.Event
	if env.Event == "" {
		subject = m.prefix + "." + env.Type
	}

	data, err := json.Marshal(env)
	if err != nil {
		m.log.Error().Err(err).Str("subject", subject).Msg("marshal failed")
		return
	}
	if _, err := m.js.PublishAsync(subject, data); err != nil {
		m.log.Warn().Err(err).Str("subject", subject).Msg("publish failed")
	}
}

type remoteUpdate struct {
	Event   string          `json:"event"`
	Session json.RawMessage `json:"session"`
}

// BridgeIngest subscribes to subject and forwards well-formed remote updates
// into the hub, making NATS a second update source next to the local
// monitor.
func (m *Mirror) BridgeIngest(h *hub.Hub, subject string) error {
	sub, err := m.nc.Subscribe(subject, func(msg *nats.Msg) {
		var upd remoteUpdate
		if err := json.Unmarshal(msg.Data, &upd); err != nil || upd.Event == "" {
			m.log.Debug().Str("subject", subject).Msg("malformed remote update dropped")
			return
		}
		h.Ingest(upd.Event, upd.Session)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	m.sub = sub
	return nil
}

func (m *Mirror) Close() {
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
	m.nc.Close()
}

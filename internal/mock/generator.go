// Package mock feeds synthetic sessions through the same store and ingest
// boundary the real monitor uses, for developing the dashboard without any
// live coding sessions.
package mock

import (
	"context"
	"math/rand"
	"time"

	"github.com/sessionpulse/backend/internal/session"
)

// Broadcaster matches the hub's ingest boundary.
type Broadcaster interface {
	Ingest(event string, sess any) int
}

type mockSession struct {
	state         *session.State
	tokensPerTick int
	pattern       string
	tools         []string
	toolIdx       int
	ticks         int
}

var commonTools = []string{"Read", "Write", "Edit", "Bash", "Grep", "Glob"}

type Generator struct {
	store    *session.Store
	out      Broadcaster
	sessions []*mockSession
}

func NewGenerator(store *session.Store, out Broadcaster) *Generator {
	return &Generator{store: store, out: out}
}

func (g *Generator) Start(ctx context.Context) {
	now := time.Now()

	g.sessions = []*mockSession{
		newMockSession("mock-opus-refactor", "claude-opus-4-5", "/home/user/myproject", 1200, "steady", now),
		newMockSession("mock-sonnet-tests", "claude-sonnet-4-5", "/home/user/webapp", 3500, "burst", now),
		newMockSession("mock-haiku-docs", "claude-haiku-4-5", "/home/user/docs-site", 600, "stall", now),
	}

	for _, ms := range g.sessions {
		g.store.Update(ms.state)
		g.out.Ingest(session.EventStarted, ms.state.Clone())
	}

	ticker := time.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.tick()
			}
		}
	}()
}

func newMockSession(id, model, dir string, tokensPerTick int, pattern string, now time.Time) *mockSession {
	return &mockSession{
		state: &session.State{
			ID:               id,
			Name:             id,
			Source:           "mock",
			Model:            model,
			WorkingDir:       dir,
			MaxContextTokens: 200000,
			StartedAt:        now,
			LastActivityAt:   now,
			Activity:         session.Starting,
		},
		tokensPerTick: tokensPerTick,
		pattern:       pattern,
		tools:         commonTools,
	}
}

func (g *Generator) tick() {
	now := time.Now()
	for _, ms := range g.sessions {
		ms.ticks++
		st := ms.state

		delta := ms.tokensPerTick
		switch ms.pattern {
		case "burst":
			if ms.ticks%5 != 0 {
				delta = 0
			} else {
				delta *= 5
			}
		case "stall":
			if ms.ticks%7 < 3 {
				delta = 0
			}
		}

		if delta == 0 {
			st.Activity = session.Waiting
		} else {
			st.TokensUsed += delta
			st.MessageCount++
			if rand.Intn(3) == 0 {
				st.Activity = session.ToolUse
				st.CurrentTool = ms.tools[ms.toolIdx%len(ms.tools)]
				ms.toolIdx++
				st.ToolCallCount++
			} else {
				st.Activity = session.Thinking
			}
			st.LastActivityAt = now
		}
		st.UpdateUtilization()

		g.store.Update(st)
		g.out.Ingest(session.EventUpdated, st.Clone())
	}
}

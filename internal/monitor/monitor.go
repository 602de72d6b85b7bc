// Package monitor is the update source feeding the dashboard: it polls
// session transcripts on disk, maintains the session store, and pushes
// lifecycle events through the hub's ingest boundary.
package monitor

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/sessionpulse/backend/internal/config"
	"github.com/sessionpulse/backend/internal/session"
)

const processPollEvery = 10 * time.Second

// Broadcaster is the slice of the hub the monitor needs.
type Broadcaster interface {
	Ingest(event string, sess any) int
}

type trackedSession struct {
	handle     SessionHandle
	fileOffset int64
	lastDataAt time.Time
}

func trackingKey(source, sessionID string) string {
	return source + ":" + sessionID
}

type Monitor struct {
	cfg     *config.Config
	store   *session.Store
	out     Broadcaster
	sources []Source
	log     zerolog.Logger

	tracked         map[string]*trackedSession
	processes       map[string]AgentProcess
	lastProcessPoll time.Time
}

func New(cfg *config.Config, store *session.Store, out Broadcaster, sources []Source, log zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:     cfg,
		store:   store,
		out:     out,
		sources: sources,
		log:     log.With().Str("component", "monitor").Logger(),
		tracked: make(map[string]*trackedSession),
	}
}

func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Monitor.PollInterval)
	defer ticker.Stop()

	names := make([]string, len(m.sources))
	for i, s := range m.sources {
		names[i] = s.Name()
	}
	m.log.Info().Strs("sources", names).Dur("poll_interval", m.cfg.Monitor.PollInterval).Msg("monitor started")

	m.poll(time.Now())

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("monitor stopped")
			return
		case <-ticker.C:
			m.poll(time.Now())
		}
	}
}

func (m *Monitor) poll(now time.Time) {
	m.refreshProcesses(now)

	active := make(map[string]bool)

	for _, src := range m.sources {
		handles, err := src.Discover()
		if err != nil {
			m.log.Warn().Err(err).Str("source", src.Name()).Msg("discovery failed")
			continue
		}

		for _, h := range handles {
			key := trackingKey(h.Source, h.SessionID)
			active[key] = true

			ts, tracked := m.tracked[key]
			if !tracked {
				ts = &trackedSession{handle: h, lastDataAt: now}
				m.tracked[key] = ts
			}

			update, newOffset, err := src.Parse(ts.handle, ts.fileOffset)
			if err != nil {
				m.log.Warn().Err(err).Str("session", key).Msg("parse failed")
				continue
			}
			hasNewData := newOffset > ts.fileOffset
			ts.fileOffset = newOffset
			if hasNewData {
				if !update.LastTime.IsZero() {
					ts.lastDataAt = update.LastTime
				} else {
					ts.lastDataAt = now
				}
			}

			state, existed := m.store.Get(key)
			if !existed {
				// Old transcripts rediscovered on startup stay out of the
				// store; they'd flash as active for one poll otherwise.
				if m.isStale(ts.lastDataAt, now) {
					continue
				}
				state = m.newState(key, h, update, now)
				m.log.Info().Str("session", key).Str("dir", state.WorkingDir).Msg("tracking new session")
			}

			if !hasNewData && existed {
				continue
			}

			m.applyUpdate(state, update, now)
			m.store.Update(state)

			if !existed {
				m.out.Ingest(session.EventStarted, state.Clone())
			} else {
				m.out.Ingest(session.EventUpdated, state.Clone())
			}
		}
	}

	m.sweepStale(active, now)
}

func (m *Monitor) newState(key string, h SessionHandle, update SourceUpdate, now time.Time) *session.State {
	startedAt := h.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}
	workingDir := h.WorkingDir
	if workingDir == "" {
		workingDir = update.WorkingDir
	}
	return &session.State{
		ID:         key,
		Name:       filepath.Base(workingDir),
		Source:     h.Source,
		Activity:   session.Starting,
		StartedAt:  startedAt,
		WorkingDir: workingDir,
	}
}

func (m *Monitor) applyUpdate(state *session.State, update SourceUpdate, now time.Time) {
	if update.WorkingDir != "" && update.WorkingDir != state.WorkingDir {
		state.WorkingDir = update.WorkingDir
		state.Name = filepath.Base(update.WorkingDir)
	}
	if update.Model != "" {
		state.Model = update.Model
	}
	if update.LastTool != "" {
		state.CurrentTool = update.LastTool
	}
	if update.HasData() {
		state.Activity = update.Activity
		state.CompletedAt = nil
	}

	state.MessageCount += update.MessageCount
	state.ToolCallCount += update.ToolCalls

	if update.LastTime.IsZero() {
		state.LastActivityAt = now
	} else {
		state.LastActivityAt = update.LastTime
	}

	m.resolveTokens(state, update)
	state.UpdateUtilization()

	if p, ok := m.processes[state.WorkingDir]; ok {
		state.PID = p.PID
	}
}

// resolveTokens prefers real usage figures from the transcript; sessions
// whose transcript never reports usage get a rough per-message estimate and
// are flagged as estimated.
func (m *Monitor) resolveTokens(state *session.State, update SourceUpdate) {
	model := state.Model
	if model == "" {
		model = "unknown"
	}
	state.MaxContextTokens = m.cfg.MaxContextTokens(model)

	if update.ContextTokens > 0 {
		state.TokensUsed = update.ContextTokens + update.OutputTokens
		state.TokenEstimated = false
		return
	}
	if state.TokensUsed == 0 || state.TokenEstimated {
		state.TokensUsed = state.MessageCount*350 + state.ToolCallCount*700
		state.TokenEstimated = true
	}
}

func (m *Monitor) isStale(lastData, now time.Time) bool {
	staleAfter := m.cfg.Monitor.SessionStaleAfter
	return staleAfter > 0 && now.Sub(lastData) > staleAfter
}

// sweepStale marks sessions whose transcript went quiet or disappeared as
// complete and announces the end exactly once. Terminal sessions stay in
// the store so they show up in the recent list.
func (m *Monitor) sweepStale(active map[string]bool, now time.Time) {
	for key, ts := range m.tracked {
		gone := !active[key]
		if !gone && !m.isStale(ts.lastDataAt, now) {
			continue
		}

		state, ok := m.store.Get(key)
		if ok && !state.IsTerminal() {
			completedAt := now
			state.Activity = session.Complete
			if gone {
				state.Activity = session.Lost
			}
			state.CompletedAt = &completedAt
			m.store.Update(state)
			m.out.Ingest(session.EventEnded, state.Clone())
			m.log.Info().Str("session", key).Str("activity", state.Activity.String()).Msg("session ended")
		}
		if gone {
			delete(m.tracked, key)
		}
	}
}

func (m *Monitor) refreshProcesses(now time.Time) {
	if !m.lastProcessPoll.IsZero() && now.Sub(m.lastProcessPoll) < processPollEvery {
		return
	}
	m.lastProcessPoll = now

	procs, err := DiscoverAgentProcesses()
	if err != nil {
		m.log.Debug().Err(err).Msg("process discovery failed")
		return
	}
	m.processes = procs
}

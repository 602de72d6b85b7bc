package monitor

import (
	"time"

	"github.com/sessionpulse/backend/internal/session"
)

// SessionHandle identifies a discovered session transcript.
type SessionHandle struct {
	SessionID  string
	LogPath    string
	WorkingDir string
	Source     string
	StartedAt  time.Time
}

// SourceUpdate is the delta a source extracted since the last poll.
type SourceUpdate struct {
	Model         string
	ContextTokens int // latest reported context size (input + cache)
	OutputTokens  int
	MessageCount  int
	ToolCalls     int
	LastTool      string
	Activity      session.Activity
	LastTime      time.Time
	WorkingDir    string
}

func (u SourceUpdate) HasData() bool {
	return u.MessageCount > 0 || u.ToolCalls > 0 || u.ContextTokens > 0
}

// Source discovers live session transcripts and parses them incrementally.
type Source interface {
	Name() string
	Discover() ([]SessionHandle, error)
	Parse(handle SessionHandle, offset int64) (SourceUpdate, int64, error)
}

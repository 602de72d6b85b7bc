package server

import (
	"time"

	"github.com/sessionpulse/backend/internal/blocks"
	"github.com/sessionpulse/backend/internal/hub"
	"github.com/sessionpulse/backend/internal/session"
)

// SnapshotProvider assembles the full-state payload from the session store
// and the block calculator. It implements hub.SnapshotSource.
type SnapshotProvider struct {
	store  *session.Store
	calc   *blocks.Calculator
	recent int
}

func NewSnapshotProvider(store *session.Store, calc *blocks.Calculator, recent int) *SnapshotProvider {
	if recent <= 0 {
		recent = 20
	}
	return &SnapshotProvider{store: store, calc: calc, recent: recent}
}

func (p *SnapshotProvider) Snapshot() hub.Snapshot {
	now := time.Now()
	all := p.store.GetAll()
	return hub.Snapshot{
		ActiveSessions: p.store.Active(),
		RecentSessions: p.store.Recent(p.recent),
		Analytics:      p.calc.Aggregate(now, all),
	}
}

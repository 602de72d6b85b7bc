// Package blocks computes the rolling five-hour usage windows the dashboard
// reports against, mirroring how Claude Code meters usage: a block is
// anchored at the hour of the first activity inside it and spans a fixed
// duration.
package blocks

import (
	"time"

	"github.com/sessionpulse/backend/internal/session"
)

// Block is the current usage window as shown on the dashboard.
type Block struct {
	Active           bool      `json:"active"`
	StartsAt         time.Time `json:"startsAt,omitempty"`
	EndsAt           time.Time `json:"endsAt,omitempty"`
	TokensUsed       int       `json:"tokensUsed"`
	SessionCount     int       `json:"sessionCount"`
	RemainingSeconds int       `json:"remainingSeconds"`
}

// Analytics is the aggregated view sent with every dashboard snapshot.
type Analytics struct {
	ActiveSessions int   `json:"active_sessions"`
	SessionsToday  int   `json:"sessions_today"`
	TokensToday    int   `json:"tokens_today"`
	CurrentBlock   Block `json:"current_block"`
}

type Calculator struct {
	duration time.Duration
}

func NewCalculator(duration time.Duration) *Calculator {
	if duration <= 0 {
		duration = 5 * time.Hour
	}
	return &Calculator{duration: duration}
}

// Current derives the block containing now. The anchor is the earliest
// session activity within the lookback window, truncated to the hour; with
// no recent activity the block is inactive.
func (c *Calculator) Current(now time.Time, sessions []*session.State) Block {
	var anchor time.Time
	for _, s := range sessions {
		ref := s.StartedAt
		if ref.IsZero() {
			ref = s.LastActivityAt
		}
		if ref.IsZero() || ref.After(now) {
			continue
		}
		if now.Sub(ref) >= c.duration && now.Sub(s.LastActivityAt) >= c.duration {
			continue
		}
		if anchor.IsZero() || ref.Before(anchor) {
			anchor = ref
		}
	}
	if anchor.IsZero() {
		return Block{}
	}

	start := anchor.Truncate(time.Hour)
	// Slide forward so now always falls inside [start, start+duration).
	for !now.Before(start.Add(c.duration)) {
		start = start.Add(c.duration)
	}
	end := start.Add(c.duration)

	b := Block{
		Active:           true,
		StartsAt:         start,
		EndsAt:           end,
		RemainingSeconds: int(end.Sub(now).Seconds()),
	}
	for _, s := range sessions {
		if s.LastActivityAt.Before(start) || !s.LastActivityAt.Before(end) {
			continue
		}
		b.TokensUsed += s.TokensUsed
		b.SessionCount++
	}
	return b
}

// Aggregate builds the analytics payload for a snapshot.
func (c *Calculator) Aggregate(now time.Time, sessions []*session.State) Analytics {
	a := Analytics{
		CurrentBlock: c.Current(now, sessions),
	}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, s := range sessions {
		if !s.IsTerminal() {
			a.ActiveSessions++
		}
		if !s.LastActivityAt.Before(dayStart) {
			a.SessionsToday++
			a.TokensToday += s.TokensUsed
		}
	}
	return a
}

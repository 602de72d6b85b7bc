package session

import (
	"sort"
	"sync"
)

// Store is the in-memory read model the dashboard is served from. All
// accessors return copies so callers can never mutate shared state.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*State
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*State),
	}
}

func (s *Store) Get(id string) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

func (s *Store) GetAll() []*State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*State, 0, len(s.sessions))
	for _, st := range s.sessions {
		result = append(result, st.Clone())
	}
	return result
}

func (s *Store) Update(state *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.ID] = state.Clone()
}

func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Active returns non-terminal sessions ordered by start time.
func (s *Store) Active() []*State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*State, 0, len(s.sessions))
	for _, st := range s.sessions {
		if !st.IsTerminal() {
			result = append(result, st.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result
}

// Recent returns up to n sessions ordered by last activity, newest first.
func (s *Store) Recent(n int) []*State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*State, 0, len(s.sessions))
	for _, st := range s.sessions {
		result = append(result, st.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActivityAt.After(result[j].LastActivityAt)
	})
	if n > 0 && len(result) > n {
		result = result[:n]
	}
	return result
}

func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, st := range s.sessions {
		if !st.IsTerminal() {
			count++
		}
	}
	return count
}

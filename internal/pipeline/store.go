package pipeline

import "sync"

// DefaultHistory is how many runs a Store keeps by default.
const DefaultHistory = 20

// Store keeps the most recent run results in memory, newest first.
type Store struct {
	mu      sync.RWMutex
	max     int
	results []*Result
}

// NewStore returns a Store holding at most max results.
func NewStore(max int) *Store {
	if max <= 0 {
		max = DefaultHistory
	}
	return &Store{max: max}
}

// Add records a result, evicting the oldest when full.
func (s *Store) Add(r *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append([]*Result{r}, s.results...)
	if len(s.results) > s.max {
		s.results[len(s.results)-1] = nil
		s.results = s.results[:s.max]
	}
}

// Get returns the result with the given run id.
func (s *Store) Get(runID string) (*Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.results {
		if r.RunID == runID {
			return r, true
		}
	}
	return nil, false
}

// Latest returns the most recent result.
func (s *Store) Latest() (*Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.results) == 0 {
		return nil, false
	}
	return s.results[0], true
}

// List returns all kept results, newest first.
func (s *Store) List() []*Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Result, len(s.results))
	copy(out, s.results)
	return out
}

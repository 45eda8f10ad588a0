package progress

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cachedUpdate is the latest progress published (or publishable) for a task,
// kept for heartbeat republication and de-duplication.
type cachedUpdate struct {
	Percentage float64
	Summary    string
}

// PublisherState is the process-wide publication bookkeeping: the
// last-summary-by-task cache and the set of finalized tasks. The cache is
// LRU-bounded and finalized marks are evicted explicitly by Forget, so
// neither structure grows for the lifetime of a long-running worker.
type PublisherState struct {
	mu        sync.Mutex
	cache     *lru.Cache[string, cachedUpdate]
	finalized map[string]struct{}
}

// NewPublisherState creates state bounded to maxTasks cached summaries.
func NewPublisherState(maxTasks int) (*PublisherState, error) {
	if maxTasks <= 0 {
		maxTasks = 1024
	}
	cache, err := lru.New[string, cachedUpdate](maxTasks)
	if err != nil {
		return nil, err
	}
	return &PublisherState{
		cache:     cache,
		finalized: make(map[string]struct{}),
	}, nil
}

// LastSummary returns the summary last published for taskID.
func (s *PublisherState) LastSummary(taskID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cached, ok := s.cache.Get(taskID)
	if !ok {
		return "", false
	}
	return cached.Summary, true
}

// Remember stores the update last published for taskID.
func (s *PublisherState) Remember(taskID string, percentage float64, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.finalized[taskID]; done {
		return
	}
	s.cache.Add(taskID, cachedUpdate{Percentage: percentage, Summary: summary})
}

// Finalized reports whether taskID has been marked final.
func (s *PublisherState) Finalized(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, done := s.finalized[taskID]
	return done
}

// MarkFinal stops heartbeats for taskID and clears its cached entry. Called
// exactly once when the conversation reaches a terminal state.
func (s *PublisherState) MarkFinal(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized[taskID] = struct{}{}
	s.cache.Remove(taskID)
}

// Forget evicts the finalized mark for taskID once the surrounding job is
// fully done with it.
func (s *PublisherState) Forget(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.finalized, taskID)
	s.cache.Remove(taskID)
}

// Active returns a snapshot of every non-finalized cached task update, for
// the heartbeat loop.
func (s *PublisherState) Active() map[string]cachedUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]cachedUpdate, s.cache.Len())
	for _, taskID := range s.cache.Keys() {
		if _, done := s.finalized[taskID]; done {
			continue
		}
		if cached, ok := s.cache.Peek(taskID); ok {
			out[taskID] = cached
		}
	}
	return out
}

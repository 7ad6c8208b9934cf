package capclient

import (
	"sort"
	"sync"
	"time"
)

// StepTracker is the participant's local view of completed lab steps. It
// is updated optimistically when a mark_step_complete command arrives.
type StepTracker struct {
	mu        sync.RWMutex
	completed map[int]time.Time
	onChange  func(step int)
}

// NewStepTracker creates an empty tracker.
func NewStepTracker() *StepTracker {
	return &StepTracker{completed: make(map[int]time.Time)}
}

// OnChange sets a callback fired when a step is first marked complete.
func (s *StepTracker) OnChange(fn func(step int)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Complete marks step done. It reports false if it already was.
func (s *StepTracker) Complete(step int) bool {
	s.mu.Lock()
	if _, done := s.completed[step]; done {
		s.mu.Unlock()
		return false
	}
	s.completed[step] = time.Now()
	cb := s.onChange
	s.mu.Unlock()

	if cb != nil {
		cb(step)
	}
	return true
}

// IsComplete reports whether step is done.
func (s *StepTracker) IsComplete(step int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, done := s.completed[step]
	return done
}

// Completed returns the done steps in ascending order.
func (s *StepTracker) Completed() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.completed))
	for step := range s.completed {
		out = append(out, step)
	}
	sort.Ints(out)
	return out
}

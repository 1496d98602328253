package services

import (
	"sync"
	"time"
)

// SkipSet is the loop-prevention registry shared between the listeners. The
// progress listener adds a signalement id immediately before writing its
// status; the report listener consumes the entry and skips deriving a
// duplicate avancement from that same write. Entries self-expire after a
// safety timeout in case the consumption never happens.
type SkipSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	ttl    time.Duration
}

func NewSkipSet() *SkipSet {
	return &SkipSet{
		timers: make(map[string]*time.Timer),
		ttl:    5 * time.Second,
	}
}

// Add marks the id as mid-write. Re-adding resets the safety timeout.
func (s *SkipSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	s.timers[id] = time.AfterFunc(s.ttl, func() {
		s.Remove(id)
	})
}

// Consume reports whether the id was present and removes it.
func (s *SkipSet) Consume(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, id)
	return true
}

func (s *SkipSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

func (s *SkipSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Package dedupe tracks chat message IDs that were already stored.
package dedupe

import (
	"sync"
)

// Set records seen message IDs.
type Set interface {
	// SeenAndRecord reports whether id was already recorded and records it
	// if it was not.
	SeenAndRecord(id string) bool
	// Unrecord forgets id so that it can be stored again.
	Unrecord(id string)
	Size() int
}

// Option configures a memorySet.
type Option func(*memorySet)

// WithMaxSize bounds the number of remembered IDs. The oldest IDs are
// forgotten first. Zero or negative means unbounded.
func WithMaxSize(n int) Option {
	return func(s *memorySet) {
		s.maxSize = n
	}
}

// memorySet keeps IDs in a map plus an insertion-ordered ring used for
// eviction in bounded mode.
type memorySet struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	order   []string
	head    int
	maxSize int
}

// NewMemorySet creates an in-memory Set. The default bound is 100000 IDs.
func NewMemorySet(opts ...Option) Set {
	s := &memorySet{maxSize: 100000}
	for _, opt := range opts {
		opt(s)
	}
	s.seen = make(map[string]struct{})
	return s
}

func (s *memorySet) SeenAndRecord(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return true
	}

	if s.maxSize > 0 {
		for len(s.seen) >= s.maxSize {
			s.evictOldest()
		}
		s.order = append(s.order, id)
	}
	s.seen[id] = struct{}{}
	return false
}

func (s *memorySet) Unrecord(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; !ok {
		return
	}
	delete(s.seen, id)
	if s.maxSize <= 0 {
		return
	}
	for i := len(s.order) - 1; i >= s.head; i-- {
		if s.order[i] == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// evictOldest drops the oldest recorded id. Must be called with s.mu held.
func (s *memorySet) evictOldest() {
	if s.head >= len(s.order) {
		return
	}
	delete(s.seen, s.order[s.head])
	s.order[s.head] = ""
	s.head++

	// compact once the consumed prefix dominates
	if s.head > 1024 && s.head*2 > len(s.order) {
		s.order = append([]string(nil), s.order[s.head:]...)
		s.head = 0
	}
}

func (s *memorySet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

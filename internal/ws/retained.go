package ws

import (
	"sort"
	"sync"
	"time"
)

// Retained is the last message published to a group.
type Retained struct {
	Data  []byte
	From  string
	At    time.Time
	Count uint64
}

// RetainedStore keeps the last message and a message count per group.
type RetainedStore struct {
	mu     sync.RWMutex
	groups map[string]Retained
}

func NewRetainedStore() *RetainedStore {
	return &RetainedStore{groups: make(map[string]Retained)}
}

// Put records data as the latest message of group.
func (s *RetainedStore) Put(group, from string, data []byte, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.groups[group]
	s.groups[group] = Retained{
		Data:  data,
		From:  from,
		At:    at,
		Count: r.Count + 1,
	}
}

// Get returns the latest message of group.
func (s *RetainedStore) Get(group string) (Retained, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.groups[group]
	return r, ok
}

// Groups returns every group that has seen a message, sorted.
func (s *RetainedStore) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]string, 0, len(s.groups))
	for g := range s.groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

package timestamp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zonecore/pkg/domain"
	"zonecore/pkg/platform/sentinel"
)

// InMemoryLastSeenStore tracks per-group high-water marks in process
// memory. Suitable for a single write-path instance; multi-instance
// deployments use RedisLastSeenStore instead.
type InMemoryLastSeenStore struct {
	mu   sync.RWMutex
	last map[domain.GroupID]time.Time
}

// NewInMemoryLastSeenStore creates an empty in-memory store.
func NewInMemoryLastSeenStore() *InMemoryLastSeenStore {
	return &InMemoryLastSeenStore{last: make(map[domain.GroupID]time.Time)}
}

// Last returns the group's last accepted timestamp, or the zero time.
func (s *InMemoryLastSeenStore) Last(_ context.Context, groupID domain.GroupID) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last[groupID], nil
}

// Record stores accepted if it advances the group's high-water mark.
func (s *InMemoryLastSeenStore) Record(_ context.Context, groupID domain.GroupID, accepted time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current := s.last[groupID]; !accepted.After(current) {
		return fmt.Errorf("group %s: %s does not advance %s: %w",
			groupID, accepted.Format(time.RFC3339Nano), current.Format(time.RFC3339Nano),
			sentinel.ErrTimestampCollision)
	}
	s.last[groupID] = accepted
	return nil
}

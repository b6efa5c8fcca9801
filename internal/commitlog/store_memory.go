package commitlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"zonecore/pkg/domain"
	"zonecore/pkg/platform/sentinel"
)

// InMemoryStore keeps the commit log in process memory. It mirrors the
// Postgres store's semantics exactly (bucketing, idempotent append, gap
// detection, checkpointed retention) so it backs unit tests and
// single-node development.
type InMemoryStore struct {
	mu         sync.RWMutex
	width      time.Duration
	buckets    map[int64][]Transaction // keyed by bucket start millis
	byID       map[domain.TransactionID]int64
	checkpoint time.Time
}

// NewInMemoryStore creates an in-memory commit log with the given bucket
// width.
func NewInMemoryStore(bucketWidth time.Duration) *InMemoryStore {
	return &InMemoryStore{
		width:   bucketWidth,
		buckets: make(map[int64][]Transaction),
		byID:    make(map[domain.TransactionID]int64),
	}
}

// Append durably stores the transaction; duplicate ids are no-ops.
func (s *InMemoryStore) Append(_ context.Context, tx Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("append: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[tx.ID]; ok {
		return nil
	}

	bucket := bucketStart(tx.CommittedAt, s.width).UnixMilli()
	for _, existing := range s.buckets[bucket] {
		if existing.GroupID == tx.GroupID && existing.CommittedAt.Equal(tx.CommittedAt) {
			return fmt.Errorf("group %s at %s: %w", tx.GroupID,
				tx.CommittedAt.Format(time.RFC3339Nano), sentinel.ErrTimestampCollision)
		}
	}

	s.buckets[bucket] = append(s.buckets[bucket], tx)
	s.byID[tx.ID] = bucket
	return nil
}

// Scan returns the window's transactions ascending by commit timestamp.
func (s *InMemoryStore) Scan(_ context.Context, w Window, groupID domain.GroupID) ([]Transaction, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Transaction
	for _, start := range windowBuckets(w, s.width) {
		txs, ok := s.buckets[start.UnixMilli()]
		if !ok {
			return nil, fmt.Errorf("bucket starting %s missing: %w",
				start.Format(time.RFC3339), sentinel.ErrWindowGap)
		}
		for _, tx := range txs {
			if !w.Contains(tx.CommittedAt) {
				continue
			}
			if groupID != ScanAllGroups && tx.GroupID != groupID {
				continue
			}
			out = append(out, tx)
		}
	}

	sortTransactions(out)
	return out, nil
}

// SealThrough materializes buckets up to the one containing t.
func (s *InMemoryStore) SealThrough(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := bucketStart(t, s.width)
	first := last
	for millis := range s.buckets {
		if b := time.UnixMilli(millis).UTC(); b.Before(first) {
			first = b
		}
	}
	for b := first; !b.After(last); b = b.Add(s.width) {
		if _, ok := s.buckets[b.UnixMilli()]; !ok {
			s.buckets[b.UnixMilli()] = nil
		}
	}
	return nil
}

// Checkpoint returns the current retention checkpoint.
func (s *InMemoryStore) Checkpoint(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoint, nil
}

// AdvanceCheckpoint moves the retention checkpoint forward.
func (s *InMemoryStore) AdvanceCheckpoint(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Before(s.checkpoint) {
		return fmt.Errorf("checkpoint %s behind current %s: %w",
			t.Format(time.RFC3339), s.checkpoint.Format(time.RFC3339),
			sentinel.ErrRetentionViolation)
	}
	s.checkpoint = t.UTC()
	return nil
}

// PurgeBefore deletes buckets that end at or before t.
func (s *InMemoryStore) PurgeBefore(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.After(s.checkpoint) {
		return fmt.Errorf("purge through %s exceeds checkpoint %s: %w",
			t.Format(time.RFC3339), s.checkpoint.Format(time.RFC3339),
			sentinel.ErrRetentionViolation)
	}

	for millis, txs := range s.buckets {
		end := time.UnixMilli(millis).UTC().Add(s.width)
		if end.After(t) {
			continue
		}
		for _, tx := range txs {
			delete(s.byID, tx.ID)
		}
		delete(s.buckets, millis)
	}
	return nil
}

// sortTransactions orders ascending by commit timestamp; group id and
// transaction id break cross-group ties deterministically so replays of
// the same inputs fold in the same order.
func sortTransactions(txs []Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].CommittedAt.Equal(txs[j].CommittedAt) {
			return txs[i].CommittedAt.Before(txs[j].CommittedAt)
		}
		if txs[i].GroupID != txs[j].GroupID {
			return txs[i].GroupID < txs[j].GroupID
		}
		return txs[i].ID.String() < txs[j].ID.String()
	})
}

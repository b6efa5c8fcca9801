package commitlog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"zonecore/pkg/domain"
	"zonecore/pkg/platform/sentinel"
)

const testBucketWidth = time.Minute

var testBase = time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

func testTransaction(group string, committedAt time.Time, mutations ...Mutation) Transaction {
	if len(mutations) == 0 {
		mutations = []Mutation{upsert(domain.KindDomain, "example.test", `{"status":"ok"}`)}
	}
	return Transaction{
		ID:          domain.NewTransactionID(),
		GroupID:     domain.GroupID(group),
		CommittedAt: committedAt,
		Mutations:   mutations,
	}
}

func upsert(kind domain.Kind, id, payload string) Mutation {
	return Mutation{
		Kind:     kind,
		EntityID: domain.EntityID(id),
		Type:     MutationUpsert,
		Payload:  json.RawMessage(payload),
	}
}

func tombstone(kind domain.Kind, id string) Mutation {
	return Mutation{
		Kind:     kind,
		EntityID: domain.EntityID(id),
		Type:     MutationDelete,
	}
}

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore(testBucketWidth)
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) TestAppend() {
	s.Run("stores a valid transaction", func() {
		tx := testTransaction("tld:example", testBase)
		s.Require().NoError(s.store.Append(s.ctx, tx))
	})

	s.Run("rejects a transaction without mutations", func() {
		tx := testTransaction("tld:example", testBase.Add(time.Second))
		tx.Mutations = nil
		s.Require().Error(s.store.Append(s.ctx, tx))
	})

	s.Run("rejects an upsert without payload", func() {
		tx := testTransaction("tld:example", testBase.Add(2*time.Second),
			Mutation{Kind: domain.KindDomain, EntityID: "x.test", Type: MutationUpsert})
		s.Require().Error(s.store.Append(s.ctx, tx))
	})

	s.Run("rejects a delete carrying a payload", func() {
		tx := testTransaction("tld:example", testBase.Add(3*time.Second),
			Mutation{Kind: domain.KindDomain, EntityID: "x.test", Type: MutationDelete,
				Payload: json.RawMessage(`{}`)})
		s.Require().Error(s.store.Append(s.ctx, tx))
	})

	s.Run("same group and timestamp is a collision", func() {
		at := testBase.Add(10 * time.Second)
		s.Require().NoError(s.store.Append(s.ctx, testTransaction("tld:test", at)))
		err := s.store.Append(s.ctx, testTransaction("tld:test", at))
		s.Require().ErrorIs(err, sentinel.ErrTimestampCollision)
	})

	s.Run("different groups may share a timestamp", func() {
		at := testBase.Add(20 * time.Second)
		s.Require().NoError(s.store.Append(s.ctx, testTransaction("tld:alpha", at)))
		s.Require().NoError(s.store.Append(s.ctx, testTransaction("tld:beta", at)))
	})
}

func (s *InMemoryStoreSuite) TestAppendIsIdempotent() {
	tx := testTransaction("tld:example", testBase)
	s.Require().NoError(s.store.Append(s.ctx, tx))
	// Write-path retry with the same transaction id.
	s.Require().NoError(s.store.Append(s.ctx, tx))

	txs, err := s.store.Scan(s.ctx, Window{Start: testBase.Add(-time.Millisecond), End: testBase}, ScanAllGroups)
	s.Require().NoError(err)
	s.Len(txs, 1)
}

func (s *InMemoryStoreSuite) TestScan() {
	t0 := testBase
	t1 := testBase.Add(10 * time.Second)
	t2 := testBase.Add(20 * time.Second)
	txA := testTransaction("tld:alpha", t0)
	txB := testTransaction("tld:beta", t1)
	txC := testTransaction("tld:alpha", t2)
	s.Require().NoError(s.store.Append(s.ctx, txB))
	s.Require().NoError(s.store.Append(s.ctx, txC))
	s.Require().NoError(s.store.Append(s.ctx, txA))

	s.Run("returns transactions ascending by commit timestamp", func() {
		txs, err := s.store.Scan(s.ctx, Window{Start: t0.Add(-time.Millisecond), End: t2}, ScanAllGroups)
		s.Require().NoError(err)
		s.Require().Len(txs, 3)
		s.Equal(txA.ID, txs[0].ID)
		s.Equal(txB.ID, txs[1].ID)
		s.Equal(txC.ID, txs[2].ID)
	})

	s.Run("window start is exclusive and end inclusive", func() {
		txs, err := s.store.Scan(s.ctx, Window{Start: t0, End: t2}, ScanAllGroups)
		s.Require().NoError(err)
		s.Require().Len(txs, 2)
		s.Equal(txB.ID, txs[0].ID)
		s.Equal(txC.ID, txs[1].ID)
	})

	s.Run("filters by group", func() {
		txs, err := s.store.Scan(s.ctx, Window{Start: t0.Add(-time.Millisecond), End: t2}, domain.GroupID("tld:alpha"))
		s.Require().NoError(err)
		s.Require().Len(txs, 2)
		s.Equal(txA.ID, txs[0].ID)
		s.Equal(txC.ID, txs[1].ID)
	})

	s.Run("rejects an empty window", func() {
		_, err := s.store.Scan(s.ctx, Window{Start: t0, End: t0}, ScanAllGroups)
		s.Require().Error(err)
	})
}

func (s *InMemoryStoreSuite) TestScanDetectsGaps() {
	// Transactions an hour apart with nothing sealing the idle buckets in
	// between: the window is not provably covered.
	s.Require().NoError(s.store.Append(s.ctx, testTransaction("tld:alpha", testBase)))
	s.Require().NoError(s.store.Append(s.ctx, testTransaction("tld:alpha", testBase.Add(time.Hour))))

	_, err := s.store.Scan(s.ctx, Window{Start: testBase.Add(-time.Millisecond), End: testBase.Add(time.Hour)}, ScanAllGroups)
	s.Require().ErrorIs(err, sentinel.ErrWindowGap)
}

func (s *InMemoryStoreSuite) TestSealThroughClosesGaps() {
	s.Require().NoError(s.store.Append(s.ctx, testTransaction("tld:alpha", testBase)))
	s.Require().NoError(s.store.Append(s.ctx, testTransaction("tld:alpha", testBase.Add(time.Hour))))

	s.Require().NoError(s.store.SealThrough(s.ctx, testBase.Add(time.Hour)))

	txs, err := s.store.Scan(s.ctx, Window{Start: testBase.Add(-time.Millisecond), End: testBase.Add(time.Hour)}, ScanAllGroups)
	s.Require().NoError(err)
	s.Len(txs, 2)
}

func (s *InMemoryStoreSuite) TestSealedEmptyWindowScansEmpty() {
	// The log opens at testBase and seals on cadence with no traffic.
	s.Require().NoError(s.store.SealThrough(s.ctx, testBase))
	s.Require().NoError(s.store.SealThrough(s.ctx, testBase.Add(10*time.Minute)))

	// Empty but sealed is a valid result, not a gap.
	txs, err := s.store.Scan(s.ctx, Window{Start: testBase, End: testBase.Add(5*time.Minute)}, ScanAllGroups)
	s.Require().NoError(err)
	s.Empty(txs)
}

func (s *InMemoryStoreSuite) TestCheckpoint() {
	s.Run("starts at zero", func() {
		checkpoint, err := s.store.Checkpoint(s.ctx)
		s.Require().NoError(err)
		s.True(checkpoint.IsZero())
	})

	s.Run("advances forward", func() {
		s.Require().NoError(s.store.AdvanceCheckpoint(s.ctx, testBase))
		checkpoint, err := s.store.Checkpoint(s.ctx)
		s.Require().NoError(err)
		s.True(checkpoint.Equal(testBase))
	})

	s.Run("never moves backwards", func() {
		err := s.store.AdvanceCheckpoint(s.ctx, testBase.Add(-time.Minute))
		s.Require().ErrorIs(err, sentinel.ErrRetentionViolation)
	})
}

func (s *InMemoryStoreSuite) TestPurgeBefore() {
	old := testTransaction("tld:alpha", testBase)
	recent := testTransaction("tld:alpha", testBase.Add(10*time.Minute))
	s.Require().NoError(s.store.Append(s.ctx, old))
	s.Require().NoError(s.store.Append(s.ctx, recent))
	s.Require().NoError(s.store.SealThrough(s.ctx, testBase.Add(10*time.Minute)))

	s.Run("refuses to purge past the checkpoint", func() {
		err := s.store.PurgeBefore(s.ctx, testBase.Add(5*time.Minute))
		s.Require().ErrorIs(err, sentinel.ErrRetentionViolation)
	})

	s.Run("purges buckets fully behind the checkpoint", func() {
		s.Require().NoError(s.store.AdvanceCheckpoint(s.ctx, testBase.Add(5*time.Minute)))
		s.Require().NoError(s.store.PurgeBefore(s.ctx, testBase.Add(5*time.Minute)))

		// The old bucket is gone; scanning over it reports a gap.
		_, err := s.store.Scan(s.ctx, Window{Start: testBase.Add(-time.Millisecond), End: testBase.Add(time.Second)}, ScanAllGroups)
		s.Require().ErrorIs(err, sentinel.ErrWindowGap)

		// Recent data is untouched.
		txs, err := s.store.Scan(s.ctx,
			Window{Start: testBase.Add(9 * time.Minute), End: testBase.Add(10 * time.Minute)}, ScanAllGroups)
		s.Require().NoError(err)
		s.Require().Len(txs, 1)
		s.Equal(recent.ID, txs[0].ID)
	})

	s.Run("purged transaction ids may be reused", func() {
		// After purge the id index must not treat the old id as durable.
		s.Require().NoError(s.store.Append(s.ctx, Transaction{
			ID:          old.ID,
			GroupID:     old.GroupID,
			CommittedAt: testBase.Add(10*time.Minute + time.Second),
			Mutations:   old.Mutations,
		}))
	})
}

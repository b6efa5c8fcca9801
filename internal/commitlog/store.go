package commitlog

import (
	"context"
	"time"

	"zonecore/pkg/domain"
)

// ScanAllGroups scans every bucket in the window instead of one group.
const ScanAllGroups = domain.GroupID("")

// Store is the append-only transaction log. Implementations bucket
// transactions by fixed time intervals so a scan can prove full coverage
// of a window: an interval with no bucket row is a gap, not an empty
// result.
type Store interface {
	// Append durably stores the transaction. Re-appending an already
	// durable transaction id is a no-op, so write-path retries cannot
	// double-apply.
	Append(ctx context.Context, tx Transaction) error

	// Scan returns transactions with commit timestamps inside the window,
	// ascending by commit timestamp, filtered to groupID unless
	// ScanAllGroups is given. Fails with sentinel.ErrWindowGap when any
	// bucket needed to cover the window is missing.
	Scan(ctx context.Context, w Window, groupID domain.GroupID) ([]Transaction, error)

	// SealThrough materializes every bucket up to and including the one
	// containing t, so idle intervals are provably empty rather than
	// indistinguishable from lost data. The write path calls this on a
	// fixed cadence.
	SealThrough(ctx context.Context, t time.Time) error

	// Checkpoint returns the current retention checkpoint. Transactions
	// at or before it may already be purged.
	Checkpoint(ctx context.Context) (time.Time, error)

	// AdvanceCheckpoint moves the retention checkpoint forward. Moving it
	// backwards fails with sentinel.ErrRetentionViolation. Callers must
	// have verified that no consumer still needs older data; see
	// Checkpointer.
	AdvanceCheckpoint(ctx context.Context, t time.Time) error

	// PurgeBefore deletes buckets that end at or before t. t past the
	// current checkpoint fails with sentinel.ErrRetentionViolation.
	PurgeBefore(ctx context.Context, t time.Time) error
}

// bucketStart truncates t down to its bucket boundary.
func bucketStart(t time.Time, width time.Duration) time.Time {
	return t.UTC().Truncate(width)
}

// windowBuckets lists the bucket starts required to cover (w.Start, w.End].
func windowBuckets(w Window, width time.Duration) []time.Time {
	// Start is exclusive, so coverage begins at the bucket holding the
	// first representable instant after it.
	first := bucketStart(w.Start.Add(time.Millisecond), width)
	last := bucketStart(w.End, width)
	var starts []time.Time
	for b := first; !b.After(last); b = b.Add(width) {
		starts = append(starts, b)
	}
	return starts
}

// Package timestamp enforces the per-group commit ordering invariant:
// every transaction committed against an entity group carries a timestamp
// strictly greater than the group's previous commit.
package timestamp

import (
	"context"
	"fmt"
	"time"

	"zonecore/pkg/clock"
	"zonecore/pkg/domain"
	"zonecore/pkg/platform/sentinel"
)

// Epsilon is the logical tick used to correct non-increasing proposals.
// Commit timestamps are millisecond-granular, so one millisecond is the
// smallest collision-proof advance.
const Epsilon = time.Millisecond

// LastSeenStore tracks the last accepted commit timestamp per entity group.
// Callers serialize writes to a single group (the group's transactional
// boundary is the serialization point); the store only has to be safe for
// concurrent use across different groups.
type LastSeenStore interface {
	// Last returns the group's last accepted timestamp, or the zero time
	// if the group has never committed.
	Last(ctx context.Context, groupID domain.GroupID) (time.Time, error)

	// Record stores accepted as the group's last timestamp. It fails with
	// sentinel.ErrTimestampCollision if accepted does not advance the
	// stored value, which indicates a serialization breach upstream.
	Record(ctx context.Context, groupID domain.GroupID, accepted time.Time) error
}

// Authority issues strictly increasing commit timestamps per entity group.
type Authority struct {
	store     LastSeenStore
	clock     clock.Clock
	tolerance time.Duration
}

// New builds an Authority. tolerance bounds how far a proposed timestamp
// may be corrected forward; a larger correction is reported as a clock
// regression, since it usually means a misconfigured clock source upstream.
// tolerance <= 0 disables the check.
func New(store LastSeenStore, clk clock.Clock, tolerance time.Duration) *Authority {
	return &Authority{store: store, clock: clk, tolerance: tolerance}
}

// Next accepts or corrects a proposed commit timestamp for the group and
// records it as the group's new high-water mark. The returned timestamp is
// strictly greater than every previously accepted timestamp for the group.
func (a *Authority) Next(ctx context.Context, groupID domain.GroupID, proposed time.Time) (time.Time, error) {
	proposed = proposed.UTC().Truncate(Epsilon)

	last, err := a.store.Last(ctx, groupID)
	if err != nil {
		return time.Time{}, fmt.Errorf("load last timestamp for group %s: %w", groupID, err)
	}

	accepted := proposed
	if !accepted.After(last) {
		accepted = last.Add(Epsilon)
	}

	if a.tolerance > 0 {
		if drift := accepted.Sub(proposed); drift > a.tolerance {
			return time.Time{}, fmt.Errorf(
				"group %s: proposed %s corrected by %s: %w",
				groupID, proposed.Format(time.RFC3339Nano), drift, sentinel.ErrClockRegression)
		}
	}

	if !accepted.After(last) {
		// Unreachable with a positive Epsilon; kept as a hard stop so a
		// future granularity change cannot silently break ordering.
		return time.Time{}, fmt.Errorf("group %s at %s: %w",
			groupID, accepted.Format(time.RFC3339Nano), sentinel.ErrTimestampCollision)
	}

	if err := a.store.Record(ctx, groupID, accepted); err != nil {
		return time.Time{}, fmt.Errorf("record timestamp for group %s: %w", groupID, err)
	}

	return accepted, nil
}

// Propose derives a proposed commit timestamp from the authority's clock.
func (a *Authority) Propose() time.Time {
	return a.clock.Now().UTC().Truncate(Epsilon)
}

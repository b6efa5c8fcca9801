// Package commitlog persists committed transactions in an append-only,
// time-bucketed log, replayable to reconstruct object-store state.
package commitlog

import (
	"encoding/json"
	"fmt"
	"time"

	"zonecore/pkg/domain"
)

// MutationType distinguishes writes from tombstones.
type MutationType string

const (
	MutationUpsert MutationType = "upsert"
	MutationDelete MutationType = "delete"
)

// Mutation is one entity-level change inside a transaction. The payload is
// opaque to the log; it is present for upserts and absent for deletes.
type Mutation struct {
	Kind     domain.Kind     `json:"kind"`
	EntityID domain.EntityID `json:"entity_id"`
	Type     MutationType    `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Validate checks structural invariants of a mutation.
func (m Mutation) Validate() error {
	if _, err := domain.ParseKind(m.Kind.String()); err != nil {
		return err
	}
	if _, err := domain.ParseEntityID(m.EntityID.String()); err != nil {
		return err
	}
	switch m.Type {
	case MutationUpsert:
		if len(m.Payload) == 0 {
			return fmt.Errorf("upsert of %s/%s requires a payload", m.Kind, m.EntityID)
		}
	case MutationDelete:
		if len(m.Payload) != 0 {
			return fmt.Errorf("delete of %s/%s must not carry a payload", m.Kind, m.EntityID)
		}
	default:
		return fmt.Errorf("unknown mutation type %q", m.Type)
	}
	return nil
}

// Transaction is the ordered set of mutations committed atomically against
// one entity group. Never mutated after creation; eligible for deletion
// only once the checkpoint passes it.
type Transaction struct {
	ID          domain.TransactionID `json:"id"`
	GroupID     domain.GroupID       `json:"group_id"`
	CommittedAt time.Time            `json:"committed_at"`
	Mutations   []Mutation           `json:"mutations"`
}

// Validate checks structural invariants of a transaction.
func (t Transaction) Validate() error {
	if t.ID.IsNil() {
		return fmt.Errorf("transaction id is required")
	}
	if _, err := domain.ParseGroupID(t.GroupID.String()); err != nil {
		return err
	}
	if t.CommittedAt.IsZero() {
		return fmt.Errorf("commit timestamp is required")
	}
	if len(t.Mutations) == 0 {
		return fmt.Errorf("transaction %s has no mutations", t.ID)
	}
	for i, m := range t.Mutations {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("mutation %d: %w", i, err)
		}
	}
	return nil
}

// Window is the half-open commit-time interval (Start, End] a replay
// applies on top of an export.
type Window struct {
	Start time.Time
	End   time.Time
}

// Validate checks that the window is non-empty and well ordered.
func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return fmt.Errorf("window end %s must be after start %s",
			w.End.Format(time.RFC3339Nano), w.Start.Format(time.RFC3339Nano))
	}
	return nil
}

// Contains reports whether t falls inside (Start, End].
func (w Window) Contains(t time.Time) bool {
	return t.After(w.Start) && !t.After(w.End)
}

// Package sink materializes reconstruction output: per-kind collections
// keyed by entity id, each entry carrying its effective timestamp, ready
// for downstream loaders (e.g. a relational migration writer).
package sink

import (
	"encoding/json"
	"sort"
	"time"

	"zonecore/pkg/domain"
)

// Entity is one materialized entity as of the reconstruction cutoff.
type Entity struct {
	EntityID    domain.EntityID `json:"entity_id"`
	EffectiveAt time.Time       `json:"effective_at"`
	Payload     json.RawMessage `json:"payload"`
}

// Snapshot is the immutable result of a reconstruction. Entities absent
// from a kind's collection do not exist as of the cutoff; there are no
// tombstones in the output.
type Snapshot struct {
	kinds map[domain.Kind]map[domain.EntityID]Entity
}

// New builds a Snapshot from per-kind collections. The maps are owned by
// the snapshot after the call; callers must not retain them.
func New(kinds map[domain.Kind]map[domain.EntityID]Entity) *Snapshot {
	if kinds == nil {
		kinds = make(map[domain.Kind]map[domain.EntityID]Entity)
	}
	return &Snapshot{kinds: kinds}
}

// Kinds returns the tracked kinds in lexical order.
func (s *Snapshot) Kinds() []domain.Kind {
	kinds := make([]domain.Kind, 0, len(s.kinds))
	for k := range s.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Get returns the materialized entity for (kind, id), if it exists.
func (s *Snapshot) Get(kind domain.Kind, id domain.EntityID) (Entity, bool) {
	e, ok := s.kinds[kind][id]
	return e, ok
}

// Len returns the number of entities materialized for the kind.
func (s *Snapshot) Len(kind domain.Kind) int {
	return len(s.kinds[kind])
}

// ForEach visits every entity of the kind in unspecified order. Visiting
// stops at the first error.
func (s *Snapshot) ForEach(kind domain.Kind, fn func(Entity) error) error {
	for _, e := range s.kinds[kind] {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Entities returns a copy of the kind's collection sorted by entity id,
// for deterministic serialization.
func (s *Snapshot) Entities(kind domain.Kind) []Entity {
	out := make([]Entity, 0, len(s.kinds[kind]))
	for _, e := range s.kinds[kind] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

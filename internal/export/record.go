// Package export reads and writes the bulk export artifact: one
// partition per entity kind, JSONL records, each partition carrying a
// digest sidecar so silent corruption is detected at read time.
//
// An export does not represent a single consistent instant. Each record
// is the exporter's best-known state, individually possibly stale; the
// replay engine compensates with the commit log.
package export

import (
	"encoding/json"
	"fmt"
	"time"

	"zonecore/pkg/domain"
)

// Record is one exported entity. KnownAsOf is the mutation timestamp the
// exporter knew at dump time; it is optional, and absent values seed the
// replay merge at the zero time so any logged mutation wins.
type Record struct {
	Kind      domain.Kind     `json:"kind"`
	EntityID  domain.EntityID `json:"entity_id"`
	Payload   json.RawMessage `json:"payload"`
	KnownAsOf *time.Time      `json:"known_as_of,omitempty"`
}

// Validate checks structural invariants of an export record.
func (r Record) Validate() error {
	if _, err := domain.ParseKind(r.Kind.String()); err != nil {
		return err
	}
	if _, err := domain.ParseEntityID(r.EntityID.String()); err != nil {
		return err
	}
	if len(r.Payload) == 0 {
		return fmt.Errorf("export record %s/%s has no payload", r.Kind, r.EntityID)
	}
	return nil
}

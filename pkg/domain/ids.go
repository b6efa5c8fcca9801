package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EntityID identifies a single entity within its kind (e.g. a domain
// repo-id). Opaque to the storage core beyond non-emptiness.
type EntityID string

// ParseEntityID validates and returns an EntityID.
func ParseEntityID(s string) (EntityID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("entity id is required")
	}
	return EntityID(s), nil
}

// String returns the string representation of the entity id.
func (id EntityID) String() string {
	return string(id)
}

// GroupID identifies an entity group: the root entity plus everything
// transactionally co-mutated with it. Each group owns one strictly
// increasing commit timestamp sequence.
type GroupID string

// ParseGroupID validates and returns a GroupID.
func ParseGroupID(s string) (GroupID, error) {
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("entity group id is required")
	}
	return GroupID(s), nil
}

// String returns the string representation of the group id.
func (id GroupID) String() string {
	return string(id)
}

// TransactionID identifies one committed transaction in the commit log.
// Append is idempotent on this value, so retries of a durable transaction
// are no-ops instead of double-applies.
type TransactionID uuid.UUID

// NewTransactionID returns a random transaction id.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.New())
}

// ParseTransactionID validates and returns a TransactionID.
func ParseTransactionID(s string) (TransactionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TransactionID{}, fmt.Errorf("invalid transaction id: %w", err)
	}
	return TransactionID(u), nil
}

// String returns the canonical UUID form of the transaction id.
func (id TransactionID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether the transaction id is the zero value.
func (id TransactionID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText implements encoding.TextMarshaler.
func (id TransactionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *TransactionID) UnmarshalText(b []byte) error {
	parsed, err := ParseTransactionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

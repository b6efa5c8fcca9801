package domain

import "fmt"

// Kind identifies an entity kind tracked by the registry object store.
// The engine treats payloads as opaque; Kind is the only piece of entity
// semantics it understands.
//
// Usage: construct via ParseKind at trust boundaries to enforce the closed
// set; direct casting bypasses validation.
type Kind string

// Kinds managed by the registry.
const (
	KindDomain    Kind = "domain"
	KindContact   Kind = "contact"
	KindHost      Kind = "host"
	KindRegistrar Kind = "registrar"
	KindTLD       Kind = "tld"
)

var knownKinds = map[Kind]bool{
	KindDomain:    true,
	KindContact:   true,
	KindHost:      true,
	KindRegistrar: true,
	KindTLD:       true,
}

// ParseKind validates and returns a Kind.
// Returns an error if the kind is not part of the closed set.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !knownKinds[k] {
		return "", fmt.Errorf("unknown entity kind: %q", s)
	}
	return k, nil
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// KindSet is an explicit filter over entity kinds. Reconstruction receives
// one as configuration; kinds outside the set are skipped, never inferred.
type KindSet map[Kind]bool

// NewKindSet builds a KindSet from the given kinds.
func NewKindSet(kinds ...Kind) KindSet {
	set := make(KindSet, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

// Has reports whether the kind is part of the set.
func (s KindSet) Has(k Kind) bool {
	return s[k]
}

// Kinds returns the members of the set in unspecified order.
func (s KindSet) Kinds() []Kind {
	kinds := make([]Kind, 0, len(s))
	for k := range s {
		kinds = append(kinds, k)
	}
	return kinds
}

package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonecore/pkg/domain"
)

func TestSnapshot(t *testing.T) {
	at := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	snapshot := New(map[domain.Kind]map[domain.EntityID]Entity{
		domain.KindDomain: {
			"b.test": {EntityID: "b.test", EffectiveAt: at, Payload: []byte(`{}`)},
			"a.test": {EntityID: "a.test", EffectiveAt: at, Payload: []byte(`{}`)},
		},
		domain.KindContact: {},
	})

	t.Run("kinds are sorted", func(t *testing.T) {
		assert.Equal(t, []domain.Kind{domain.KindContact, domain.KindDomain}, snapshot.Kinds())
	})

	t.Run("get and len", func(t *testing.T) {
		e, ok := snapshot.Get(domain.KindDomain, "a.test")
		require.True(t, ok)
		assert.Equal(t, domain.EntityID("a.test"), e.EntityID)

		_, ok = snapshot.Get(domain.KindDomain, "missing.test")
		assert.False(t, ok)

		assert.Equal(t, 2, snapshot.Len(domain.KindDomain))
		assert.Equal(t, 0, snapshot.Len(domain.KindContact))
		assert.Equal(t, 0, snapshot.Len(domain.KindHost))
	})

	t.Run("entities are sorted by id", func(t *testing.T) {
		entities := snapshot.Entities(domain.KindDomain)
		require.Len(t, entities, 2)
		assert.Equal(t, domain.EntityID("a.test"), entities[0].EntityID)
		assert.Equal(t, domain.EntityID("b.test"), entities[1].EntityID)
	})

	t.Run("foreach stops on error", func(t *testing.T) {
		calls := 0
		err := snapshot.ForEach(domain.KindDomain, func(Entity) error {
			calls++
			return assert.AnError
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("nil input is an empty snapshot", func(t *testing.T) {
		empty := New(nil)
		assert.Empty(t, empty.Kinds())
	})
}

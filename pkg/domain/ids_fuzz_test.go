package domain

import (
	"testing"
)

// FuzzParseTransactionID verifies parsing never panics on arbitrary input
// and accepted values round-trip unchanged.
func FuzzParseTransactionID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseTransactionID(input)
		if err != nil {
			return
		}
		roundTrip, err := ParseTransactionID(id.String())
		if err != nil {
			t.Errorf("accepted id failed round-trip: %v", err)
		}
		if roundTrip != id {
			t.Error("round-trip changed id value")
		}
	})
}

// FuzzParseEntityID verifies the only rejection is emptiness and accepted
// values are preserved byte for byte.
func FuzzParseEntityID(f *testing.F) {
	f.Add("")
	f.Add("   ")
	f.Add("2-EXAMPLE-TEST")
	f.Add("'; DROP TABLE domains;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseEntityID(input)
		if err != nil {
			return
		}
		if id.String() != input {
			t.Error("parse changed the entity id value")
		}
	})
}

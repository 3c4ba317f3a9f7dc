package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventType(t *testing.T) {
	cases := []struct {
		raw     string
		name    string
		version int
	}{
		{"ItemAdded.v7", "ItemAdded", 7},
		{"ItemAdded", "ItemAdded", 1},
		{"ItemAdded.vABC", "ItemAdded.vABC", 1},
		{"ItemAdded.v0", "ItemAdded.v0", 1},
		{"ItemAdded.v", "ItemAdded.v", 1},
	}
	for _, c := range cases {
		name, version := ParseEventType(c.raw)
		assert.Equal(t, c.name, name, "name for %q", c.raw)
		assert.Equal(t, c.version, version, "version for %q", c.raw)
	}
}

func TestNewEventCanonicalType(t *testing.T) {
	ev := NewEvent("ItemAdded", 1, []byte("{}"), nil)
	assert.Equal(t, "ItemAdded", ev.Type, "version 1 elides the suffix")
	assert.Equal(t, "ItemAdded", ev.Name())

	ev = NewEvent("ItemAdded", 2, []byte("{}"), nil)
	assert.Equal(t, "ItemAdded.v2", ev.Type)
	assert.Equal(t, "ItemAdded", ev.Name())

	ev = NewEvent("ItemAdded", 0, []byte("{}"), nil)
	assert.Equal(t, 1, ev.Version, "non-positive version defaults to 1")
}

func TestMetadataIsZero(t *testing.T) {
	var m *Metadata
	assert.True(t, m.IsZero())

	m = &Metadata{}
	assert.True(t, m.IsZero())

	m = &Metadata{CorrelationID: "c1"}
	assert.False(t, m.IsZero())

	m = &Metadata{Timestamp: time.Unix(0, 1)}
	assert.False(t, m.IsZero())
}

type payload struct {
	Message string `json:"message"`
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := JSONCodec{}
	ev, err := Encode(codec, "Noted", 1, payload{Message: "hello"}, &Metadata{ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "Noted.v1", ev.Type)

	var out payload
	require.NoError(t, Decode(codec, ev, &out))
	assert.Equal(t, "hello", out.Message)
}

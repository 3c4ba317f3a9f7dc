// Package event defines the typed, versioned, self-describing event shape
// that every other eventflux package builds on.
package event

import (
	"strconv"
	"strings"
	"time"
)

// Metadata carries the optional, independently-nullable facts attached to
// an event: saga linkage, causal linkage, actor attribution, and wall
// clock. Zero value means "absent" for every field.
type Metadata struct {
	CorrelationID string
	CausationID   string
	ActorID       string
	Timestamp     time.Time
}

// IsZero reports whether every field is absent.
func (m *Metadata) IsZero() bool {
	return m == nil || (m.CorrelationID == "" && m.CausationID == "" && m.ActorID == "" && m.Timestamp.IsZero())
}

// Event is a fact that occurred: an event-type identifier encoding a
// schema version, an opaque payload, and optional metadata.
type Event struct {
	Type     string
	Version  int
	Payload  []byte
	Metadata *Metadata
}

// NewEvent composes the canonical "<name>.v<version>" type string and
// returns an Event carrying it.
func NewEvent(name string, version int, payload []byte, meta *Metadata) Event {
	if version <= 0 {
		version = 1
	}
	typ := name
	if version != 1 || !strings.Contains(name, ".v") {
		typ = name + ".v" + strconv.Itoa(version)
	}
	return Event{Type: typ, Version: version, Payload: payload, Metadata: meta}
}

// ParseEventType splits a canonical event type string into its name and
// schema version. The version suffix is the last occurrence of ".v"
// followed by decimal digits; a missing or malformed suffix defaults to
// version 1 and returns the type string unchanged as the name.
func ParseEventType(raw string) (name string, version int) {
	idx := strings.LastIndex(raw, ".v")
	if idx < 0 || idx+2 >= len(raw) {
		return raw, 1
	}
	suffix := raw[idx+2:]
	v, err := strconv.Atoi(suffix)
	if err != nil || v <= 0 {
		return raw, 1
	}
	return raw[:idx], v
}

// Name returns the schema-version-free event name.
func (e Event) Name() string {
	name, _ := ParseEventType(e.Type)
	return name
}

// Codec is a pluggable serialization strategy for event payloads.
// The default codec (see JSONCodec) mirrors the teacher's
// encoding/json use throughout its domain events.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

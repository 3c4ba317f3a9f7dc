package event

import "encoding/json"

// JSONCodec is the default Codec, matching the teacher's json.Marshal /
// json.Unmarshal usage for event payloads.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Encode marshals v with codec and wraps it into an Event of the given
// name and version.
func Encode(codec Codec, name string, version int, v any, meta *Metadata) (Event, error) {
	payload, err := codec.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	return NewEvent(name, version, payload, meta), nil
}

// Decode unmarshals e's payload into v using codec.
func Decode(codec Codec, e Event, v any) error {
	return codec.Unmarshal(e.Payload, v)
}

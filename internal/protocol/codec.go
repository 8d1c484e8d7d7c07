package protocol

import (
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// Codec is the serialization backend used for packets and publish data.
// Both built-in codecs emit map keys in sorted order.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

const (
	StdCodecName  = "std"
	FastCodecName = "fast"
)

type stdCodec struct{}

func (stdCodec) Name() string                       { return StdCodecName }
func (stdCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (stdCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type fastCodec struct{}

func (fastCodec) Name() string                       { return FastCodecName }
func (fastCodec) Marshal(v any) ([]byte, error)      { return gojson.Marshal(v) }
func (fastCodec) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

// StdCodec returns the encoding/json backend.
func StdCodec() Codec { return stdCodec{} }

// FastCodec returns the goccy/go-json backend.
func FastCodec() Codec { return fastCodec{} }

// DefaultCodec is the codec used when none is configured.
func DefaultCodec() Codec { return stdCodec{} }

// CodecByName resolves "std", "fast" or "" (default).
func CodecByName(name string) (Codec, bool) {
	switch name {
	case "", StdCodecName:
		return StdCodec(), true
	case FastCodecName:
		return FastCodec(), true
	}
	return nil, false
}

// MarshalData encodes a publish payload. A nil value yields nil (no data field).
func MarshalData(codec Codec, v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	out, err := codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

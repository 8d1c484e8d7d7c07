package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	maxPacketSize = 10 * 1024 * 1024 // 10MB max encoded packet size
	excerptSize   = 64
)

// Type identifies one of the WSPS packet shapes.
type Type string

const (
	// TypeSubscribe is sent by the client to start receiving a channel.
	TypeSubscribe Type = "subscribe"
	// TypePublish is sent by the client to push data to a channel.
	TypePublish Type = "publish"
	// TypeMessage is pushed by the server for every publish on a subscribed channel.
	TypeMessage Type = "message"
)

// Known reports whether t is one of the protocol packet types.
func (t Type) Known() bool {
	switch t {
	case TypeSubscribe, TypePublish, TypeMessage:
		return true
	}
	return false
}

// ErrMalformedPacket is matched by every MalformedPacketError.
var ErrMalformedPacket = errors.New("malformed packet")

// MalformedPacketError describes an inbound frame that could not be decoded.
type MalformedPacketError struct {
	// Frame is a truncated copy of the offending text.
	Frame string
	Err   error
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("%s %q: %v", ErrMalformedPacket, e.Frame, e.Err)
}

func (e *MalformedPacketError) Unwrap() []error {
	return []error{ErrMalformedPacket, e.Err}
}

func malformed(text string, err error) error {
	if len(text) > excerptSize {
		text = text[:excerptSize] + "..."
	}
	return &MalformedPacketError{Frame: text, Err: err}
}

// Packet is a frame exchanged with a WSPS server.
//
// Fields are declared in lexicographic order of their JSON names so the
// encoding is deterministic. Empty Key and nil Data are omitted on the wire.
type Packet struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
	Key     string          `json:"key,omitempty"`
	Type    Type            `json:"type"`
}

// NewSubscribe builds a subscribe packet. key may be empty.
func NewSubscribe(channel, key string) Packet {
	return Packet{Type: TypeSubscribe, Channel: channel, Key: key}
}

// NewPublish builds a publish packet carrying already encoded data.
func NewPublish(channel string, data json.RawMessage, key string) Packet {
	return Packet{Type: TypePublish, Channel: channel, Data: data, Key: key}
}

// NewMessage builds a message packet as the server would push it.
func NewMessage(channel string, data json.RawMessage) Packet {
	return Packet{Type: TypeMessage, Channel: channel, Data: data}
}

// HasData reports whether the packet carries a data field.
func (p Packet) HasData() bool {
	return len(p.Data) > 0
}

// DecodeData unmarshals the packet data into v.
func (p Packet) DecodeData(v any) error {
	if !p.HasData() {
		return errors.New("packet has no data")
	}
	return json.Unmarshal(p.Data, v)
}

// Value returns the packet data as a generic value (map[string]any, []any,
// string, float64, bool or nil).
func (p Packet) Value() (any, error) {
	if !p.HasData() {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(p.Data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Equal compares two packets field by field; Data is compared after compaction.
func (p Packet) Equal(o Packet) bool {
	if p.Type != o.Type || p.Channel != o.Channel || p.Key != o.Key {
		return false
	}
	if p.HasData() != o.HasData() {
		return false
	}
	if !p.HasData() {
		return true
	}
	var a, b bytes.Buffer
	if json.Compact(&a, p.Data) != nil || json.Compact(&b, o.Data) != nil {
		return bytes.Equal(p.Data, o.Data)
	}
	return bytes.Equal(a.Bytes(), b.Bytes())
}

// String returns the compact wire encoding, or a placeholder if it cannot be encoded.
func (p Packet) String() string {
	s, err := Encode(p)
	if err != nil {
		return fmt.Sprintf("<%s packet on %q: %v>", p.Type, p.Channel, err)
	}
	return s
}

// Pretty returns an indented encoding for diagnostics.
func (p Packet) Pretty() string {
	out, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return p.String()
	}
	return string(out)
}

// Encode serializes the packet with the default codec.
func Encode(p Packet) (string, error) {
	return EncodeWith(DefaultCodec(), p)
}

// Decode parses text with the default codec.
func Decode(text string) (Packet, error) {
	return DecodeWith(DefaultCodec(), text)
}

// EncodeWith serializes the packet with the given codec.
func EncodeWith(codec Codec, p Packet) (string, error) {
	if p.Type == "" {
		return "", errors.New("packet type is required")
	}
	if p.Channel == "" {
		return "", errors.New("packet channel is required")
	}

	out, err := codec.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%s packet: %w", p.Type, err)
	}
	if len(out) > maxPacketSize {
		return "", fmt.Errorf("packet size %d exceeds maximum %d bytes", len(out), maxPacketSize)
	}
	return string(out), nil
}

// wirePacket keeps the raw type and channel so non-string values are reported
// instead of silently coerced.
type wirePacket struct {
	Channel json.RawMessage `json:"channel"`
	Data    json.RawMessage `json:"data"`
	Key     json.RawMessage `json:"key"`
	Type    json.RawMessage `json:"type"`
}

// DecodeWith parses text with the given codec. Errors are *MalformedPacketError.
func DecodeWith(codec Codec, text string) (Packet, error) {
	if len(text) > maxPacketSize {
		return Packet{}, malformed(text, fmt.Errorf("packet size %d exceeds maximum %d bytes", len(text), maxPacketSize))
	}

	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Packet{}, malformed(text, errors.New("not a JSON object"))
	}

	var w wirePacket
	if err := codec.Unmarshal(trimmed, &w); err != nil {
		return Packet{}, malformed(text, err)
	}

	var p Packet
	typ, err := requiredString(codec, "type", w.Type)
	if err != nil {
		return Packet{}, malformed(text, err)
	}
	p.Type = Type(typ)

	if p.Channel, err = requiredString(codec, "channel", w.Channel); err != nil {
		return Packet{}, malformed(text, err)
	}

	if !isNull(w.Key) && p.Type != TypeMessage {
		if err := codec.Unmarshal(w.Key, &p.Key); err != nil {
			return Packet{}, malformed(text, fmt.Errorf("key: %w", err))
		}
	}

	if !isNull(w.Data) {
		p.Data = append(json.RawMessage(nil), w.Data...)
	}
	return p, nil
}

func requiredString(codec Codec, field string, raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", fmt.Errorf("missing %s", field)
	}
	var s string
	if err := codec.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	if s == "" {
		return "", fmt.Errorf("empty %s", field)
	}
	return s, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

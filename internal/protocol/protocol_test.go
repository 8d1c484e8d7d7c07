package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// TestEncode tests the Encode function with various packets
func TestEncode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		packet    Packet
		want      string
		wantError bool
	}{
		{
			name:   "subscribe with key",
			packet: NewSubscribe("some-channel", "subscribe-key"),
			want:   `{"channel":"some-channel","key":"subscribe-key","type":"subscribe"}`,
		},
		{
			name:   "subscribe without key",
			packet: NewSubscribe("some-channel", ""),
			want:   `{"channel":"some-channel","type":"subscribe"}`,
		},
		{
			name:   "publish with data and key",
			packet: NewPublish("ch", json.RawMessage(`{"msg":"hi"}`), "pubkey"),
			want:   `{"channel":"ch","data":{"msg":"hi"},"key":"pubkey","type":"publish"}`,
		},
		{
			name:   "publish without data",
			packet: NewPublish("ch", nil, ""),
			want:   `{"channel":"ch","type":"publish"}`,
		},
		{
			name:   "message",
			packet: NewMessage("ch", json.RawMessage(`[1,"two",true]`)),
			want:   `{"channel":"ch","data":[1,"two",true],"type":"message"}`,
		},
		{
			name:      "missing channel",
			packet:    NewSubscribe("", ""),
			wantError: true,
		},
		{
			name:      "missing type",
			packet:    Packet{Channel: "ch"},
			wantError: true,
		},
		{
			name:      "invalid raw data",
			packet:    NewPublish("ch", json.RawMessage(`{nope`), ""),
			wantError: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Encode(tt.packet)
			if (err != nil) != tt.wantError {
				t.Fatalf("Encode() error = %v, wantError %v", err, tt.wantError)
			}
			if tt.wantError {
				return
			}
			if got != tt.want {
				t.Errorf("Encode() = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestEncodeOmitsKey verifies absent optional fields never reach the wire
func TestEncodeOmitsKey(t *testing.T) {
	t.Parallel()

	out, err := Encode(NewSubscribe("c", ""))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(out), &fields); err != nil {
		t.Fatalf("encoded packet is not an object: %v", err)
	}
	if _, ok := fields["key"]; ok {
		t.Errorf("encoded packet has a key field: %s", out)
	}
	if _, ok := fields["data"]; ok {
		t.Errorf("encoded packet has a data field: %s", out)
	}
}

// TestDecode tests the Decode function with various inputs
func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		want      Packet
		wantError bool
	}{
		{
			name: "message with object data",
			text: `{"type":"message","channel":"ch","data":{"msg":"hi"}}`,
			want: NewMessage("ch", json.RawMessage(`{"msg":"hi"}`)),
		},
		{
			name: "message without data",
			text: `{"type":"message","channel":"ch"}`,
			want: NewMessage("ch", nil),
		},
		{
			name: "null data is absent",
			text: `{"channel":"c","data":null,"type":"message"}`,
			want: NewMessage("c", nil),
		},
		{
			name: "message key is discarded",
			text: `{"type":"message","channel":"ch","data":1,"key":"k"}`,
			want: NewMessage("ch", json.RawMessage(`1`)),
		},
		{
			name: "subscribe with key",
			text: `{"channel":"c","key":"k","type":"subscribe"}`,
			want: NewSubscribe("c", "k"),
		},
		{
			name: "surrounding whitespace",
			text: "  \n{\"type\":\"message\",\"channel\":\"ch\",\"data\":\"x\"}\n",
			want: NewMessage("ch", json.RawMessage(`"x"`)),
		},
		{
			name: "unknown type is accepted",
			text: `{"type":"ack","channel":"ch"}`,
			want: Packet{Type: "ack", Channel: "ch"},
		},
		{
			name: "extra fields are ignored",
			text: `{"type":"message","channel":"ch","data":2,"id":7}`,
			want: NewMessage("ch", json.RawMessage(`2`)),
		},
		{name: "empty text", text: "", wantError: true},
		{name: "not json", text: "hello", wantError: true},
		{name: "json array", text: `[1,2]`, wantError: true},
		{name: "json null", text: `null`, wantError: true},
		{name: "truncated object", text: `{"type":"message"`, wantError: true},
		{name: "missing type", text: `{"channel":"ch"}`, wantError: true},
		{name: "missing channel", text: `{"type":"message"}`, wantError: true},
		{name: "empty channel", text: `{"type":"message","channel":""}`, wantError: true},
		{name: "null channel", text: `{"type":"message","channel":null}`, wantError: true},
		{name: "numeric type", text: `{"type":1,"channel":"ch"}`, wantError: true},
		{name: "numeric key", text: `{"type":"subscribe","channel":"ch","key":5}`, wantError: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Decode(tt.text)
			if (err != nil) != tt.wantError {
				t.Fatalf("Decode() error = %v, wantError %v", err, tt.wantError)
			}
			if tt.wantError {
				var mpe *MalformedPacketError
				if !errors.As(err, &mpe) {
					t.Errorf("Decode() error type = %T, want *MalformedPacketError", err)
				}
				if !errors.Is(err, ErrMalformedPacket) {
					t.Errorf("Decode() error does not match ErrMalformedPacket: %v", err)
				}
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
			if got.HasData() != tt.want.HasData() {
				t.Errorf("Decode().HasData() = %v, want %v", got.HasData(), tt.want.HasData())
			}
		})
	}
}

// TestRoundTrip tests that Decode(Encode(p)) yields p for every packet shape and codec
func TestRoundTrip(t *testing.T) {
	t.Parallel()

	packets := []Packet{
		NewSubscribe("some-channel", "subscribe-key"),
		NewSubscribe("some-channel", ""),
		NewPublish("ch", json.RawMessage(`{"msg":"Hello, WSPS!"}`), "publish-key"),
		NewPublish("ch", json.RawMessage(`"plain string"`), ""),
		NewPublish("ch", json.RawMessage(`3.25`), ""),
		NewPublish("ch", json.RawMessage(`false`), "k"),
		NewPublish("ch", nil, "k"),
		NewMessage("ch", json.RawMessage(`[{"a":1},{"b":[true,null]}]`)),
		NewMessage("unicode ☃ channel", json.RawMessage(`"ünïcödé"`)),
	}

	for _, codec := range []Codec{StdCodec(), FastCodec()} {
		for _, p := range packets {
			text, err := EncodeWith(codec, p)
			if err != nil {
				t.Fatalf("%s: EncodeWith(%v) error = %v", codec.Name(), p, err)
			}

			got, err := DecodeWith(codec, text)
			if err != nil {
				t.Fatalf("%s: DecodeWith(%s) error = %v", codec.Name(), text, err)
			}

			if !got.Equal(p) {
				t.Errorf("%s: round trip = %+v, want %+v", codec.Name(), got, p)
			}
		}
	}
}

// TestCodecsAgree verifies both backends produce the same deterministic encoding
func TestCodecsAgree(t *testing.T) {
	t.Parallel()

	data := map[string]any{"zeta": 1, "alpha": []any{"x", 2}, "mid": map[string]any{"b": true, "a": nil}}

	std, err := MarshalData(StdCodec(), data)
	if err != nil {
		t.Fatalf("std MarshalData() error = %v", err)
	}
	fast, err := MarshalData(FastCodec(), data)
	if err != nil {
		t.Fatalf("fast MarshalData() error = %v", err)
	}

	want := `{"alpha":["x",2],"mid":{"a":null,"b":true},"zeta":1}`
	if string(std) != want {
		t.Errorf("std = %s, want %s", std, want)
	}
	if string(fast) != want {
		t.Errorf("fast = %s, want %s", fast, want)
	}
}

// TestMarshalData covers nil and pre-encoded payloads
func TestMarshalData(t *testing.T) {
	t.Parallel()

	got, err := MarshalData(StdCodec(), nil)
	if err != nil || got != nil {
		t.Errorf("MarshalData(nil) = %s, %v; want nil, nil", got, err)
	}

	raw := json.RawMessage(`{"already":"encoded"}`)
	got, err = MarshalData(StdCodec(), raw)
	if err != nil {
		t.Fatalf("MarshalData(raw) error = %v", err)
	}
	if string(got) != string(raw) {
		t.Errorf("MarshalData(raw) = %s, want %s", got, raw)
	}

	if _, err := MarshalData(StdCodec(), make(chan int)); err == nil {
		t.Error("MarshalData(chan) should fail")
	}
}

// TestCodecByName tests codec resolution from configuration names
func TestCodecByName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"", StdCodecName, true},
		{"std", StdCodecName, true},
		{"fast", FastCodecName, true},
		{"msgpack", "", false},
	}

	for _, tt := range tests {
		codec, ok := CodecByName(tt.name)
		if ok != tt.wantOK {
			t.Errorf("CodecByName(%q) ok = %v, want %v", tt.name, ok, tt.wantOK)
			continue
		}
		if ok && codec.Name() != tt.want {
			t.Errorf("CodecByName(%q) = %s, want %s", tt.name, codec.Name(), tt.want)
		}
	}
}

// TestPacketData tests DecodeData and Value helpers
func TestPacketData(t *testing.T) {
	t.Parallel()

	p := NewMessage("ch", json.RawMessage(`{"msg":"hi","n":2}`))

	var dst struct {
		Msg string `json:"msg"`
		N   int    `json:"n"`
	}
	if err := p.DecodeData(&dst); err != nil {
		t.Fatalf("DecodeData() error = %v", err)
	}
	if dst.Msg != "hi" || dst.N != 2 {
		t.Errorf("DecodeData() = %+v", dst)
	}

	v, err := p.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	want := map[string]any{"msg": "hi", "n": float64(2)}
	if !reflect.DeepEqual(v, want) {
		t.Errorf("Value() = %v, want %v", v, want)
	}

	empty := NewMessage("ch", nil)
	if err := empty.DecodeData(&dst); err == nil {
		t.Error("DecodeData() on empty packet should fail")
	}
	if v, err := empty.Value(); v != nil || err != nil {
		t.Errorf("Value() on empty packet = %v, %v", v, err)
	}
}

// TestTypeKnown tests packet type classification
func TestTypeKnown(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{TypeSubscribe, TypePublish, TypeMessage} {
		if !typ.Known() {
			t.Errorf("%s should be known", typ)
		}
	}
	for _, typ := range []Type{"", "ack", "MESSAGE"} {
		if typ.Known() {
			t.Errorf("%q should not be known", typ)
		}
	}
}

// TestMalformedExcerpt tests that long frames are truncated in errors
func TestMalformedExcerpt(t *testing.T) {
	t.Parallel()

	_, err := Decode(strings.Repeat("x", 500))
	var mpe *MalformedPacketError
	if !errors.As(err, &mpe) {
		t.Fatalf("Decode() error = %v, want *MalformedPacketError", err)
	}
	if len(mpe.Frame) > excerptSize+3 {
		t.Errorf("frame excerpt length = %d, want <= %d", len(mpe.Frame), excerptSize+3)
	}
}

// TestPretty tests the indented diagnostic form
func TestPretty(t *testing.T) {
	t.Parallel()

	out := NewSubscribe("c", "k").Pretty()
	if !strings.Contains(out, "\n    \"channel\": \"c\"") {
		t.Errorf("Pretty() = %s", out)
	}
	if NewSubscribe("c", "k").String() != `{"channel":"c","key":"k","type":"subscribe"}` {
		t.Errorf("String() = %s", NewSubscribe("c", "k").String())
	}
}

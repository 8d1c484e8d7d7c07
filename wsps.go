package wsps

import (
	"context"

	"github.com/luciancaetano/wsps/internal/protocol"
	"github.com/luciancaetano/wsps/internal/registry"
)

// Packet is a frame exchanged with a WSPS server. Subscribers receive
// packets of type PacketMessage; use DecodeData or Value to read the payload.
type Packet = protocol.Packet

// PacketType identifies the shape of a Packet.
type PacketType = protocol.Type

// Codec is the serialization backend used to encode packets and publish data.
type Codec = protocol.Codec

// MessageHandler is invoked for every message packet on a subscribed channel.
//
// Handlers run on the transport's receive goroutine, never on the goroutine
// that called Subscribe. A handler that panics is recovered and reported
// through the ErrorHandler; the remaining handlers still run. A handler may
// call Disconnect or DisconnectWithCode; the call then returns without waiting
// for the receive goroutine, which cannot stop until the handler returns.
type MessageHandler = registry.Callback

// CloseHandler is invoked exactly once per connection when it ends, for any
// reason: a clean Disconnect, a server-initiated close or a transport failure.
type CloseHandler func(code int, reason string)

// ErrorHandler receives errors that happen on the receive path and cannot be
// returned to a caller: malformed frames and panicking subscribers.
type ErrorHandler func(err error)

// State is the lifecycle state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Client is a WSPS session: one logical connection to a server plus the
// local subscription bookkeeping.
//
// Example usage:
//
//	import "github.com/luciancaetano/wsps/ws"
//
//	client, err := ws.NewClient(ws.NewConfig("ws://127.0.0.1:52525", func(code int, reason string) {
//	    log.Printf("disconnected: %d %s", code, reason)
//	}))
//
//	client.Connect(ctx)
//	client.Subscribe(ctx, "some-channel", func(p wsps.Packet) {
//	    // Runs on the receive goroutine
//	    fmt.Println(p.String())
//	}, "subscribe-key")
//	client.Publish(ctx, "some-channel", map[string]string{"msg": "Hello, WSPS!"}, "publish-key")
//	client.Disconnect(ctx)
type Client interface {
	// Server returns the address the client connects to.
	Server() string

	// State returns the current lifecycle state.
	State() State

	// Connect starts connecting to the server and returns without waiting for
	// the handshake to complete. There is no guarantee the connection is live
	// when Connect returns; use the Connecting state to subscribe and publish
	// right away, frames are queued by the transport until it is ready.
	//
	// Returns ErrAlreadyConnected if a connection is already active. Failures
	// that happen after Connect returns are reported only through the
	// CloseHandler; the client never reconnects on its own.
	Connect(ctx context.Context) error

	// Subscribe registers handler for messages on channel and sends a
	// subscribe packet. More than one handler per channel is supported; all of
	// them run, in registration order. Every call sends a new subscribe packet.
	//
	// key is an optional authorization key forwarded to the server as-is;
	// pass "" for none.
	Subscribe(ctx context.Context, channel string, handler MessageHandler, key string) error

	// Publish sends data to channel. data may be any value the configured
	// Codec can marshal, a json.RawMessage, or nil for no data.
	//
	// key is an optional authorization key; pass "" for none.
	Publish(ctx context.Context, channel string, data any, key string) error

	// Disconnect closes the connection with code 1000 and waits for the
	// transport's goroutines to stop.
	//
	// This is equivalent to calling DisconnectWithCode(ctx, CloseNormalClosure, "", true).
	Disconnect(ctx context.Context) error

	// DisconnectWithCode closes the connection with the given close code and
	// reason. With wait set, it blocks until the transport has fully stopped.
	// No timeout is applied: an unresponsive transport blocks the caller until
	// ctx is cancelled. Afterwards Connect may be called again.
	//
	// While a MessageHandler is running, including a call made from the
	// handler itself, wait is ignored: the close is started and the method
	// returns. OnClose still fires once the transport stops.
	DisconnectWithCode(ctx context.Context, code int, reason string, wait bool) error
}

// TransportHandlers are the callbacks a Transport invokes into the session.
type TransportHandlers struct {
	// OnOpen is called once the handshake has completed.
	OnOpen func()

	// OnMessage is called for every inbound text frame, sequentially, on the
	// transport's receive goroutine.
	OnMessage func(text string)

	// OnClosed is called exactly once when the connection ends for any reason.
	OnClosed func(code int, reason string)
}

// Transport is the message-stream connection a Client runs over.
//
// Implementations run their receive loop on their own goroutine. The built-in
// implementation is a gorilla/websocket connection; alternatives only need to
// honour this contract.
type Transport interface {
	// Connect begins the handshake and returns without waiting for it.
	Connect(ctx context.Context) error

	// Send queues a text frame. Frames sent before the handshake completes
	// are queued and flushed once connected.
	Send(ctx context.Context, text string) error

	// Close begins a graceful shutdown with the given close code and reason.
	Close(ctx context.Context, code int, reason string) error

	// Wait blocks until the connection and its background work have ended,
	// or ctx is done.
	Wait(ctx context.Context) error
}

// TransportFactory creates a transport for server that reports to h.
type TransportFactory func(server string, h TransportHandlers) (Transport, error)

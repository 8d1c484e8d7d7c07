// Package wsps provides a client for WSPS, a lightweight publish/subscribe protocol over WebSocket.
//
// A client connects to a WSPS server, subscribes handlers to named channels (optionally
// authorized by a key) and publishes structured payloads to channels. A background receive
// goroutine decodes inbound frames and delivers message packets to the handlers of the
// matching channel.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/wsps"
//	    "github.com/luciancaetano/wsps/ws"
//	)
//
//	client, err := ws.NewClient(ws.NewConfig("ws://127.0.0.1:52525", nil))
//	if err != nil {
//	    return err
//	}
//
//	client.Connect(ctx)
//	client.Subscribe(ctx, "some-channel", func(p wsps.Packet) {
//	    var msg struct{ Msg string `json:"msg"` }
//	    p.DecodeData(&msg)
//	}, "subscribe-key")
//
//	client.Publish(ctx, "some-channel", map[string]string{"msg": "Hello, WSPS!"}, "publish-key")
//	client.Disconnect(ctx)
//
// # Protocol Format
//
// Every frame is a flat JSON text object. Optional fields are omitted when absent:
//
//	{"channel": "some-channel", "key": "subscribe-key", "type": "subscribe"}
//	{"channel": "some-channel", "data": {"msg": "hi"}, "key": "publish-key", "type": "publish"}
//	{"channel": "some-channel", "data": {"msg": "hi"}, "type": "message"}
//
// Keys are opaque strings forwarded to the server; the client does no authorization.
//
// # Lifecycle
//
// A client moves through disconnected, connecting, connected and disconnecting states.
// Connect does not wait for the handshake. Subscribe and Publish are accepted while
// connecting; the transport queues frames until the connection is up. Disconnect waits
// for the transport's goroutines to stop. The client never reconnects on its own: the
// CloseHandler is the only signal of an unexpected disconnect, and the application may
// call Connect again once it fires.
//
// # Serialization
//
// The encoding backend is chosen per client with ws.ClientConfig.Codec: ws.StdCodec()
// (encoding/json, the default) or ws.FastCodec() (goccy/go-json). Both emit keys in
// sorted order, so encoded packets are deterministic.
//
// # Important
//
//   - Handlers run on the receive goroutine; a slow handler delays delivery on every channel
//   - Per channel, delivery order matches the order frames were received
//   - A panicking handler is recovered and reported through the ErrorHandler
//   - Malformed inbound frames are dropped and reported; the connection stays up
//   - Disconnect called while a handler runs (e.g. from the handler) does not wait for the receive goroutine
package wsps

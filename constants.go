package wsps

import "github.com/luciancaetano/wsps/internal/protocol"

// Packet types.
const (
	PacketSubscribe = protocol.TypeSubscribe
	PacketPublish   = protocol.TypePublish
	PacketMessage   = protocol.TypeMessage
)

// Close codes used by the client (RFC 6455 section 7.4.1)
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	CloseNoStatus        = 1005
	CloseAbnormalClosure = 1006
	ClosePolicyViolation = 1008
)

// Standard error messages
const (
	// Usage errors
	ErrMsgUsage            = "invalid use of WSPS client"
	ErrMsgAlreadyConnected = "this instance of WSPS client is already connected"
	ErrMsgNotConnected     = "this instance of WSPS client is not connected"
	ErrMsgInvalidChannel   = "channel name must not be empty"
	ErrMsgNilCallback      = "subscriber callback must not be nil"

	// Transport errors
	ErrMsgConnectionClosed = "connection is closed"
	ErrMsgFailedToEncode   = "failed to encode packet"
	ErrMsgFailedToSend     = "failed to send packet"
)

// DefaultSubprotocol is requested during the handshake unless configured otherwise.
const DefaultSubprotocol = "http-only"

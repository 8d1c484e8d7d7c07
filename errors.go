package wsps

import (
	"errors"
	"fmt"

	"github.com/luciancaetano/wsps/internal/protocol"
	"github.com/luciancaetano/wsps/internal/registry"
)

// ErrUsage is matched by every error caused by calling the client in a state
// that does not allow it. Usage errors are always returned synchronously.
var ErrUsage = errors.New(ErrMsgUsage)

var (
	ErrAlreadyConnected = usageError(ErrMsgAlreadyConnected)
	ErrNotConnected     = usageError(ErrMsgNotConnected)
	ErrInvalidChannel   = usageError(ErrMsgInvalidChannel)
	ErrNilCallback      = usageError(ErrMsgNilCallback)
)

// ErrConnectionClosed is returned when sending on a transport that has closed.
var ErrConnectionClosed = errors.New(ErrMsgConnectionClosed)

// ErrMalformedPacket is matched by every MalformedPacketError.
var ErrMalformedPacket = protocol.ErrMalformedPacket

// MalformedPacketError describes an inbound frame that could not be decoded.
// The frame is dropped and the connection continues.
type MalformedPacketError = protocol.MalformedPacketError

// CallbackError reports a subscriber handler that panicked.
type CallbackError = registry.CallbackError

// TransportError wraps a failure returned synchronously by the transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type usage struct {
	msg string
}

func usageError(msg string) error {
	return &usage{msg: msg}
}

func (e *usage) Error() string {
	return e.msg
}

func (e *usage) Is(target error) bool {
	return target == ErrUsage
}

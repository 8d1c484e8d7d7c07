package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/wsps"
	"github.com/luciancaetano/wsps/internal/protocol"
	"github.com/luciancaetano/wsps/internal/registry"
)

// Config holds the collaborators of a Session.
type Config struct {
	Server           string
	OnClose          wsps.CloseHandler
	OnError          wsps.ErrorHandler
	Codec            protocol.Codec
	TransportFactory wsps.TransportFactory
	Logger           zerolog.Logger
}

// Session implements wsps.Client over any wsps.Transport.
type Session struct {
	server  string
	onClose wsps.CloseHandler
	onError wsps.ErrorHandler
	codec   protocol.Codec
	factory wsps.TransportFactory
	log     zerolog.Logger

	registry *registry.Registry

	// dispatching counts receive-path dispatches in progress.
	dispatching atomic.Int32

	mu        sync.Mutex
	state     wsps.State
	transport wsps.Transport
}

var _ wsps.Client = (*Session)(nil)

// New creates a disconnected session.
func New(cfg Config) (*Session, error) {
	if cfg.TransportFactory == nil {
		return nil, errors.New("transport factory is required")
	}
	if cfg.Codec == nil {
		cfg.Codec = protocol.DefaultCodec()
	}

	s := &Session{
		server:  cfg.Server,
		onClose: cfg.OnClose,
		onError: cfg.OnError,
		codec:   cfg.Codec,
		factory: cfg.TransportFactory,
		log:     cfg.Logger.With().Str("server", cfg.Server).Logger(),
		state:   wsps.StateDisconnected,
	}
	s.registry = registry.New(s.reportError)
	return s, nil
}

// Server returns the server address.
func (s *Session) Server() string {
	return s.server
}

// State returns the current lifecycle state.
func (s *Session) State() wsps.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect creates a transport and starts its handshake without waiting for it.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.transport != nil {
		s.mu.Unlock()
		return wsps.ErrAlreadyConnected
	}

	// handlers are bound to this transport so late callbacks from a previous
	// connection cannot change the state of the current one.
	var t wsps.Transport
	handlers := wsps.TransportHandlers{
		OnOpen:    func() { s.onTransportOpen(t) },
		OnMessage: s.onTransportMessage,
		OnClosed:  func(code int, reason string) { s.onTransportClosed(t, code, reason) },
	}

	t, err := s.factory(s.server, handlers)
	if err != nil {
		s.mu.Unlock()
		return &wsps.TransportError{Op: "create", Err: err}
	}

	s.transport = t
	s.state = wsps.StateConnecting
	s.mu.Unlock()

	if err := t.Connect(ctx); err != nil {
		s.release(t)
		return &wsps.TransportError{Op: "connect", Err: err}
	}

	s.log.Debug().Msg("connecting")
	return nil
}

// Subscribe registers handler for channel and sends a subscribe packet.
func (s *Session) Subscribe(ctx context.Context, channel string, handler wsps.MessageHandler, key string) error {
	if channel == "" {
		return wsps.ErrInvalidChannel
	}
	if handler == nil {
		return wsps.ErrNilCallback
	}

	t, err := s.activeTransport()
	if err != nil {
		return err
	}

	s.registry.Register(channel, handler)

	s.log.Debug().Str("channel", channel).Int("subscribers", s.registry.Len(channel)).Msg("subscribe")
	return s.send(ctx, t, protocol.NewSubscribe(channel, key))
}

// Publish sends data to channel.
func (s *Session) Publish(ctx context.Context, channel string, data any, key string) error {
	if channel == "" {
		return wsps.ErrInvalidChannel
	}

	t, err := s.activeTransport()
	if err != nil {
		return err
	}

	raw, err := protocol.MarshalData(s.codec, data)
	if err != nil {
		return fmt.Errorf("%s: %w", wsps.ErrMsgFailedToEncode, err)
	}

	return s.send(ctx, t, protocol.NewPublish(channel, raw, key))
}

// Disconnect closes the connection normally and waits for the transport to stop.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.DisconnectWithCode(ctx, wsps.CloseNormalClosure, "", true)
}

// DisconnectWithCode closes the connection with code and reason. With wait it
// blocks until the transport's goroutines have exited or ctx is done.
func (s *Session) DisconnectWithCode(ctx context.Context, code int, reason string, wait bool) error {
	s.mu.Lock()
	t := s.transport
	if t == nil || s.state == wsps.StateDisconnecting {
		s.mu.Unlock()
		return wsps.ErrNotConnected
	}
	s.state = wsps.StateDisconnecting
	s.mu.Unlock()

	// The receive goroutine cannot wait for itself to exit.
	if wait && s.dispatching.Load() > 0 {
		s.log.Debug().Msg("disconnect during dispatch, not waiting for the receive loop")
		wait = false
	}

	s.log.Debug().Int("code", code).Str("reason", reason).Bool("wait", wait).Msg("disconnecting")

	closeErr := t.Close(ctx, code, reason)

	var waitErr error
	if wait {
		waitErr = t.Wait(ctx)
	}

	s.release(t)

	if closeErr != nil {
		return &wsps.TransportError{Op: "close", Err: closeErr}
	}
	return waitErr
}

func (s *Session) activeTransport() (wsps.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case wsps.StateConnecting, wsps.StateConnected:
		return s.transport, nil
	}
	return nil, wsps.ErrNotConnected
}

func (s *Session) send(ctx context.Context, t wsps.Transport, p protocol.Packet) error {
	text, err := protocol.EncodeWith(s.codec, p)
	if err != nil {
		return fmt.Errorf("%s: %w", wsps.ErrMsgFailedToEncode, err)
	}

	if err := t.Send(ctx, text); err != nil {
		return fmt.Errorf("%s: %w", wsps.ErrMsgFailedToSend, err)
	}
	return nil
}

// release drops t if it is still the current transport.
func (s *Session) release(t wsps.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == t {
		s.transport = nil
		s.state = wsps.StateDisconnected
	}
}

func (s *Session) onTransportOpen(t wsps.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == t && s.state == wsps.StateConnecting {
		s.state = wsps.StateConnected
		s.log.Info().Msg("connected")
	}
}

func (s *Session) onTransportClosed(t wsps.Transport, code int, reason string) {
	s.mu.Lock()
	// A disconnect in progress releases the transport itself once Wait returns.
	if s.transport == t && s.state != wsps.StateDisconnecting {
		s.transport = nil
		s.state = wsps.StateDisconnected
	}
	s.mu.Unlock()

	s.log.Info().Int("code", code).Str("reason", reason).Msg("disconnected")

	if s.onClose != nil {
		s.onClose(code, reason)
	}
}

func (s *Session) onTransportMessage(text string) {
	p, err := protocol.DecodeWith(s.codec, text)
	if err != nil {
		s.reportError(err)
		return
	}

	switch {
	case !p.Type.Known():
		s.log.Warn().Str("type", string(p.Type)).Str("channel", p.Channel).Msg("ignoring unknown packet type")
		return
	case p.Type != protocol.TypeMessage:
		s.log.Warn().Str("type", string(p.Type)).Str("channel", p.Channel).Msg("ignoring client-side packet type from server")
		return
	}

	s.dispatching.Add(1)
	defer s.dispatching.Add(-1)

	if n := s.registry.Dispatch(p); n == 0 {
		s.log.Debug().Str("channel", p.Channel).Msg("no subscribers for message")
	}
}

func (s *Session) reportError(err error) {
	s.log.Error().Err(err).Msg("receive path error")
	if s.onError != nil {
		s.onError(err)
	}
}

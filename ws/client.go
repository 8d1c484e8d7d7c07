package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/wsps"
	"github.com/luciancaetano/wsps/internal/logging"
	"github.com/luciancaetano/wsps/internal/protocol"
	"github.com/luciancaetano/wsps/internal/session"
	"github.com/luciancaetano/wsps/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig

// ClientConfig configures a client created with NewClient.
type ClientConfig struct {
	// Server is the full URI of the WSPS server, e.g. ws://localhost:52525/
	Server string

	// OnClose is called once per connection when it ends for any reason. Can be nil.
	OnClose wsps.CloseHandler

	// OnError receives malformed inbound frames and panicking subscribers. Can be nil;
	// such errors are always logged.
	OnError wsps.ErrorHandler

	// Codec selects the serialization backend. Defaults to StdCodec().
	Codec wsps.Codec

	// RateLimit throttles outbound frames. Defaults to NoRateLimit().
	RateLimit *RateLimitConfig

	// Subprotocols requested during the handshake. Defaults to "http-only".
	Subprotocols []string

	// Header is sent with the handshake request.
	Header http.Header

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PongWait         time.Duration
	PingInterval     time.Duration

	// Logger defaults to the package logger tagged component=wsps.
	Logger *zerolog.Logger

	// TransportFactory replaces the built-in gorilla/websocket transport.
	TransportFactory wsps.TransportFactory
}

// NewConfig returns a configuration for server with the built-in defaults.
//
// Example:
//
//	cfg := ws.NewConfig("ws://127.0.0.1:52525", func(code int, reason string) {
//	    log.Printf("Disconnected with code %d, reason was: %s", code, reason)
//	})
//	cfg.Codec = ws.FastCodec()
//	client, err := ws.NewClient(cfg)
func NewConfig(server string, onClose wsps.CloseHandler) *ClientConfig {
	defaults := websocket.DefaultConfig()
	return &ClientConfig{
		Server:           server,
		OnClose:          onClose,
		Codec:            protocol.DefaultCodec(),
		RateLimit:        NoRateLimit(),
		Subprotocols:     defaults.Subprotocols,
		HandshakeTimeout: defaults.HandshakeTimeout,
		WriteTimeout:     defaults.WriteTimeout,
		PongWait:         defaults.PongWait,
		PingInterval:     defaults.PingInterval,
	}
}

// NewClient creates a disconnected WSPS client.
//
// The server address is validated when Connect creates the transport.
func NewClient(cfg *ClientConfig) (wsps.Client, error) {
	if cfg == nil {
		return nil, errors.New("client config is required")
	}
	if cfg.Server == "" {
		return nil, errors.New("server address is required")
	}

	logger := logging.Component("wsps")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	factory := cfg.TransportFactory
	if factory == nil {
		factory = websocket.Factory(websocket.Config{
			Header:           cfg.Header,
			Subprotocols:     cfg.Subprotocols,
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			PongWait:         cfg.PongWait,
			PingInterval:     cfg.PingInterval,
			RateLimit:        cfg.RateLimit,
			Logger:           logger,
		})
	}

	s, err := session.New(session.Config{
		Server:           cfg.Server,
		OnClose:          cfg.OnClose,
		OnError:          cfg.OnError,
		Codec:            cfg.Codec,
		TransportFactory: factory,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// StdCodec returns the encoding/json serialization backend
func StdCodec() wsps.Codec {
	return protocol.StdCodec()
}

// FastCodec returns the goccy/go-json serialization backend
func FastCodec() wsps.Codec {
	return protocol.FastCodec()
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

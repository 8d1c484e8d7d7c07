package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wsps"
)

const (
	maxMessageSize = 10 * 1024 * 1024 // matches the protocol packet cap
	sendBufferSize = 256
	closeGrace     = time.Second
)

// RateLimitConfig defines outbound rate limiting for a transport
type RateLimitConfig struct {
	// MessagesPerSecond defines how many frames may be written per second
	MessagesPerSecond rate.Limit
	// Burst defines the maximum burst size (token bucket capacity)
	Burst int
	// Enabled determines if rate limiting is active
	Enabled bool
}

// DefaultRateLimitConfig returns the default rate limit configuration
// Allows 100 messages per second with burst of 200
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{
		Enabled: false,
	}
}

// Config holds the transport settings.
type Config struct {
	Header           http.Header
	Subprotocols     []string
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// PongWait is how long the connection may stay silent before it is considered dead.
	PongWait time.Duration
	// PingInterval must be shorter than PongWait.
	PingInterval time.Duration
	RateLimit    *RateLimitConfig
	Logger       zerolog.Logger
}

// DefaultConfig returns the settings used by the built-in client.
func DefaultConfig() Config {
	return Config{
		Subprotocols:     []string{wsps.DefaultSubprotocol},
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PongWait:         60 * time.Second,
		PingInterval:     54 * time.Second,
		RateLimit:        NoRateLimit(),
		Logger:           zerolog.Nop(),
	}
}

// Factory returns a wsps.TransportFactory building threaded transports from cfg.
func Factory(cfg Config) wsps.TransportFactory {
	return func(server string, h wsps.TransportHandlers) (wsps.Transport, error) {
		return NewTransport(server, cfg, h)
	}
}

// Transport implements wsps.Transport over a gorilla/websocket connection.
//
// Connect dials on a background goroutine; once connected a read pump and a
// write pump run in an errgroup until the connection ends.
type Transport struct {
	id       string
	server   string
	cfg      Config
	handlers wsps.TransportHandlers
	dialer   *websocket.Dialer
	limiter  *rate.Limiter
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan string
	done   chan struct{}

	mu          sync.RWMutex
	started     bool
	closed      bool
	closeCode   int
	closeReason string
	peerClose   *websocket.CloseError

	closeOnce sync.Once
}

var _ wsps.Transport = (*Transport)(nil)

// NewTransport validates server and creates an unconnected transport.
func NewTransport(server string, cfg Config, h wsps.TransportHandlers) (*Transport, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", server, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server address %q: scheme must be ws or wss", server)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server address %q: missing host", server)
	}

	defaults := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaults.PongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}

	var limiter *rate.Limiter
	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		limiter = rate.NewLimiter(cfg.RateLimit.MessagesPerSecond, cfg.RateLimit.Burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()

	return &Transport{
		id:       id,
		server:   server,
		cfg:      cfg,
		handlers: h,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Subprotocols:     cfg.Subprotocols,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		limiter: limiter,
		log:     cfg.Logger.With().Str("conn_id", id).Str("server", server).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		sendCh:  make(chan string, sendBufferSize),
		done:    make(chan struct{}),
	}, nil
}

// ID returns a unique identifier for this connection
func (t *Transport) ID() string {
	return t.id
}

// Connect starts dialing in the background and returns immediately.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return wsps.ErrConnectionClosed
	}
	if t.started {
		return errors.New("transport already started")
	}
	t.started = true

	go t.run()
	return nil
}

// Send queues a text frame. Frames queued before the handshake completes are
// written once it does. Blocks only while the queue is full.
func (t *Transport) Send(ctx context.Context, text string) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	// ctx is cancelled as soon as the connection fails, before OnClosed.
	if closed || t.ctx.Err() != nil {
		return wsps.ErrConnectionClosed
	}

	select {
	case t.sendCh <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.ctx.Done():
		return wsps.ErrConnectionClosed
	case <-t.done:
		return wsps.ErrConnectionClosed
	}
}

// Close begins a graceful shutdown with the given close code and reason.
// Calling Close more than once has no effect.
func (t *Transport) Close(ctx context.Context, code int, reason string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.closeCode = code
	t.closeReason = reason
	started := t.started
	t.mu.Unlock()

	t.cancel()

	if !started {
		t.finish(code, reason)
		close(t.done)
	}
	return nil
}

// Wait blocks until the connection and both pumps have stopped, or ctx is done.
func (t *Transport) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the transport has fully stopped.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) run() {
	defer close(t.done)

	conn, _, err := t.dialer.DialContext(t.ctx, t.server, t.cfg.Header)
	if err != nil {
		if code, reason, ok := t.localClose(); ok {
			t.finish(code, reason)
			return
		}
		t.log.Warn().Err(err).Msg("dial failed")
		t.finish(wsps.CloseAbnormalClosure, err.Error())
		return
	}
	defer conn.Close()

	t.log.Debug().Str("subprotocol", conn.Subprotocol()).Msg("connected")
	if t.handlers.OnOpen != nil {
		t.handlers.OnOpen()
	}

	g, gctx := errgroup.WithContext(t.ctx)
	g.Go(func() error { return t.readPump(conn) })
	g.Go(func() error { return t.writePump(gctx, conn) })
	err = g.Wait()

	t.finish(t.closeStatus(err))
}

// closeStatus picks the code and reason reported to OnClosed: a locally
// requested close wins, then the peer's close frame, then the failure.
func (t *Transport) closeStatus(err error) (int, string) {
	if code, reason, ok := t.localClose(); ok {
		return code, reason
	}

	t.mu.RLock()
	peer := t.peerClose
	t.mu.RUnlock()
	if peer != nil {
		return peer.Code, peer.Text
	}

	if err == nil {
		return wsps.CloseAbnormalClosure, ""
	}
	return wsps.CloseAbnormalClosure, err.Error()
}

func (t *Transport) localClose() (int, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closeCode, t.closeReason, t.closed
}

func (t *Transport) finish(code int, reason string) {
	t.closeOnce.Do(func() {
		t.cancel()
		t.log.Debug().Int("code", code).Str("reason", reason).Msg("closed")
		if t.handlers.OnClosed != nil {
			t.handlers.OnClosed(code, reason)
		}
	})
}

// readPump delivers inbound text frames until the connection fails or closes.
func (t *Transport) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	t.extendReadDeadline(conn)

	// Reset read deadline on pong
	conn.SetPongHandler(func(string) error {
		t.extendReadDeadline(conn)
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				t.mu.Lock()
				t.peerClose = ce
				t.mu.Unlock()
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					t.log.Warn().Err(err).Msg("unexpected websocket close")
				}
			} else if _, _, local := t.localClose(); !local {
				t.log.Warn().Err(err).Msg("read failed")
			}
			// Stop accepting frames before OnClosed runs.
			t.cancel()
			return err
		}

		t.extendReadDeadline(conn)

		if msgType != websocket.TextMessage {
			t.log.Warn().Int("frame_type", msgType).Msg("ignoring non-text frame")
			continue
		}

		if t.handlers.OnMessage != nil {
			t.handlers.OnMessage(string(data))
		}
	}
}

// extendReadDeadline pushes the read deadline out by PongWait unless a local
// close is in progress, in which case the close grace deadline stays.
func (t *Transport) extendReadDeadline(conn *websocket.Conn) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
}

// writePump pumps queued frames to the websocket connection
func (t *Transport) writePump(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	fail := func(err error) error {
		// Unblocks the read pump.
		conn.Close()
		return err
	}

	for {
		select {
		case text := <-t.sendCh:
			if t.limiter != nil {
				// Fails fast once closing; the frame is still written.
				_ = t.limiter.Wait(ctx)
			}

			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				return fail(err)
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fail(err)
			}

		case <-ctx.Done():
			if code, reason, ok := t.localClose(); ok {
				t.flush(conn)
				message := websocket.FormatCloseMessage(code, reason)
				if err := conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeGrace)); err != nil {
					return fail(err)
				}
				// Let the read pump see the peer's close reply, but not forever.
				conn.SetReadDeadline(time.Now().Add(closeGrace))
			}
			return nil
		}
	}
}

// flush writes frames still queued when a local close was requested.
func (t *Transport) flush(conn *websocket.Conn) {
	for {
		select {
		case text := <-t.sendCh:
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Package wspstest runs an in-process WSPS broker for tests.
//
// The broker accepts subscribe and publish packets, checks optional per-channel
// keys, fans publishes out to subscribers as message packets and records every
// packet it receives so tests can assert on the wire traffic.
package wspstest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/wsps"
	"github.com/luciancaetano/wsps/internal/protocol"
)

// RateLimitConfig defines inbound rate limiting per connected client
type RateLimitConfig struct {
	MessagesPerSecond rate.Limit
	Burst             int
	Enabled           bool
}

// Config customizes the broker.
type Config struct {
	// SubscribeKeys maps a channel to the key required to subscribe to it.
	SubscribeKeys map[string]string
	// PublishKeys maps a channel to the key required to publish to it.
	PublishKeys map[string]string
	// Subprotocols offered during the upgrade; defaults to "http-only".
	Subprotocols []string
	RateLimit    *RateLimitConfig
}

// Server is a WSPS broker bound to an httptest.Server.
type Server struct {
	cfg      Config
	http     *httptest.Server
	upgrader websocket.Upgrader
	clients  sync.Map // map[string]*peer

	mu            sync.Mutex
	subscriptions map[string]map[string]*peer
	received      []protocol.Packet
	rejected      []protocol.Packet
	notify        chan struct{}
}

// NewServer starts a broker. Close it when done.
func NewServer(cfg Config) *Server {
	if cfg.Subprotocols == nil {
		cfg.Subprotocols = []string{wsps.DefaultSubprotocol}
	}

	s := &Server{
		cfg:           cfg,
		subscriptions: make(map[string]map[string]*peer),
		notify:        make(chan struct{}, 1),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    cfg.Subprotocols,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.http = httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	return s
}

// URL returns the ws:// address of the broker.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

// Close disconnects every client and stops the broker.
func (s *Server) Close() {
	s.CloseAll(wsps.CloseGoingAway, "broker shutting down")
	s.http.CloseClientConnections()
	s.http.Close()
}

// CloseAll closes every client connection with code and reason.
func (s *Server) CloseAll(code int, reason string) {
	s.clients.Range(func(key, value any) bool {
		value.(*peer).closeWithCode(code, reason)
		return true
	})
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	n := 0
	s.clients.Range(func(key, value any) bool {
		n++
		return true
	})
	return n
}

// Received returns the accepted packets in arrival order.
func (s *Server) Received() []protocol.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Packet(nil), s.received...)
}

// Rejected returns packets refused because of a key mismatch.
func (s *Server) Rejected() []protocol.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Packet(nil), s.rejected...)
}

// Subscribers returns how many clients are subscribed to channel.
func (s *Server) Subscribers(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscriptions[channel])
}

// WaitReceived blocks until at least n packets were accepted or timeout elapses.
func (s *Server) WaitReceived(n int, timeout time.Duration) []protocol.Packet {
	deadline := time.After(timeout)
	for {
		if got := s.Received(); len(got) >= n {
			return got
		}
		select {
		case <-s.notify:
		case <-deadline:
			return s.Received()
		}
	}
}

// WaitSubscribers blocks until channel has n subscribers or timeout elapses.
func (s *Server) WaitSubscribers(channel string, n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if s.Subscribers(channel) >= n {
			return true
		}
		select {
		case <-s.notify:
		case <-deadline:
			return s.Subscribers(channel) >= n
		}
	}
}

// Push sends a message packet to every subscriber of channel.
func (s *Server) Push(channel string, data []byte) {
	text, err := protocol.Encode(protocol.NewMessage(channel, data))
	if err != nil {
		panic(err)
	}
	for _, p := range s.subscribersOf(channel) {
		p.send(text)
	}
}

// PushRaw sends text verbatim to every connected client.
func (s *Server) PushRaw(text string) {
	s.clients.Range(func(key, value any) bool {
		value.(*peer).send(text)
		return true
	})
}

func (s *Server) subscribersOf(channel string) []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.subscriptions[channel]))
	for _, p := range s.subscriptions[channel] {
		out = append(out, p)
	}
	return out
}

func (s *Server) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// handleWebSocket handles incoming WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := newPeer(conn, s.cfg.RateLimit)
	s.clients.Store(p.id, p)

	go s.handleClient(p)
}

// handleClient reads packets from a connected client until it goes away
func (s *Server) handleClient(p *peer) {
	defer func() {
		s.clients.Delete(p.id)
		s.unsubscribeAll(p)
		p.closeWithCode(websocket.CloseNormalClosure, "")
	}()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}

		if p.limiter != nil && !p.limiter.Allow() {
			p.closeWithCode(websocket.ClosePolicyViolation, "Rate limit exceeded")
			return
		}

		packet, err := protocol.Decode(string(data))
		if err != nil {
			p.closeWithCode(websocket.CloseProtocolError, "Invalid message format")
			return
		}

		s.handlePacket(p, packet)
	}
}

func (s *Server) handlePacket(p *peer, packet protocol.Packet) {
	s.mu.Lock()
	switch packet.Type {
	case protocol.TypeSubscribe:
		if want, ok := s.cfg.SubscribeKeys[packet.Channel]; ok && want != packet.Key {
			s.rejected = append(s.rejected, packet)
			s.mu.Unlock()
			return
		}
		subs, ok := s.subscriptions[packet.Channel]
		if !ok {
			subs = make(map[string]*peer)
			s.subscriptions[packet.Channel] = subs
		}
		subs[p.id] = p

	case protocol.TypePublish:
		if want, ok := s.cfg.PublishKeys[packet.Channel]; ok && want != packet.Key {
			s.rejected = append(s.rejected, packet)
			s.mu.Unlock()
			return
		}

	default:
		s.rejected = append(s.rejected, packet)
		s.mu.Unlock()
		return
	}
	s.received = append(s.received, packet)
	s.mu.Unlock()
	s.signal()

	if packet.Type == protocol.TypePublish {
		s.Push(packet.Channel, packet.Data)
	}
}

func (s *Server) unsubscribeAll(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subs := range s.subscriptions {
		delete(subs, p.id)
	}
}

// peer is one connected client on the broker side
type peer struct {
	id      string
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	sendCh  chan string
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
}

func newPeer(conn *websocket.Conn, rl *RateLimitConfig) *peer {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if rl != nil && rl.Enabled {
		limiter = rate.NewLimiter(rl.MessagesPerSecond, rl.Burst)
	}

	p := &peer{
		id:      uuid.New().String(),
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		sendCh:  make(chan string, 256),
		limiter: limiter,
	}
	go p.writePump()
	return p
}

func (p *peer) send(text string) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	select {
	case p.sendCh <- text:
	case <-p.ctx.Done():
	}
}

func (p *peer) closeWithCode(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cancel()

	message := websocket.FormatCloseMessage(code, reason)
	p.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	p.conn.Close()
}

// writePump pumps messages from the send channel to the websocket connection
func (p *peer) writePump() {
	for {
		select {
		case text := <-p.sendCh:
			p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := p.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

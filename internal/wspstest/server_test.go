package wspstest

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wsps/internal/protocol"
)

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	d := &websocket.Dialer{HandshakeTimeout: 5 * time.Second, Subprotocols: []string{"http-only"}}
	conn, _, err := d.Dial(s.URL(), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, p protocol.Packet) {
	t.Helper()
	text, err := protocol.Encode(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) protocol.Packet {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	p, err := protocol.Decode(string(data))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return p
}

// TestBrokerFanOut tests that publishes reach every subscriber of the channel
func TestBrokerFanOut(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{})
	defer s.Close()

	sub1 := dial(t, s)
	sub2 := dial(t, s)
	pub := dial(t, s)

	write(t, sub1, protocol.NewSubscribe("news", ""))
	write(t, sub2, protocol.NewSubscribe("news", ""))
	if !s.WaitSubscribers("news", 2, 5*time.Second) {
		t.Fatalf("subscribers = %d, want 2", s.Subscribers("news"))
	}

	write(t, pub, protocol.NewPublish("news", []byte(`{"msg":"hi"}`), ""))

	for _, conn := range []*websocket.Conn{sub1, sub2} {
		got := read(t, conn)
		want := protocol.NewMessage("news", []byte(`{"msg":"hi"}`))
		if !got.Equal(want) {
			t.Errorf("received %v, want %v", got, want)
		}
	}

	if n := len(s.Received()); n != 3 {
		t.Errorf("Received() = %d packets, want 3", n)
	}
}

// TestBrokerKeys tests per-channel key checks
func TestBrokerKeys(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{
		SubscribeKeys: map[string]string{"secret": "sk"},
		PublishKeys:   map[string]string{"secret": "pk"},
	})
	defer s.Close()

	conn := dial(t, s)
	write(t, conn, protocol.NewSubscribe("secret", "wrong"))
	write(t, conn, protocol.NewSubscribe("secret", "sk"))
	write(t, conn, protocol.NewPublish("secret", []byte(`1`), "wrong"))
	write(t, conn, protocol.NewPublish("secret", []byte(`2`), "pk"))

	got := read(t, conn)
	if string(got.Data) != "2" {
		t.Errorf("received data %s, want 2", got.Data)
	}

	s.WaitReceived(2, 5*time.Second)
	if n := len(s.Rejected()); n != 2 {
		t.Errorf("Rejected() = %d packets, want 2", n)
	}
}

// TestBrokerCloseAll tests server-initiated close codes
func TestBrokerCloseAll(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{})
	defer s.Close()

	conn := dial(t, s)
	write(t, conn, protocol.NewSubscribe("c", ""))
	s.WaitReceived(1, 5*time.Second)

	s.CloseAll(websocket.CloseGoingAway, "maintenance")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("ReadMessage() error = %v, want going away close", err)
	}
	if ce, ok := err.(*websocket.CloseError); !ok || ce.Text != "maintenance" {
		t.Errorf("close error = %v", err)
	}
}

// TestBrokerRateLimit tests the per-client inbound limiter
func TestBrokerRateLimit(t *testing.T) {
	t.Parallel()

	s := NewServer(Config{RateLimit: &RateLimitConfig{MessagesPerSecond: 1, Burst: 1, Enabled: true}})
	defer s.Close()

	conn := dial(t, s)
	write(t, conn, protocol.NewSubscribe("a", ""))
	write(t, conn, protocol.NewSubscribe("b", ""))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("ReadMessage() error = %v, want policy violation", err)
	}
}

package ws_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/wsps"
	"github.com/luciancaetano/wsps/internal/wspstest"
	"github.com/luciancaetano/wsps/ws"
)

type ChatMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// TestStressManyClients runs many clients that all subscribe to one room and
// publish into it concurrently.
func TestStressManyClients(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	const (
		numClients        = 200
		messagesPerClient = 5
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	srv := wspstest.NewServer(wspstest.Config{})
	defer srv.Close()

	var (
		received int64
		failures int64
	)

	nop := zerolog.Nop()
	clients := make([]wsps.Client, 0, numClients)
	for i := 0; i < numClients; i++ {
		cfg := ws.NewConfig(srv.URL(), nil)
		cfg.Logger = &nop
		cfg.Codec = ws.FastCodec()
		cfg.OnError = func(error) { atomic.AddInt64(&failures, 1) }

		client, err := ws.NewClient(cfg)
		require.NoError(t, err)
		require.NoError(t, client.Connect(ctx))
		require.NoError(t, client.Subscribe(ctx, "room", func(p wsps.Packet) {
			var msg ChatMessage
			if err := p.DecodeData(&msg); err != nil {
				atomic.AddInt64(&failures, 1)
				return
			}
			atomic.AddInt64(&received, 1)
		}, ""))
		clients = append(clients, client)
	}

	require.True(t, srv.WaitSubscribers("room", numClients, 30*time.Second),
		"subscribers = %d, want %d", srv.Subscribers("room"), numClients)

	startTime := time.Now()
	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(id int, client wsps.Client) {
			defer wg.Done()
			for j := 0; j < messagesPerClient; j++ {
				msg := ChatMessage{
					Username: fmt.Sprintf("user_%d", id),
					Message:  fmt.Sprintf("Message %d from client %d", j, id),
				}
				if err := client.Publish(ctx, "room", msg, ""); err != nil {
					atomic.AddInt64(&failures, 1)
					return
				}
			}
		}(i, client)
	}
	wg.Wait()

	const want = numClients * numClients * messagesPerClient
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&received) >= want
	}, time.Minute, 50*time.Millisecond, "received %d of %d", atomic.LoadInt64(&received), want)

	t.Logf("delivered %d messages to %d clients in %v", want, numClients, time.Since(startTime))

	for _, client := range clients {
		assert.NoError(t, client.Disconnect(ctx))
	}
	assert.Zero(t, atomic.LoadInt64(&failures))
}

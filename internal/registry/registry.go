package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/luciancaetano/wsps/internal/protocol"
)

// Callback receives message packets for a channel.
type Callback func(p protocol.Packet)

// CallbackError reports a subscriber callback that panicked during dispatch.
type CallbackError struct {
	Channel string
	// Index is the callback's position in registration order.
	Index     int
	Recovered any
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("subscriber %d on channel %q panicked: %v", e.Index, e.Channel, e.Recovered)
}

// Unwrap exposes the panic value when it was an error.
func (e *CallbackError) Unwrap() error {
	if err, ok := e.Recovered.(error); ok {
		return err
	}
	return nil
}

// Registry maps channel names to their callbacks in registration order.
// It is safe for concurrent use: Register runs on the caller's goroutine
// while Dispatch runs on the transport's receive goroutine.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string][]Callback
	onError     func(err error)
}

// New creates an empty registry. onError may be nil.
func New(onError func(err error)) *Registry {
	return &Registry{
		subscribers: make(map[string][]Callback),
		onError:     onError,
	}
}

// Register appends cb to the channel's callbacks. Registering the same
// callback twice yields two invocations per message.
func (r *Registry) Register(channel string, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[channel] = append(r.subscribers[channel], cb)
}

// Dispatch invokes every callback registered for p.Channel in order and
// returns how many were invoked. Unknown channels are a no-op.
func (r *Registry) Dispatch(p protocol.Packet) int {
	r.mu.RLock()
	callbacks := r.subscribers[p.Channel]
	// Register may append concurrently; the clipped slice keeps our view stable.
	callbacks = callbacks[:len(callbacks):len(callbacks)]
	r.mu.RUnlock()

	for i, cb := range callbacks {
		r.invoke(i, cb, p)
	}
	return len(callbacks)
}

func (r *Registry) invoke(index int, cb Callback, p protocol.Packet) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.onError != nil {
				r.onError(&CallbackError{Channel: p.Channel, Index: index, Recovered: rec})
			}
		}
	}()
	cb(p)
}

// Len returns the number of callbacks registered for channel.
func (r *Registry) Len(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers[channel])
}

// Channels returns the channels that have at least one callback, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subscribers))
	for ch := range r.subscribers {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

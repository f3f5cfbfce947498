// Package validation provides the asynchronous duplex link to the remote
// validator. Requests are sent fire-and-forget; results arrive later, out
// of order, through subscriptions.
package validation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-idcapture/pkg/protocol"
)

// ErrClosed is returned when sending on a closed channel.
var ErrClosed = errors.New("validation: channel closed")

// Handler receives decoded validation results.
type Handler func(protocol.ValidationResult)

// Subscription is an owned handle on a registered Handler.
type Subscription interface {
	// Release unregisters the handler. It is safe to call more than once.
	Release()
}

// Channel is the client side of the validation link.
type Channel interface {
	// Send transmits one validation request.
	Send(ctx context.Context, req protocol.ValidationRequest) error

	// Subscribe registers h for every inbound result.
	Subscribe(h Handler) Subscription
}

// registry fans inbound messages out to subscribers.
type registry struct {
	mu     sync.RWMutex
	next   int
	subs   map[int]Handler
	logger *slog.Logger
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{subs: make(map[int]Handler), logger: logger}
}

func (r *registry) subscribe(h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.subs[id] = h
	return &subscription{release: func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}}
}

// dispatchRaw decodes data and delivers it. Malformed messages are dropped.
func (r *registry) dispatchRaw(data []byte) {
	res, err := protocol.ParseValidationResult(data)
	if err != nil {
		r.logger.Debug("ignoring malformed validation message", "error", err)
		return
	}
	r.dispatch(res)
}

func (r *registry) dispatch(res protocol.ValidationResult) {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.subs))
	for _, h := range r.subs {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(res)
	}
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

type subscription struct {
	once    sync.Once
	release func()
}

func (s *subscription) Release() {
	s.once.Do(s.release)
}

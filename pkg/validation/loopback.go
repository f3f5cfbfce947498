package validation

import (
	"context"
	"sync"

	"github.com/teslashibe/go-idcapture/internal/log"
	"github.com/teslashibe/go-idcapture/pkg/protocol"
)

// Loopback is an in-process Channel. Sent requests are recorded and results
// are injected with Deliver. It backs tests and runs without a validator.
type Loopback struct {
	*registry

	mu     sync.Mutex
	sent   []protocol.ValidationRequest
	closed bool

	// SendErr, when set, is returned by Send instead of recording.
	SendErr error
}

// NewLoopback creates an empty loopback channel.
func NewLoopback() *Loopback {
	return &Loopback{registry: newRegistry(log.With("component", "validation", "transport", "loopback"))}
}

// Send records req.
func (l *Loopback) Send(ctx context.Context, req protocol.ValidationRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.SendErr != nil {
		return l.SendErr
	}
	l.sent = append(l.sent, req)
	return nil
}

// Subscribe registers h.
func (l *Loopback) Subscribe(h Handler) Subscription {
	return l.subscribe(h)
}

// Deliver hands a result to every subscriber.
func (l *Loopback) Deliver(res protocol.ValidationResult) {
	l.dispatch(res)
}

// DeliverRaw decodes data as an inbound message and delivers it.
// Malformed data is dropped like on a real transport.
func (l *Loopback) DeliverRaw(data []byte) {
	l.dispatchRaw(data)
}

// Sent returns a copy of the recorded requests.
func (l *Loopback) Sent() []protocol.ValidationRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.ValidationRequest(nil), l.sent...)
}

// Subscribers returns the number of registered handlers.
func (l *Loopback) Subscribers() int {
	return l.count()
}

// Close makes further sends fail.
func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// Package capability answers whether the device can present a live camera
// feed without blocking the caller. A Probe starts from an optimistic guess
// and settles once device enumeration completes.
package capability

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-idcapture/internal/log"
)

// Snapshot is the probe state consumed by mode selection.
type Snapshot struct {
	// GetUserMediaSupported reports platform support for camera access.
	GetUserMediaSupported bool `json:"get_user_media_supported"`

	// Loading is true until the probe settles.
	Loading bool `json:"loading"`

	// HasCamera is the probe result, meaningful once Loading is false.
	HasCamera bool `json:"has_camera"`
}

// QuickGuess reports whether a live camera is plausible: optimistic while
// the probe is loading on a supporting platform, the probe result after.
func (s Snapshot) QuickGuess() bool {
	return (s.GetUserMediaSupported && s.Loading) || s.HasCamera
}

// Result is the outcome of a settled probe.
type Result struct {
	HasCamera bool `json:"has_camera"`
}

// Enumerator reports whether at least one usable camera is attached.
type Enumerator interface {
	HasCamera(ctx context.Context) (bool, error)
}

// EnumeratorFunc adapts a function to Enumerator.
type EnumeratorFunc func(ctx context.Context) (bool, error)

// HasCamera calls f.
func (f EnumeratorFunc) HasCamera(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Static is an Enumerator with a fixed answer.
type Static bool

// HasCamera returns the fixed answer.
func (s Static) HasCamera(context.Context) (bool, error) {
	return bool(s), nil
}

// Probe determines camera availability once per mount.
type Probe struct {
	enum   Enumerator
	logger *slog.Logger

	mu   sync.RWMutex
	snap Snapshot

	once       sync.Once
	settleOnce sync.Once
	done       chan struct{}

	// OnSettle is called once, after Loading turns false.
	OnSettle func(Snapshot)
}

// NewProbe creates a probe in the loading state.
func NewProbe(getUserMediaSupported bool, enum Enumerator) *Probe {
	return &Probe{
		enum:   enum,
		logger: log.With("component", "capability"),
		snap: Snapshot{
			GetUserMediaSupported: getUserMediaSupported,
			Loading:               true,
		},
		done: make(chan struct{}),
	}
}

// Snapshot returns the current probe state.
func (p *Probe) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// QuickGuess returns the best-effort answer without blocking.
func (p *Probe) QuickGuess() bool {
	return p.Snapshot().QuickGuess()
}

// Loading reports whether the probe has not settled yet.
func (p *Probe) Loading() bool {
	return p.Snapshot().Loading
}

// Done is closed once the probe has settled.
func (p *Probe) Done() <-chan struct{} {
	return p.done
}

// Probe enumerates devices on the first call and returns the cached result
// on later calls. It never fails: enumeration errors and cancellation
// resolve to HasCamera=false.
func (p *Probe) Probe(ctx context.Context) Result {
	p.once.Do(func() {
		has := false
		if p.enum != nil {
			var err error
			has, err = p.enum.HasCamera(ctx)
			if err != nil {
				p.logger.Debug("camera enumeration failed", "error", err)
				has = false
			}
		}
		p.settle(has)
	})
	<-p.done
	return Result{HasCamera: p.Snapshot().HasCamera}
}

// MarkUserMedia records an active camera feed, which proves a camera and
// settles the probe.
func (p *Probe) MarkUserMedia() {
	p.settle(true)
	p.mu.Lock()
	p.snap.HasCamera = true
	p.mu.Unlock()
}

// settle ends loading. Only the first call has an effect.
func (p *Probe) settle(has bool) {
	p.settleOnce.Do(func() {
		p.mu.Lock()
		p.snap.Loading = false
		p.snap.HasCamera = has
		snap := p.snap
		cb := p.OnSettle
		p.mu.Unlock()

		close(p.done)
		p.logger.Info("camera probe settled", "has_camera", has)

		if cb != nil {
			cb(snap)
		}
	})
}

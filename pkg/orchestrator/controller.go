package orchestrator

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-idcapture/internal/log"
	"github.com/teslashibe/go-idcapture/pkg/capability"
	"github.com/teslashibe/go-idcapture/pkg/capture"
	"github.com/teslashibe/go-idcapture/pkg/payload"
	"github.com/teslashibe/go-idcapture/pkg/protocol"
	"github.com/teslashibe/go-idcapture/pkg/store"
	"github.com/teslashibe/go-idcapture/pkg/validation"
)

// ErrStopped is returned when a request reaches a controller that is not running.
var ErrStopped = errors.New("orchestrator: controller stopped")

const (
	eventBuffer = 64
	buildBuffer = 16
)

// Controller runs an Orchestrator on a single event loop. Capability
// changes, user capture requests and validation results are funneled into
// the loop; payloads are built in selection order by one worker.
type Controller struct {
	orch    *Orchestrator
	store   store.Store
	channel validation.Channel
	builder *payload.Builder
	probe   *capability.Probe
	logger  *slog.Logger

	events chan Event
	builds chan buildJob

	// session mirrors the loop's session so requests can be stamped with
	// the kind that was active when they were made.
	session atomic.Pointer[capture.Session]

	mu      sync.RWMutex
	view    View
	onView  []func(View)
	running bool

	stopped  chan struct{}
	stopOnce sync.Once
	settled  chan struct{}
}

// buildJob is one user request, in the order it was made. Jobs that carry
// an event are forwarded to the loop without building.
type buildJob struct {
	kind  capture.Kind
	frame image.Image
	file  *capture.File
	event Event

	// fallback posts UploadFallback ahead of the built file.
	fallback bool
}

// flush is an internal event closing done once every prior event is applied.
type flush struct {
	done chan struct{}
}

func (flush) event() {}

// NewController wires an orchestrator to its collaborators.
func NewController(session capture.Session, opts Options, st store.Store, ch validation.Channel, b *payload.Builder, p *capability.Probe) *Controller {
	c := &Controller{
		orch:    New(session, p.Snapshot(), opts),
		store:   st,
		channel: ch,
		builder: b,
		probe:   p,
		logger:  log.With("component", "orchestrator"),
		events:  make(chan Event, eventBuffer),
		builds:  make(chan buildJob, buildBuffer),
		stopped: make(chan struct{}),
		settled: make(chan struct{}),
	}
	if r, ok := st.(store.Reader); ok {
		for _, kind := range capture.Kinds() {
			if list := r.Captures(kind); len(list) > 0 {
				c.orch.Restore(kind, list)
				c.logger.Info("restored stored captures", "kind", kind,
					"captures", len(list), "pending", list.PendingCount())
			}
		}
	}
	c.session.Store(&session)
	c.view = c.orch.View()
	return c
}

// OnView registers a callback invoked from the loop after every event.
func (c *Controller) OnView(fn func(View)) {
	c.mu.Lock()
	c.onView = append(c.onView, fn)
	c.mu.Unlock()
}

// View returns the latest view.
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// Session returns the active session.
func (c *Controller) Session() capture.Session {
	return *c.session.Load()
}

// Limit returns the throttle limit.
func (c *Controller) Limit() int {
	return c.orch.Limit()
}

// ProbeSettled is closed once the capability probe result has been applied.
func (c *Controller) ProbeSettled() <-chan struct{} {
	return c.settled
}

// Run mounts the orchestrator and processes events until ctx is cancelled.
// The validation subscription lives exactly as long as Run. A controller
// runs once.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("orchestrator: controller already running")
	}
	c.running = true
	c.mu.Unlock()

	defer c.stopOnce.Do(func() { close(c.stopped) })

	sub := c.channel.Subscribe(func(res protocol.ValidationResult) {
		c.post(ctx, ValidationReceived{Result: res})
	})
	defer sub.Release()

	go c.buildLoop(ctx)
	go func() {
		res := c.probe.Probe(ctx)
		c.logger.Debug("probe finished", "has_camera", res.HasCamera)
		if c.post(ctx, CapabilityChanged{Snapshot: c.probe.Snapshot()}) == nil {
			c.post(ctx, flush{done: c.settled})
		}
	}()

	c.apply(ctx, Mount{})
	c.logger.Info("capture controller started", "kind", c.Session().Kind(), "limit", c.orch.Limit())

	for {
		select {
		case <-ctx.Done():
			c.apply(context.Background(), Unmount{})
			c.logger.Info("capture controller stopped")
			return nil
		case ev := <-c.events:
			if f, ok := ev.(flush); ok {
				close(f.done)
				continue
			}
			c.apply(ctx, ev)
		}
	}
}

// SetSession replaces the session. Requests made after SetSession returns
// are stamped with the new kind; earlier ones complete under the old one.
func (c *Controller) SetSession(ctx context.Context, s capture.Session) error {
	if err := c.enqueue(ctx, buildJob{event: SessionChanged{Session: s}}); err != nil {
		return err
	}
	c.session.Store(&s)
	return nil
}

// Screenshot queues a camera frame for the active kind.
func (c *Controller) Screenshot(ctx context.Context, frame image.Image) error {
	return c.enqueue(ctx, buildJob{kind: c.Session().Kind(), frame: frame})
}

// SelectFile queues a user-selected file for the active kind.
func (c *Controller) SelectFile(ctx context.Context, f capture.File) error {
	return c.enqueue(ctx, buildJob{kind: c.Session().Kind(), file: &f})
}

// UploadFallback switches to upload mode for the rest of the session,
// discards the kind's captures and then processes f.
func (c *Controller) UploadFallback(ctx context.Context, f capture.File) error {
	return c.enqueue(ctx, buildJob{kind: c.Session().Kind(), file: &f, fallback: true})
}

// UserMediaStarted records an active camera feed.
func (c *Controller) UserMediaStarted(ctx context.Context) error {
	c.probe.MarkUserMedia()
	return c.post(ctx, CapabilityChanged{Snapshot: c.probe.Snapshot()})
}

// DeleteCaptures discards the active kind's captures.
func (c *Controller) DeleteCaptures(ctx context.Context) error {
	return c.enqueue(ctx, buildJob{event: CapturesDeleted{Kind: c.Session().Kind()}})
}

// Settle blocks until every request made before the call has been built
// and applied.
func (c *Controller) Settle(ctx context.Context) error {
	done := make(chan struct{})
	if err := c.enqueue(ctx, buildJob{event: flush{done: done}}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) post(ctx context.Context, ev Event) error {
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) enqueue(ctx context.Context, job buildJob) error {
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.builds <- job:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildLoop builds payloads one at a time so creation follows selection order.
func (c *Controller) buildLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.builds:
			if job.event != nil {
				c.post(ctx, job.event)
				continue
			}
			if job.fallback {
				c.post(ctx, UploadFallback{Kind: job.kind})
			}
			if ev := c.build(ctx, job); ev != nil {
				c.post(ctx, ev)
			}
		}
	}
}

func (c *Controller) build(ctx context.Context, job buildJob) Event {
	var (
		p   capture.Payload
		err error
	)
	if job.file != nil {
		p, err = c.builder.FromFile(ctx, *job.file, job.kind)
	} else {
		p, err = c.builder.FromScreenshot(job.frame, job.kind)
	}

	switch {
	case err == nil:
		return PayloadBuilt{Payload: p}
	case errors.Is(err, capture.ErrEmptyFrame):
		c.logger.Warn("cannot handle an empty frame", "kind", job.kind)
		return nil
	case ctx.Err() != nil:
		return nil
	}
	c.logger.Info("capture build failed", "kind", job.kind, "error", err)
	return BuildFailed{Kind: job.kind, Err: err}
}

func (c *Controller) apply(ctx context.Context, ev Event) {
	if pb, ok := ev.(PayloadBuilt); ok && pb.Payload.Kind != c.orch.Session().Kind() {
		c.logger.Debug("dropping capture built for an inactive kind",
			"id", pb.Payload.ID, "kind", pb.Payload.Kind, "active", c.orch.Session().Kind())
	}
	view, effects := c.orch.HandleEvent(ev)
	for _, eff := range effects {
		c.execute(ctx, eff)
	}

	c.mu.Lock()
	c.view = view
	callbacks := append([]func(View){}, c.onView...)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(view)
	}
}

func (c *Controller) execute(ctx context.Context, eff Effect) {
	var err error
	switch e := eff.(type) {
	case SetCurrentCapture:
		err = c.store.SetCurrentCapture(e.Kind, e.Side)
	case CreateCapture:
		err = c.store.CreateCapture(e.Kind, e.Capture, e.MaxCaptures)
		c.logger.Debug("capture created", "id", e.Capture.ID, "kind", e.Kind, "valid", e.Capture.Valid)
	case ValidateCapture:
		err = c.store.ValidateCapture(e.ID, e.Valid, e.Kind)
		c.logger.Debug("capture validated", "id", e.ID, "kind", e.Kind, "valid", e.Valid)
	case DeleteCaptures:
		err = c.store.DeleteCaptures(e.Kind)
	case SendValidation:
		if sendErr := c.channel.Send(ctx, e.Request); sendErr != nil {
			c.logger.Error("validation request not sent", "id", e.Request.ID, "error", sendErr)
		}
		return
	case Throttled:
		c.logger.Warn("validator is slow, waiting for responses before accepting more captures",
			"kind", e.Kind, "pending", e.Pending, "limit", e.Limit)
		return
	}
	if err != nil {
		c.logger.Error("capture store operation failed", "effect", effectName(eff), "error", err)
	}
}

func effectName(eff Effect) string {
	switch eff.(type) {
	case SetCurrentCapture:
		return "set_current_capture"
	case CreateCapture:
		return "create_capture"
	case ValidateCapture:
		return "validate_capture"
	case DeleteCaptures:
		return "delete_captures"
	}
	return "unknown"
}

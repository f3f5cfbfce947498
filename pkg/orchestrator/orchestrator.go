// Package orchestrator decides how a capture attempt is taken, routes built
// payloads to the capture store and the validation channel, and reconciles
// validation results into the view shown to the operator.
//
// The Orchestrator is a pure state machine: HandleEvent applies one event
// and returns the resulting View and the effects the caller must execute,
// in order. The Controller owns an Orchestrator on a single goroutine and
// executes its effects against real collaborators.
package orchestrator

import (
	"github.com/teslashibe/go-idcapture/pkg/capability"
	"github.com/teslashibe/go-idcapture/pkg/capture"
	"github.com/teslashibe/go-idcapture/pkg/protocol"
)

// DefaultMaxUnvalidated is the number of captures per kind that may await
// validation at once.
const DefaultMaxUnvalidated = 3

// State is the orchestrator state for the active kind.
type State string

const (
	StateIdle               State = "idle"
	StateModeSelecting      State = "mode_selecting"
	StateCapturing          State = "capturing"
	StateThrottled          State = "throttled"
	StateAwaitingValidation State = "awaiting_validation"
	StateConfirmed          State = "confirmed"
	StateError              State = "error"
)

// Mode is the presentation mode consumed by the rendering collaborators.
type Mode string

const (
	ModeCapturing Mode = "capturing"
	ModeUploading Mode = "uploading"
	ModeConfirmed Mode = "confirmed"
)

// View is the read-only projection of the orchestrator for the active kind.
type View struct {
	Kind       capture.Kind        `json:"kind"`
	Side       capture.Side        `json:"side,omitempty"`
	State      State               `json:"state"`
	Mode       Mode                `json:"mode"`
	Error      capture.ErrorReason `json:"error"`
	Uploading  bool                `json:"uploading"`
	UseCapture bool                `json:"useCapture"`
	Pending    int                 `json:"pending"`
	Captures   capture.List        `json:"captures"`
}

// Options are the fixed parameters of an Orchestrator.
type Options struct {
	// MaxUnvalidated caps pending captures per kind. Non-positive means
	// DefaultMaxUnvalidated.
	MaxUnvalidated int

	// LiveDisplay reports whether the device can present a live preview at all.
	LiveDisplay bool
}

// Orchestrator is the capture state machine. It is not safe for concurrent
// use; the Controller serializes access.
type Orchestrator struct {
	opts    Options
	session capture.Session
	caps    capability.Snapshot

	mounted        bool
	uploadFallback bool

	throttled map[capture.Kind]bool
	fileErr   map[capture.Kind]capture.ErrorReason
	captures  map[capture.Kind]capture.List
}

// New creates an unmounted orchestrator.
func New(session capture.Session, caps capability.Snapshot, opts Options) *Orchestrator {
	if opts.MaxUnvalidated <= 0 {
		opts.MaxUnvalidated = DefaultMaxUnvalidated
	}
	return &Orchestrator{
		opts:      opts,
		session:   session,
		caps:      caps,
		throttled: make(map[capture.Kind]bool),
		fileErr:   make(map[capture.Kind]capture.ErrorReason),
		captures:  make(map[capture.Kind]capture.List),
	}
}

// Limit returns the effective throttle limit.
func (o *Orchestrator) Limit() int {
	return o.opts.MaxUnvalidated
}

// Session returns the active session.
func (o *Orchestrator) Session() capture.Session {
	return o.session
}

// Captures returns a copy of the captures known for kind.
func (o *Orchestrator) Captures(kind capture.Kind) capture.List {
	return o.captures[kind].Clone()
}

// Restore seeds the captures of kind, replacing any held for it. It is
// used before Mount to pick up captures a persistent store kept from an
// earlier run.
func (o *Orchestrator) Restore(kind capture.Kind, list capture.List) {
	if len(list) == 0 {
		delete(o.captures, kind)
		return
	}
	o.captures[kind] = list.Clone()
}

// Unprocessed returns the captures of kind still awaiting validation.
func (o *Orchestrator) Unprocessed(kind capture.Kind) capture.List {
	return o.captures[kind].Pending()
}

// HandleEvent applies ev and returns the new view and the effects to run.
func (o *Orchestrator) HandleEvent(ev Event) (View, []Effect) {
	var effects []Effect

	switch e := ev.(type) {
	case Mount:
		o.mounted = true
		effects = append(effects, o.announce())

	case Unmount:
		o.mounted = false
		o.uploadFallback = false
		kind := o.session.Kind()
		delete(o.fileErr, kind)
		delete(o.throttled, kind)

	case SessionChanged:
		retarget := !o.session.SameTarget(e.Session)
		o.session = e.Session
		if retarget {
			o.uploadFallback = false
			effects = append(effects, o.announce())
		}

	case CapabilityChanged:
		o.caps = e.Snapshot

	case PayloadBuilt:
		effects = o.handlePayload(e.Payload)

	case BuildFailed:
		if reason := capture.Classify(e.Err); reason != capture.ReasonNone {
			o.fileErr[e.Kind] = reason
		}

	case UploadFallback:
		if e.Kind == o.session.Kind() {
			o.uploadFallback = true
			effects = append(effects, o.clear(e.Kind))
		}

	case CapturesDeleted:
		effects = append(effects, o.clear(e.Kind))

	case ValidationReceived:
		effects = o.resolve(e.Result)
	}

	return o.View(), effects
}

func (o *Orchestrator) announce() Effect {
	return SetCurrentCapture{Kind: o.session.Kind(), Side: o.session.TargetSide()}
}

func (o *Orchestrator) clear(kind capture.Kind) Effect {
	delete(o.captures, kind)
	delete(o.fileErr, kind)
	delete(o.throttled, kind)
	return DeleteCaptures{Kind: kind}
}

func (o *Orchestrator) handlePayload(p capture.Payload) []Effect {
	kind := o.session.Kind()
	if p.Kind != kind {
		return nil
	}
	policy, ok := capture.PolicyFor(kind)
	if !ok {
		return nil
	}

	list := o.captures[kind]
	if pending := list.PendingCount(); pending >= o.opts.MaxUnvalidated {
		o.throttled[kind] = true
		return []Effect{Throttled{Kind: kind, Pending: pending, Limit: o.opts.MaxUnvalidated}}
	}

	c := capture.NewCapture(p, o.session)

	var effects []Effect
	if policy.RemoteValidation {
		effects = append(effects, SendValidation{Request: protocol.NewValidationRequest(c)})
	}
	effects = append(effects, CreateCapture{Kind: kind, Capture: c, MaxCaptures: o.opts.MaxUnvalidated})

	o.captures[kind] = list.Add(c, o.opts.MaxUnvalidated)
	delete(o.fileErr, kind)
	delete(o.throttled, kind)
	return effects
}

func (o *Orchestrator) resolve(res protocol.ValidationResult) []Effect {
	for kind, list := range o.captures {
		if list.Index(res.ID) < 0 {
			continue
		}
		if !list.Resolve(res.ID, res.Valid) {
			return nil
		}
		if res.Valid {
			delete(o.fileErr, kind)
		}
		if list.PendingCount() < o.opts.MaxUnvalidated {
			delete(o.throttled, kind)
		}
		return []Effect{ValidateCapture{ID: res.ID, Valid: res.Valid, Kind: kind}}
	}
	return nil
}

// UseCapture reports whether the live camera should be offered. It is
// recomputed from current state on every call.
func (o *Orchestrator) UseCapture() bool {
	return o.session.UseWebcam &&
		o.opts.LiveDisplay &&
		o.caps.QuickGuess() &&
		!o.uploadFallback
}

// View projects the current state for the active kind.
func (o *Orchestrator) View() View {
	kind := o.session.Kind()
	list := o.captures[kind]
	pending := list.PendingCount()
	useCapture := o.UseCapture()

	v := View{
		Kind:       kind,
		Side:       o.session.TargetSide(),
		Error:      o.errorReason(kind),
		Uploading:  pending > 0,
		UseCapture: useCapture,
		Pending:    pending,
		Captures:   list.Clone(),
	}

	switch {
	case list.HasValid():
		v.Mode = ModeConfirmed
	case useCapture:
		v.Mode = ModeCapturing
	default:
		v.Mode = ModeUploading
	}

	switch {
	case !o.mounted:
		v.State = StateIdle
	case v.Error != capture.ReasonNone:
		v.State = StateError
	case list.HasValid():
		v.State = StateConfirmed
	case o.throttled[kind]:
		v.State = StateThrottled
	case pending > 0:
		v.State = StateAwaitingValidation
	case o.caps.Loading && o.session.UseWebcam:
		v.State = StateModeSelecting
	default:
		v.State = StateCapturing
	}
	return v
}

// errorReason returns the explicit file error for kind, falling back to
// the derived all-invalid condition.
func (o *Orchestrator) errorReason(kind capture.Kind) capture.ErrorReason {
	if r, ok := o.fileErr[kind]; ok {
		return r
	}
	if o.captures[kind].AllInvalid() {
		return capture.ReasonAllInvalid
	}
	return capture.ReasonNone
}

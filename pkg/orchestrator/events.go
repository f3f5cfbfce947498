package orchestrator

import (
	"github.com/teslashibe/go-idcapture/pkg/capability"
	"github.com/teslashibe/go-idcapture/pkg/capture"
	"github.com/teslashibe/go-idcapture/pkg/protocol"
)

// Event is an input to the orchestrator.
type Event interface {
	event()
}

// Mount starts presenting the capture screen.
type Mount struct{}

// Unmount stops presenting the capture screen. Pending validations are not
// cancelled and still resolve by id.
type Unmount struct{}

// SessionChanged replaces the session configuration.
type SessionChanged struct {
	Session capture.Session
}

// CapabilityChanged carries a new camera probe snapshot.
type CapabilityChanged struct {
	Snapshot capability.Snapshot
}

// PayloadBuilt is a screenshot or file successfully normalized into a payload.
type PayloadBuilt struct {
	Payload capture.Payload
}

// BuildFailed reports a screenshot or file that could not be normalized.
type BuildFailed struct {
	Kind capture.Kind
	Err  error
}

// UploadFallback switches the session to upload mode and discards the
// kind's captures. The selected file follows as a PayloadBuilt or BuildFailed.
// It is ignored when Kind is no longer the session's kind.
type UploadFallback struct {
	Kind capture.Kind
}

// CapturesDeleted discards the kind's captures, e.g. on retake.
type CapturesDeleted struct {
	Kind capture.Kind
}

// ValidationReceived is an inbound validation result.
type ValidationReceived struct {
	Result protocol.ValidationResult
}

func (Mount) event()              {}
func (Unmount) event()            {}
func (SessionChanged) event()     {}
func (CapabilityChanged) event()  {}
func (PayloadBuilt) event()       {}
func (BuildFailed) event()        {}
func (UploadFallback) event()     {}
func (CapturesDeleted) event()    {}
func (ValidationReceived) event() {}

// Effect is a side effect requested by the orchestrator. Effects are
// executed in order by the caller.
type Effect interface {
	effect()
}

// SetCurrentCapture announces the capture target to the store.
type SetCurrentCapture struct {
	Kind capture.Kind
	Side capture.Side
}

// CreateCapture appends a capture to the store.
type CreateCapture struct {
	Kind        capture.Kind
	Capture     capture.Capture
	MaxCaptures int
}

// ValidateCapture resolves a capture in the store.
type ValidateCapture struct {
	ID    string
	Valid bool
	Kind  capture.Kind
}

// DeleteCaptures drops a kind's captures from the store.
type DeleteCaptures struct {
	Kind capture.Kind
}

// SendValidation transmits a request over the validation channel.
type SendValidation struct {
	Request protocol.ValidationRequest
}

// Throttled signals a discarded capture. No capture was created.
type Throttled struct {
	Kind    capture.Kind
	Pending int
	Limit   int
}

func (SetCurrentCapture) effect() {}
func (CreateCapture) effect()     {}
func (ValidateCapture) effect()   {}
func (DeleteCaptures) effect()    {}
func (SendValidation) effect()    {}
func (Throttled) effect()         {}

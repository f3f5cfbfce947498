package capture

import (
	"errors"
	"fmt"
)

// Sentinel errors for capture building and routing.
var (
	// ErrInvalidFileType is returned when a selected file is not in the allow-list.
	ErrInvalidFileType = errors.New("capture: invalid file type")

	// ErrInvalidCapture is returned when a file cannot be encoded into an image payload.
	ErrInvalidCapture = errors.New("capture: invalid capture")

	// ErrEmptyFrame is returned when a screenshot carries no image.
	ErrEmptyFrame = errors.New("capture: empty frame")

	// ErrUnknownKind is returned for kinds outside the policy table.
	ErrUnknownKind = errors.New("capture: unknown kind")

	// ErrInvalidSession is returned for sessions with an unknown method or side.
	ErrInvalidSession = errors.New("capture: invalid session")

	// ErrNotFound is returned when no capture matches an id.
	ErrNotFound = errors.New("capture: not found")
)

// BuildError wraps a payload build failure with the file it concerns.
type BuildError struct {
	// Op is the build step that failed ("type", "encode", "read").
	Op string

	// File is the name of the file being built, empty for screenshots.
	File string

	Err error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("capture [%s] %s: %v", e.Op, e.File, e.Err)
	}
	return fmt.Sprintf("capture [%s]: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *BuildError) Unwrap() error {
	return e.Err
}

// ErrorReason is the user-facing error classification of a kind.
type ErrorReason string

const (
	ReasonNone           ErrorReason = ""
	ReasonInvalidType    ErrorReason = "invalid_type"
	ReasonInvalidCapture ErrorReason = "invalid_capture"
	ReasonAllInvalid     ErrorReason = "all_invalid"
)

// Classify maps a build error to the reason shown to the operator.
// Errors that are not user-correctable map to ReasonNone.
func Classify(err error) ErrorReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrInvalidFileType):
		return ReasonInvalidType
	case errors.Is(err, ErrInvalidCapture):
		return ReasonInvalidCapture
	}
	return ReasonNone
}

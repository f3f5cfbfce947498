// Package protocol defines the JSON messages exchanged with the remote
// validator over the validation channel.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/teslashibe/go-idcapture/pkg/capture"
)

// Errors returned when decoding inbound messages.
var (
	ErrMissingID    = errors.New("protocol: missing id")
	ErrMissingValid = errors.New("protocol: missing valid")
)

// MessageType names the capture method a request belongs to.
type MessageType string

const (
	TypeDocument MessageType = "document"
	TypeFace     MessageType = "face"
)

// =============================================================================
// Client → Validator
// =============================================================================

// ValidationRequest asks the validator to check one capture.
type ValidationRequest struct {
	ID           string      `json:"id"`
	MessageType  MessageType `json:"messageType"`
	Image        string      `json:"image"` // base64, lossy encoding when available
	DocumentType string      `json:"documentType,omitempty"`
}

// NewValidationRequest builds the request for a capture, preferring the
// lossy encoding for transmission.
func NewValidationRequest(c capture.Capture) ValidationRequest {
	image := c.Image
	if c.ImageLossy != "" {
		image = c.ImageLossy
	}
	return ValidationRequest{
		ID:           c.ID,
		MessageType:  MessageType(c.Kind.Method()),
		Image:        image,
		DocumentType: c.DocumentType,
	}
}

// Bytes returns the JSON-encoded request.
func (r ValidationRequest) Bytes() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal validation request: %w", err)
	}
	return data, nil
}

// =============================================================================
// Validator → Client
// =============================================================================

// ValidationResult is the validator's verdict for one capture.
// Unknown fields are ignored.
type ValidationResult struct {
	ID    string `json:"id"`
	Valid bool   `json:"valid"`
}

// ParseValidationResult decodes an inbound message. Messages without an id
// or a boolean valid field are rejected.
func ParseValidationResult(data []byte) (ValidationResult, error) {
	var raw struct {
		ID    string `json:"id"`
		Valid *bool  `json:"valid"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ValidationResult{}, fmt.Errorf("failed to parse validation result: %w", err)
	}
	if raw.ID == "" {
		return ValidationResult{}, ErrMissingID
	}
	if raw.Valid == nil {
		return ValidationResult{}, ErrMissingValid
	}
	return ValidationResult{ID: raw.ID, Valid: *raw.Valid}, nil
}

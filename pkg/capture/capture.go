package capture

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
)

// Validity is the tri-state validation result of a capture.
type Validity int

const (
	Unknown Validity = iota
	Valid
	Invalid
)

// ValidityOf converts a validation result to a Validity.
func ValidityOf(valid bool) Validity {
	if valid {
		return Valid
	}
	return Invalid
}

// Resolved reports whether v is terminal.
func (v Validity) Resolved() bool {
	return v != Unknown
}

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// MarshalJSON encodes Unknown as null and the resolved states as booleans.
func (v Validity) MarshalJSON() ([]byte, error) {
	switch v {
	case Valid:
		return []byte("true"), nil
	case Invalid:
		return []byte("false"), nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts null, true or false.
func (v *Validity) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	if b == nil {
		*v = Unknown
		return nil
	}
	*v = ValidityOf(*b)
	return nil
}

// File is a user-selected source file.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"`
}

// Type returns the declared file type: the MIME subtype when a specific
// content type is present, the lower-cased extension otherwise.
func (f File) Type() string {
	if f.ContentType != "" {
		ct := strings.ToLower(f.ContentType)
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}
		ct = strings.TrimSpace(ct)
		if i := strings.IndexByte(ct, '/'); i >= 0 && ct != "application/octet-stream" {
			return ct[i+1:]
		}
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Name)), ".")
}

// IsOfType reports whether the file's declared type is one of types.
func (f File) IsOfType(types ...string) bool {
	t := f.Type()
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

// Payload is a normalized, not yet routed capture.
type Payload struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	// Image is the highest-fidelity encoding, base64.
	Image string `json:"image"`

	// ImageLossy is an optional lower-fidelity encoding, base64.
	ImageLossy string `json:"imageLossy,omitempty"`

	// File is set for upload-path payloads only.
	File *File `json:"file,omitempty"`

	// Pages is the page count of PDF uploads, 0 when unknown.
	Pages int `json:"pages,omitempty"`
}

// TransmitImage returns the encoding preferred for transmission.
func (p Payload) TransmitImage() string {
	if p.ImageLossy != "" {
		return p.ImageLossy
	}
	return p.Image
}

// Capture is one attempted identification image.
type Capture struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Side         Side      `json:"side,omitempty"`
	Image        string    `json:"image"`
	ImageLossy   string    `json:"imageLossy,omitempty"`
	File         *File     `json:"file,omitempty"`
	Pages        int       `json:"pages,omitempty"`
	DocumentType string    `json:"documentType,omitempty"`
	Valid        Validity  `json:"valid"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewCapture creates a capture from a payload under the given session,
// applying the kind's policy for document type and initial validity.
func NewCapture(p Payload, s Session) Capture {
	kind := s.Kind()
	policy, _ := PolicyFor(kind)

	c := Capture{
		ID:         p.ID,
		Kind:       kind,
		Side:       s.TargetSide(),
		Image:      p.Image,
		ImageLossy: p.ImageLossy,
		File:       p.File,
		Pages:      p.Pages,
		CreatedAt:  time.Now().UTC(),
	}
	if policy.DocumentType {
		c.DocumentType = s.DocumentType
	}
	if policy.AutoValid {
		c.Valid = Valid
	}
	return c
}

package capture

import "fmt"

// Session is the immutable configuration of the active capture screen.
type Session struct {
	Method       Method `json:"method" yaml:"method"`
	Side         Side   `json:"side,omitempty" yaml:"side,omitempty"`
	UseWebcam    bool   `json:"useWebcam" yaml:"use_webcam"`
	AutoCapture  bool   `json:"autoCapture" yaml:"auto_capture"`
	DocumentType string `json:"documentType,omitempty" yaml:"document_type,omitempty"`
}

// Kind returns the capture kind of the session.
func (s Session) Kind() Kind {
	return KindFor(s.Method, s.Side)
}

// TargetSide returns the side being captured: front or back for documents,
// with an absent side meaning front, and none for faces.
func (s Session) TargetSide() Side {
	switch s.Kind() {
	case KindDocumentFront:
		return SideFront
	case KindDocumentBack:
		return SideBack
	}
	return SideNone
}

// SameTarget reports whether two sessions capture the same kind. The kind
// fixes the side, so a document session without a side targets the same
// capture as one on its front.
func (s Session) SameTarget(o Session) bool {
	return s.Kind() == o.Kind()
}

// Validate checks the method and side.
func (s Session) Validate() error {
	switch s.Method {
	case MethodDocument:
		switch s.Side {
		case SideNone, SideFront, SideBack:
		default:
			return fmt.Errorf("%w: unknown document side %q", ErrInvalidSession, s.Side)
		}
	case MethodFace:
		if s.Side != SideNone {
			return fmt.Errorf("%w: face sessions have no side", ErrInvalidSession)
		}
	default:
		return fmt.Errorf("%w: unknown method %q", ErrInvalidSession, s.Method)
	}
	return nil
}

// FrontDocumentSession returns the front document screen defaults.
func FrontDocumentSession(documentType string) Session {
	return Session{
		Method:       MethodDocument,
		Side:         SideFront,
		UseWebcam:    false,
		AutoCapture:  true,
		DocumentType: documentType,
	}
}

// BackDocumentSession returns the back document screen defaults.
func BackDocumentSession(documentType string) Session {
	return Session{
		Method:       MethodDocument,
		Side:         SideBack,
		UseWebcam:    false,
		AutoCapture:  true,
		DocumentType: documentType,
	}
}

// FaceSession returns the face screen defaults.
func FaceSession() Session {
	return Session{
		Method:      MethodFace,
		UseWebcam:   true,
		AutoCapture: false,
	}
}

package capture

// Method is the capture method of a session.
type Method string

const (
	MethodDocument Method = "document"
	MethodFace     Method = "face"
)

// Side is the document side. It is empty for face captures.
type Side string

const (
	SideNone  Side = ""
	SideFront Side = "front"
	SideBack  Side = "back"
)

// Kind identifies a capture category with its own validation policy.
type Kind string

const (
	KindDocumentFront Kind = "document-front"
	KindDocumentBack  Kind = "document-back"
	KindFace          Kind = "face"
)

// KindFor derives the capture kind from a method and side.
// A document without a side is treated as its front.
func KindFor(method Method, side Side) Kind {
	switch method {
	case MethodDocument:
		if side == SideBack {
			return KindDocumentBack
		}
		return KindDocumentFront
	case MethodFace:
		return KindFace
	}
	return ""
}

// Method returns the method the kind belongs to.
func (k Kind) Method() Method {
	switch k {
	case KindDocumentFront, KindDocumentBack:
		return MethodDocument
	case KindFace:
		return MethodFace
	}
	return ""
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := policies[k]
	return ok
}

// Kinds returns all known kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindDocumentFront, KindDocumentBack, KindFace}
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", ErrUnknownKind
	}
	return k, nil
}

// Policy declares how captures of a kind are validated.
type Policy struct {
	// AutoValid captures are created with Valid set and need no round-trip.
	AutoValid bool

	// RemoteValidation captures are sent over the validation channel and
	// stay Unknown until a matching result arrives.
	RemoteValidation bool

	// DocumentType attaches the session's document type to the capture.
	DocumentType bool
}

var policies = map[Kind]Policy{
	KindDocumentFront: {RemoteValidation: true, DocumentType: true},
	KindDocumentBack:  {AutoValid: true, DocumentType: true},
	KindFace:          {AutoValid: true},
}

// PolicyFor returns the validation policy for a kind.
func PolicyFor(k Kind) (Policy, bool) {
	p, ok := policies[k]
	return p, ok
}

// Package errs defines the tagged error kind shared by every layer of the
// runtime: the Session Client, the Command Invoker/Executor, the Topic
// Pattern Engine and the Hybrid Logical Clock all report failures as *Error
// so callers can switch on Kind instead of parsing message strings.
package errs

import "fmt"

// Kind enumerates the failure categories the runtime can report.
type Kind int

const (
	// UnknownError is the zero value; never deliberately returned.
	UnknownError Kind = iota
	ConfigurationInvalid
	ArgumentInvalid
	HeaderMissing
	HeaderInvalid
	PayloadInvalid
	StateInvalid
	InternalLogicError
	Timeout
	Cancellation
	InvocationException
	ExecutionException
	MqttError
	UnsupportedVersion
	SessionLost
	SessionExpired
	PurgedFromQueue
	RetryExpired
	ObjectDisposed
)

func (k Kind) String() string {
	switch k {
	case ConfigurationInvalid:
		return "ConfigurationInvalid"
	case ArgumentInvalid:
		return "ArgumentInvalid"
	case HeaderMissing:
		return "HeaderMissing"
	case HeaderInvalid:
		return "HeaderInvalid"
	case PayloadInvalid:
		return "PayloadInvalid"
	case StateInvalid:
		return "StateInvalid"
	case InternalLogicError:
		return "InternalLogicError"
	case Timeout:
		return "Timeout"
	case Cancellation:
		return "Cancellation"
	case InvocationException:
		return "InvocationException"
	case ExecutionException:
		return "ExecutionException"
	case MqttError:
		return "MqttError"
	case UnsupportedVersion:
		return "UnsupportedVersion"
	case SessionLost:
		return "SessionLost"
	case SessionExpired:
		return "SessionExpired"
	case PurgedFromQueue:
		return "PurgedFromQueue"
	case RetryExpired:
		return "RetryExpired"
	case ObjectDisposed:
		return "ObjectDisposed"
	default:
		return "UnknownError"
	}
}

// Role distinguishes which side of a version mismatch UnsupportedVersion
// describes, unifying the two divergent enumerations noted in the source
// material's open questions into one kind with a role field.
type Role int

const (
	RoleNone Role = iota
	RoleRequest
	RoleResponse
)

// Error is the single tagged error type the runtime returns. Only the
// fields relevant to Kind are normally populated; the rest are zero values.
type Error struct {
	Kind Kind

	// InApplication is true when the failure originated in user code
	// (an executor handler panic or returned error) rather than the
	// runtime itself.
	InApplication bool
	// IsShallow is true when the failure was detected before any network
	// I/O occurred (e.g. argument validation).
	IsShallow bool
	// IsRemote is true when the failure was reported by a remote peer
	// (a non-2xx command response, a broker reason code) rather than
	// detected locally.
	IsRemote bool

	CorrelationID string

	HeaderName  string
	HeaderValue string

	PropertyName  string
	PropertyValue string

	TimeoutName  string
	TimeoutValue string

	CommandName string

	HTTPStatus int

	ProtocolVersion   string
	SupportedVersions string
	Role              Role

	Message string
	Parent  error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Parent != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Parent)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Parent
}

// Is allows errors.Is(err, &Error{Kind: K}) by matching Kind alone; a
// target that is not an *Error never matches.
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping an existing error.
func Wrap(kind Kind, message string, parent error) *Error {
	return &Error{Kind: kind, Message: message, Parent: parent}
}

// Of reports the Kind of err if it is (or wraps) an *Error, and ok=true;
// otherwise returns UnknownError, false.
func Of(err error) (Kind, bool) {
	var e *Error
	if as(err, &e) {
		return e.Kind, true
	}
	return UnknownError, false
}

// as walks err's Unwrap chain by hand and stores the first *Error it
// finds in target; it does not call errors.As.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

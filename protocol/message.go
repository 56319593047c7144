package protocol

import (
	"github.com/lattice-iot/meridian/hlc"
)

// RequestMetadata accompanies every outgoing command request
// a command invoker sends.
type RequestMetadata struct {
	CorrelationID   string
	InvokerClientID string
	FencingToken    *hlc.Value
	Timestamp       hlc.Value
	UserData        map[string]string
	TopicTokens     map[string]string

	// correlationSet records whether Invoke has already assigned a
	// CorrelationID to this metadata value, so a reused metadata value
	// can be rejected per the duplicate-correlation-id contract.
	correlationSet bool
}

// ResponseMetadata accompanies every command response
// a command executor sends back.
type ResponseMetadata struct {
	CorrelationID      string
	Timestamp          hlc.Value
	Status             Status
	StatusMessage      string
	IsApplicationError bool
	UserData           map[string]string
	ProtocolVersion    string
	SupportedVersions  string
}

// Encoding serializes and deserializes a command payload. The core is
// payload-agnostic: callers inject one Encoding per request/response type.
type Encoding[T any] interface {
	ContentType() string
	PayloadFormat() byte
	Encode(T) ([]byte, error)
	Decode([]byte) (T, error)
}

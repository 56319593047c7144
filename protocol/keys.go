package protocol

import (
	"strings"

	"github.com/lattice-iot/meridian/errs"
)

// Reserved user-property keys carried on every request/response envelope.
// Application code may not set any key with this prefix directly; the
// invoker and executor own them.
const (
	KeyTimestamp              = "__ts"
	KeyFencingToken           = "__ft"
	KeyStatus                 = "__stat"
	KeyStatusMessage          = "__stMsg"
	KeyIsApplicationError     = "__apErr"
	KeySenderID               = "__sndId"
	KeySourceID               = "__srcId"
	KeyInvokerID              = "__invId" // legacy alias for KeySourceID
	KeyPropertyName           = "__propName"
	KeyPropertyValue          = "__propVal"
	KeyProtocolVersion        = "__protVer"
	KeySupportedMajorVersions = "__supProtMajVer"
	KeyRequestProtocolVersion = "__requestProtVer"
)

const reservedPrefix = "__"

// IsReservedKey reports whether key belongs to the protocol and may not be
// set through a caller-supplied user-data map.
func IsReservedKey(key string) bool {
	return strings.HasPrefix(key, reservedPrefix)
}

// validateUserData rejects a caller-supplied map containing a reserved key.
func validateUserData(data map[string]string) error {
	for k := range data {
		if IsReservedKey(k) {
			return &errs.Error{
				Kind:         errs.ExecutionException,
				IsShallow:    true,
				PropertyName: k,
				Message:      "user data key starts with reserved prefix " + reservedPrefix,
			}
		}
	}
	return nil
}

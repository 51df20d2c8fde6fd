package protoerror

import "fmt"

// Code is the internal error taxonomy shared by every protocol surface.
// The integer values are stable: each functional area occupies its own
// hex base so codes remain recognizable in logs and wire payloads.
type Code int

const (
	Success Code = 0x0000

	// general errors
	UnknownError      Code = 0x1000
	InternalError     Code = 0x1001
	InvalidRequest    Code = 0x1002
	InvalidParameters Code = 0x1003
	OperationFailed   Code = 0x1004

	// connection errors
	ConnectionFailed     Code = 0x2000
	ConnectionLost       Code = 0x2001
	ConnectionTimeout    Code = 0x2002
	AuthenticationFailed Code = 0x2003
	AuthorizationFailed  Code = 0x2004

	// protocol errors
	ProtocolViolation       Code = 0x3000
	UnsupportedOperation    Code = 0x3001
	MessageFormatError      Code = 0x3002
	ProtocolVersionMismatch Code = 0x3003

	// device errors
	DeviceNotFound     Code = 0x4000
	DeviceBusy         Code = 0x4001
	DeviceError        Code = 0x4002
	DeviceDisconnected Code = 0x4003
	DeviceTimeout      Code = 0x4004

	// resource errors
	ResourceUnavailable Code = 0x5000
	ResourceExhausted   Code = 0x5001
	QuotaExceeded       Code = 0x5002

	// validation errors
	ValidationError      Code = 0x6000
	MissingRequiredField Code = 0x6001
	InvalidFieldValue    Code = 0x6002
	FieldOutOfRange      Code = 0x6003
)

var codeNames = map[Code]string{
	Success:                 "SUCCESS",
	UnknownError:            "UNKNOWN_ERROR",
	InternalError:           "INTERNAL_ERROR",
	InvalidRequest:          "INVALID_REQUEST",
	InvalidParameters:       "INVALID_PARAMETERS",
	OperationFailed:         "OPERATION_FAILED",
	ConnectionFailed:        "CONNECTION_FAILED",
	ConnectionLost:          "CONNECTION_LOST",
	ConnectionTimeout:       "CONNECTION_TIMEOUT",
	AuthenticationFailed:    "AUTHENTICATION_FAILED",
	AuthorizationFailed:     "AUTHORIZATION_FAILED",
	ProtocolViolation:       "PROTOCOL_ERROR",
	UnsupportedOperation:    "UNSUPPORTED_OPERATION",
	MessageFormatError:      "MESSAGE_FORMAT_ERROR",
	ProtocolVersionMismatch: "PROTOCOL_VERSION_MISMATCH",
	DeviceNotFound:          "DEVICE_NOT_FOUND",
	DeviceBusy:              "DEVICE_BUSY",
	DeviceError:             "DEVICE_ERROR",
	DeviceDisconnected:      "DEVICE_DISCONNECTED",
	DeviceTimeout:           "DEVICE_TIMEOUT",
	ResourceUnavailable:     "RESOURCE_UNAVAILABLE",
	ResourceExhausted:       "RESOURCE_EXHAUSTED",
	QuotaExceeded:           "QUOTA_EXCEEDED",
	ValidationError:         "VALIDATION_ERROR",
	MissingRequiredField:    "MISSING_REQUIRED_FIELD",
	InvalidFieldValue:       "INVALID_FIELD_VALUE",
	FieldOutOfRange:         "FIELD_OUT_OF_RANGE",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}

	return fmt.Sprintf("Code(%#x)", int(c))
}

// Codes returns every defined taxonomy code.  Primarily useful for
// exhaustive tests over the mapping tables.
func Codes() []Code {
	all := make([]Code, 0, len(codeNames))
	for c := range codeNames {
		all = append(all, c)
	}

	return all
}

// IsRecoverable tests whether an operation failing with this code can
// succeed on a later attempt without operator intervention.
func (c Code) IsRecoverable() bool {
	switch c {
	case ConnectionTimeout, DeviceTimeout, ConnectionLost, DeviceBusy, ResourceUnavailable:
		return true
	default:
		return false
	}
}

// RequiresReconnection tests whether this code indicates the underlying
// connection is no longer usable.
func (c Code) RequiresReconnection() bool {
	switch c {
	case ConnectionFailed, ConnectionLost, DeviceDisconnected, ProtocolViolation:
		return true
	default:
		return false
	}
}

// ShouldRetry tests whether the failed operation itself is worth retrying
// on the same connection.
func (c Code) ShouldRetry() bool {
	switch c {
	case ConnectionTimeout, DeviceTimeout, DeviceBusy, ResourceUnavailable:
		return true
	default:
		return false
	}
}

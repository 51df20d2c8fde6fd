package protoerror

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// HTTPStatus maps a taxonomy code onto an HTTP status code.  The mapping is
// total: unlisted codes map to 500.
func HTTPStatus(c Code) int {
	switch c {
	case Success:
		return http.StatusOK
	case InvalidRequest, InvalidParameters, MessageFormatError:
		return http.StatusBadRequest
	case AuthenticationFailed:
		return http.StatusUnauthorized
	case AuthorizationFailed:
		return http.StatusForbidden
	case DeviceNotFound:
		return http.StatusNotFound
	case UnsupportedOperation:
		return http.StatusMethodNotAllowed
	case ConnectionTimeout, DeviceTimeout:
		return http.StatusRequestTimeout
	case DeviceBusy:
		return http.StatusConflict
	case ValidationError, MissingRequiredField, InvalidFieldValue:
		return http.StatusUnprocessableEntity
	case QuotaExceeded:
		return http.StatusTooManyRequests
	case InternalError, OperationFailed, DeviceError:
		return http.StatusInternalServerError
	case DeviceDisconnected, ConnectionFailed:
		return http.StatusBadGateway
	case ResourceUnavailable, ResourceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GRPCStatus maps a taxonomy code onto a gRPC status code.  The mapping is
// total: unlisted codes map to codes.Unknown.
func GRPCStatus(c Code) codes.Code {
	switch c {
	case Success:
		return codes.OK
	case OperationFailed:
		return codes.Canceled
	case UnknownError:
		return codes.Unknown
	case InvalidRequest, InvalidParameters:
		return codes.InvalidArgument
	case ConnectionTimeout, DeviceTimeout:
		return codes.DeadlineExceeded
	case DeviceNotFound:
		return codes.NotFound
	case DeviceBusy:
		return codes.AlreadyExists
	case AuthorizationFailed:
		return codes.PermissionDenied
	case ResourceExhausted, QuotaExceeded:
		return codes.ResourceExhausted
	case ValidationError, MissingRequiredField:
		return codes.FailedPrecondition
	case FieldOutOfRange:
		return codes.OutOfRange
	case UnsupportedOperation:
		return codes.Unimplemented
	case InternalError, DeviceError:
		return codes.Internal
	case ResourceUnavailable, DeviceDisconnected:
		return codes.Unavailable
	case ConnectionLost:
		return codes.DataLoss
	case AuthenticationFailed:
		return codes.Unauthenticated
	default:
		return codes.Unknown
	}
}

// MQTTReason maps a taxonomy code onto an MQTT 5 reason code.  The mapping
// is total: unlisted codes map to 0x80 (unspecified error).
func MQTTReason(c Code) byte {
	switch c {
	case Success:
		return 0x00
	case ProtocolViolation, MessageFormatError:
		return 0x81
	case ProtocolVersionMismatch:
		return 0x84
	case AuthenticationFailed:
		return 0x86
	case AuthorizationFailed:
		return 0x87
	case ResourceUnavailable:
		return 0x88
	case DeviceBusy:
		return 0x89
	case QuotaExceeded:
		return 0x97
	case InvalidParameters, ValidationError:
		return 0x9C
	case UnsupportedOperation:
		return 0x9E
	case ConnectionTimeout:
		return 0xA0
	default:
		return 0x80
	}
}

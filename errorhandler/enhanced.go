package errorhandler

import (
	"time"

	"github.com/segmentio/ksuid"

	"github.com/hydrogen-io/hydrogen/protoerror"
)

// ConnectionContext is the live state of the connection an error arose on.
type ConnectionContext struct {
	ConnectionID      string
	ComponentName     string
	Endpoint          string
	IsClient          bool
	StartTime         time.Time
	LastActivity      time.Time
	ReconnectAttempts int
}

// EnhancedError bundles a taxonomy error with connection context, category,
// severity, and recovery metadata.
type EnhancedError struct {
	ErrorID           string
	Cause             *protoerror.Error
	Category          Category
	Severity          Severity
	RecommendedAction Action
	Context           ConnectionContext
	CorrelationID     string
	ErrorChain        []string
	Retryable         bool
	SuggestedDelay    time.Duration
	Timestamp         time.Time
}

var _ error = (*EnhancedError)(nil)

func (e *EnhancedError) Error() string {
	return e.Cause.Error()
}

// Unwrap exposes the underlying taxonomy error to errors.Is/As.
func (e *EnhancedError) Unwrap() error {
	return e.Cause
}

// Fingerprint groups errors that share a category, severity, code, and
// component, for pattern aggregation.
func (e *EnhancedError) Fingerprint() string {
	return e.Category.String() + ":" + e.Severity.String() + ":" + e.Cause.Code.String() + ":" + e.Cause.Component
}

// NewEnhanced wraps a taxonomy error with a fresh error id and classification.
func NewEnhanced(cause *protoerror.Error, category Category, severity Severity) *EnhancedError {
	return &EnhancedError{
		ErrorID:   ksuid.New().String(),
		Cause:     cause,
		Category:  category,
		Severity:  severity,
		Retryable: cause.Code.IsRecoverable(),
		Timestamp: time.Now(),
	}
}

// Classify derives the category and severity of a taxonomy error from its
// code, producing an EnhancedError.  Errors that are already enhanced pass
// through unchanged.
func Classify(err error) *EnhancedError {
	if enhanced, ok := err.(*EnhancedError); ok {
		return enhanced
	}

	cause, ok := err.(*protoerror.Error)
	if !ok {
		cause = protoerror.New(protoerror.UnknownError, err.Error())
	}

	category, severity := classifyCode(cause.Code)
	return NewEnhanced(cause, category, severity)
}

func classifyCode(code protoerror.Code) (Category, Severity) {
	switch code {
	case protoerror.ConnectionFailed, protoerror.ConnectionLost, protoerror.DeviceDisconnected:
		return CategoryConnection, SeverityHigh
	case protoerror.ConnectionTimeout, protoerror.DeviceTimeout:
		return CategoryTimeout, SeverityMedium
	case protoerror.AuthenticationFailed, protoerror.AuthorizationFailed:
		return CategoryAuthentication, SeverityHigh
	case protoerror.MessageFormatError, protoerror.InvalidRequest, protoerror.InvalidParameters:
		return CategoryMessage, SeverityLow
	case protoerror.ProtocolViolation, protoerror.ProtocolVersionMismatch, protoerror.UnsupportedOperation:
		return CategoryProtocol, SeverityMedium
	case protoerror.ResourceUnavailable, protoerror.ResourceExhausted, protoerror.QuotaExceeded:
		return CategoryResource, SeverityMedium
	case protoerror.DeviceBusy, protoerror.DeviceError:
		return CategoryConnection, SeverityMedium
	default:
		return CategoryUnknown, SeverityMedium
	}
}

package protoerror

import (
	"fmt"
	"time"

	"github.com/hydrogen-io/hydrogen/wire"
)

// Formatter produces the wire shape of an Error for one protocol.
type Formatter func(*Error) map[string]interface{}

// Handler converts a raw Go error of a known dynamic type into an Error.
type Handler func(error) *Error

// Mapper translates raw errors into taxonomy Errors and taxonomy Errors
// into per-protocol wire shapes.  A Mapper is immutable once constructed
// and safe for concurrent use.
type Mapper struct {
	formatters map[wire.Protocol]Formatter
	handlers   map[string]Handler
}

// MapperOption configures a Mapper under construction.
type MapperOption func(*Mapper)

// WithFormatter registers a custom formatter for a protocol, replacing the default.
func WithFormatter(p wire.Protocol, f Formatter) MapperOption {
	return func(m *Mapper) {
		m.formatters[p] = f
	}
}

// WithHandler registers a conversion for errors whose dynamic type renders
// as typeName via %T.
func WithHandler(typeName string, h Handler) MapperOption {
	return func(m *Mapper) {
		m.handlers[typeName] = h
	}
}

// NewMapper constructs a Mapper with the default formatters for every
// supported protocol.
func NewMapper(options ...MapperOption) *Mapper {
	m := &Mapper{
		formatters: map[wire.Protocol]Formatter{
			wire.ProtocolHTTP:      formatHTTP,
			wire.ProtocolWebSocket: formatGeneric,
			wire.ProtocolGRPC:      formatGRPC,
			wire.ProtocolMQTT:      formatMQTT,
			wire.ProtocolZMQ:       formatGeneric,
		},
		handlers: make(map[string]Handler),
	}

	for _, o := range options {
		o(m)
	}

	return m
}

// MapError normalizes any error into a taxonomy Error stamped with the
// component and operation in which it arose.  Errors that are already
// taxonomy Errors pass through with only the context stamped.  Registered
// handlers are consulted by the error's dynamic type name; on a miss the
// result is an UNKNOWN_ERROR carrying the original error text.
func (m *Mapper) MapError(err error, component, operation string) *Error {
	var mapped *Error
	switch e := err.(type) {
	case *Error:
		mapped = e
	default:
		if handler, ok := m.handlers[fmt.Sprintf("%T", err)]; ok {
			mapped = handler(err)
		} else {
			mapped = New(UnknownError, err.Error())
		}
	}

	stamped := mapped.WithContext(component, operation)
	stamped.Timestamp = time.Now()
	return stamped
}

// FormatForProtocol produces the wire shape of an Error for the given
// protocol.  The function is total: protocols without a registered
// formatter fall back to the generic shape.
func (m *Mapper) FormatForProtocol(e *Error, p wire.Protocol) map[string]interface{} {
	if formatter, ok := m.formatters[p]; ok {
		return formatter(e)
	}

	return formatGeneric(e)
}

// NewErrorMessage builds the ERROR wire message for an Error.  The payload
// carries the integer code as a string plus the human-readable message, and
// a details object with the component, operation, and metadata.
func (m *Mapper) NewErrorMessage(e *Error, originalMessageID string) *wire.Message {
	message := wire.NewMessage(wire.ErrorType)
	message.OriginalMessageID = originalMessageID
	message.Payload = map[string]interface{}{
		"code":    fmt.Sprintf("%d", int(e.Code)),
		"message": e.Message,
		"details": map[string]interface{}{
			"component": e.Component,
			"operation": e.Operation,
			"details":   e.Details,
			"timestamp": e.Timestamp.Unix(),
			"metadata":  e.Metadata,
		},
	}

	return message
}

func formatHTTP(e *Error) map[string]interface{} {
	return map[string]interface{}{
		"error":     e.Message,
		"status":    HTTPStatus(e.Code),
		"timestamp": e.Timestamp.Unix(),
	}
}

func formatGRPC(e *Error) map[string]interface{} {
	return map[string]interface{}{
		"code":    int(GRPCStatus(e.Code)),
		"message": e.Message,
		"details": e.Details,
	}
}

func formatMQTT(e *Error) map[string]interface{} {
	return map[string]interface{}{
		"reasonCode": int(MQTTReason(e.Code)),
		"message":    e.Message,
	}
}

func formatGeneric(e *Error) map[string]interface{} {
	return map[string]interface{}{
		"code":      int(e.Code),
		"codeName":  e.Code.String(),
		"message":   e.Message,
		"details":   e.Details,
		"component": e.Component,
		"operation": e.Operation,
		"timestamp": e.Timestamp.Unix(),
	}
}

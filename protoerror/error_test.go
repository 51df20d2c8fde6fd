package protoerror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/hydrogen-io/hydrogen/wire"
)

func TestErrorText(t *testing.T) {
	assert := assert.New(t)

	plain := New(DeviceNotFound, "no such device")
	assert.Equal("DEVICE_NOT_FOUND: no such device", plain.Error())
	assert.False(plain.Timestamp.IsZero())

	stamped := plain.WithContext("device", "Execute")
	assert.Equal("DEVICE_NOT_FOUND: no such device [device.Execute]", stamped.Error())
}

func TestDecoratorsCopy(t *testing.T) {
	assert := assert.New(t)

	original := New(DeviceBusy, "command in flight")

	withDetails := original.WithDetails("SLEW still running")
	assert.Empty(original.Details)
	assert.Equal("SLEW still running", withDetails.Details)

	withContext := original.WithContext("device", "Execute")
	assert.Empty(original.Component)
	assert.Equal("device", withContext.Component)
	assert.Equal("Execute", withContext.Operation)

	withMetadata := original.WithMetadata("deviceId", "mount-1")
	assert.Nil(original.Metadata)
	assert.Equal("mount-1", withMetadata.Metadata["deviceId"])

	second := withMetadata.WithMetadata("command", "SLEW")
	assert.Len(withMetadata.Metadata, 1)
	assert.Len(second.Metadata, 2)
}

func TestCodeString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("SUCCESS", Success.String())
	assert.Equal("DEVICE_NOT_FOUND", DeviceNotFound.String())
	assert.Equal("PROTOCOL_ERROR", ProtocolViolation.String())
	assert.Equal("Code(0x9999)", Code(0x9999).String())
}

func TestCodePredicates(t *testing.T) {
	assert := assert.New(t)

	assert.True(ConnectionTimeout.IsRecoverable())
	assert.True(DeviceBusy.IsRecoverable())
	assert.False(AuthenticationFailed.IsRecoverable())

	assert.True(ConnectionLost.RequiresReconnection())
	assert.True(ProtocolViolation.RequiresReconnection())
	assert.False(DeviceTimeout.RequiresReconnection())

	assert.True(DeviceTimeout.ShouldRetry())
	assert.False(ConnectionLost.ShouldRetry())
	assert.False(ValidationError.ShouldRetry())
}

func TestMappingsAreTotal(t *testing.T) {
	assert := assert.New(t)

	for _, c := range Codes() {
		assert.NotZero(HTTPStatus(c), "HTTP mapping missing for %s", c)
		if c == Success {
			assert.Equal(codes.OK, GRPCStatus(c))
			assert.Equal(byte(0x00), MQTTReason(c))
		} else {
			assert.NotEqual(codes.OK, GRPCStatus(c), "gRPC mapping for %s must not be OK", c)
			assert.True(MQTTReason(c) >= 0x80, "MQTT reason for %s must be an error reason", c)
		}
	}
}

func TestMappingSpotChecks(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(http.StatusNotFound, HTTPStatus(DeviceNotFound))
	assert.Equal(http.StatusUnauthorized, HTTPStatus(AuthenticationFailed))
	assert.Equal(http.StatusTooManyRequests, HTTPStatus(QuotaExceeded))
	assert.Equal(http.StatusInternalServerError, HTTPStatus(Code(0x7777)))

	assert.Equal(codes.NotFound, GRPCStatus(DeviceNotFound))
	assert.Equal(codes.Unauthenticated, GRPCStatus(AuthenticationFailed))
	assert.Equal(codes.Unknown, GRPCStatus(Code(0x7777)))

	assert.Equal(byte(0x86), MQTTReason(AuthenticationFailed))
	assert.Equal(byte(0x97), MQTTReason(QuotaExceeded))
	assert.Equal(byte(0x80), MQTTReason(Code(0x7777)))
}

func TestMapError(t *testing.T) {
	assert := assert.New(t)
	m := NewMapper()

	mapped := m.MapError(errors.New("socket closed"), "zmq", "Send")
	assert.Equal(UnknownError, mapped.Code)
	assert.Equal("socket closed", mapped.Message)
	assert.Equal("zmq", mapped.Component)
	assert.Equal("Send", mapped.Operation)

	passthrough := m.MapError(New(DeviceBusy, "busy"), "device", "Execute")
	assert.Equal(DeviceBusy, passthrough.Code)
	assert.Equal("device", passthrough.Component)
}

type flakyDialError struct{}

func (flakyDialError) Error() string { return "dial flaked" }

func TestMapErrorHandlers(t *testing.T) {
	assert := assert.New(t)
	m := NewMapper(
		WithHandler("protoerror.flakyDialError", func(err error) *Error {
			return New(ConnectionFailed, err.Error())
		}),
	)

	mapped := m.MapError(flakyDialError{}, "client", "Connect")
	assert.Equal(ConnectionFailed, mapped.Code)
	assert.Equal("dial flaked", mapped.Message)
}

func TestFormatForProtocol(t *testing.T) {
	assert := assert.New(t)
	m := NewMapper()
	e := New(DeviceNotFound, "no such device")

	httpShape := m.FormatForProtocol(e, wire.ProtocolHTTP)
	assert.Equal("no such device", httpShape["error"])
	assert.Equal(http.StatusNotFound, httpShape["status"])

	grpcShape := m.FormatForProtocol(e, wire.ProtocolGRPC)
	assert.Equal(int(codes.NotFound), grpcShape["code"])

	mqttShape := m.FormatForProtocol(e, wire.ProtocolMQTT)
	assert.Equal(int(MQTTReason(DeviceNotFound)), mqttShape["reasonCode"])

	generic := m.FormatForProtocol(e, wire.ProtocolTCP)
	assert.Equal(int(DeviceNotFound), generic["code"])
	assert.Equal("DEVICE_NOT_FOUND", generic["codeName"])
}

func TestFormatterOverride(t *testing.T) {
	assert := assert.New(t)
	m := NewMapper(
		WithFormatter(wire.ProtocolHTTP, func(e *Error) map[string]interface{} {
			return map[string]interface{}{"custom": e.Message}
		}),
	)

	shape := m.FormatForProtocol(New(InternalError, "boom"), wire.ProtocolHTTP)
	assert.Equal("boom", shape["custom"])
}

func TestNewErrorMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	m := NewMapper()

	e := New(DeviceTimeout, "no reply").WithContext("device", "Execute")
	message := m.NewErrorMessage(e, "original-1")

	assert.Equal(wire.ErrorType, message.Type)
	assert.Equal("original-1", message.OriginalMessageID)
	assert.NoError(message.Validate())

	payload, ok := message.Payload.(map[string]interface{})
	require.True(ok)
	assert.Equal("16388", payload["code"])
	assert.Equal("no reply", payload["message"])

	details, ok := payload["details"].(map[string]interface{})
	require.True(ok)
	assert.Equal("device", details["component"])
	assert.Equal("Execute", details["operation"])
}

package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrogen-io/hydrogen/wire"
)

func TestEncodeJSON(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	transformer := New()

	message := wire.NewMessage(wire.CommandType)
	message.Topic = "devices/mount-1"

	for _, target := range []wire.Protocol{wire.ProtocolHTTP, wire.ProtocolWebSocket, wire.ProtocolGRPC, wire.ProtocolMQTT} {
		result := transformer.Encode(message, target)
		require.True(result.Success, "target: %s", target)
		assert.Equal("application/json", result.ContentType)

		decoded, err := wire.Decode(result.Data)
		require.NoError(err)
		assert.Equal(message.MessageID, decoded.MessageID)
	}
}

func TestEncodeMsgpack(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	transformer := New()

	message := wire.NewMessage(wire.EventType)
	result := transformer.Encode(message, wire.ProtocolZMQ)
	require.True(result.Success)
	assert.Equal("application/msgpack", result.ContentType)

	decoded, err := wire.DecodeMsgpack(result.Data)
	require.NoError(err)
	assert.Equal(message.MessageID, decoded.MessageID)
}

func TestEncodeFailures(t *testing.T) {
	assert := assert.New(t)
	transformer := New()

	result := transformer.Encode(nil, wire.ProtocolHTTP)
	assert.False(result.Success)
	assert.Equal("nil message", result.ErrorMessage)

	result = transformer.Encode(wire.NewMessage(wire.CommandType), wire.ProtocolFIFO)
	assert.False(result.Success)
	assert.Contains(result.ErrorMessage, "unsupported target protocol")
}

func TestDecodeStampsSourceProtocol(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	transformer := New()

	original := wire.NewMessage(wire.CommandType)
	data, err := original.Encode()
	require.NoError(err)

	decoded, result := transformer.Decode(data, wire.ProtocolMQTT)
	require.True(result.Success)
	assert.Equal(wire.ProtocolMQTT, decoded.SourceProtocol)

	binary, err := original.EncodeMsgpack()
	require.NoError(err)

	decoded, result = transformer.Decode(binary, wire.ProtocolZMQ)
	require.True(result.Success)
	assert.Equal(wire.ProtocolZMQ, decoded.SourceProtocol)
}

func TestDecodeFailures(t *testing.T) {
	assert := assert.New(t)
	transformer := New()

	message, result := transformer.Decode([]byte("not json"), wire.ProtocolHTTP)
	assert.Nil(message)
	assert.False(result.Success)
	assert.NotEmpty(result.ErrorMessage)

	message, result = transformer.Decode([]byte{0x00}, wire.ProtocolUDP)
	assert.Nil(message)
	assert.Contains(result.ErrorMessage, "unsupported source protocol")
}

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageTypeString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("COMMAND", CommandType.String())
	assert.Equal("RESPONSE", ResponseType.String())
	assert.Equal("EVENT", EventType.String())
	assert.Equal("PROPERTY_CHANGE", PropertyChangeType.String())
	assert.Equal("ERROR", ErrorType.String())
	assert.Equal("HEARTBEAT", HeartbeatType.String())
	assert.Equal("DISCOVERY_REQUEST", DiscoveryRequestType.String())
	assert.Equal("MessageType(99)", MessageType(99).String())
}

func TestParseMessageType(t *testing.T) {
	assert := assert.New(t)

	for mt := CommandType; mt < lastMessageType; mt++ {
		parsed, err := ParseMessageType(mt.String())
		assert.NoError(err)
		assert.Equal(mt, parsed)
	}

	_, err := ParseMessageType("command")
	assert.Error(err)
	_, err = ParseMessageType("")
	assert.Error(err)
}

func TestProtocolString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("HTTP", ProtocolHTTP.String())
	assert.Equal("WEBSOCKET", ProtocolWebSocket.String())
	assert.Equal("GRPC", ProtocolGRPC.String())
	assert.Equal("MQTT", ProtocolMQTT.String())
	assert.Equal("ZMQ", ProtocolZMQ.String())
	assert.Equal("FIFO", ProtocolFIFO.String())
	assert.Equal("Protocol(42)", Protocol(42).String())
}

func TestParseProtocol(t *testing.T) {
	assert := assert.New(t)

	for p := range protocolNames {
		parsed, err := ParseProtocol(p.String())
		assert.NoError(err)
		assert.Equal(p, parsed)
	}

	_, err := ParseProtocol("CARRIER_PIGEON")
	assert.Error(err)
}

func TestQOSString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("AT_MOST_ONCE", QOSAtMostOnce.String())
	assert.Equal("AT_LEAST_ONCE", QOSAtLeastOnce.String())
	assert.Equal("EXACTLY_ONCE", QOSExactlyOnce.String())
	assert.Equal("QOS(7)", QOS(7).String())
}

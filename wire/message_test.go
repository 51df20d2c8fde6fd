package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	assert := assert.New(t)

	first := NewMessage(CommandType)
	second := NewMessage(CommandType)

	assert.NotEmpty(first.MessageID)
	assert.NotEqual(first.MessageID, second.MessageID)
	assert.Equal(CommandType, first.Type)
	assert.True(first.Timestamp > 0)
	assert.NoError(first.Validate())
}

func TestValidate(t *testing.T) {
	testData := []struct {
		message  Message
		expected error
	}{
		{Message{MessageID: "m1", Type: CommandType}, nil},
		{Message{Type: CommandType}, ErrMissingMessageID},
		{Message{MessageID: "m1", Type: MessageType(99)}, ErrInvalidType},
		{Message{MessageID: "m1", Type: MessageType(-1)}, ErrInvalidType},
		{Message{MessageID: "m1", Type: ErrorType}, ErrMissingLinkage},
		{Message{MessageID: "m1", Type: ErrorType, CorrelationID: "m0"}, nil},
		{Message{MessageID: "m1", Type: ErrorType, OriginalMessageID: "m0"}, nil},
	}

	for _, record := range testData {
		assert.Equal(t, record.expected, record.message.Validate(), "message: %+v", record.message)
	}
}

func TestEqual(t *testing.T) {
	assert := assert.New(t)

	message := NewMessage(EventType)
	same := &Message{MessageID: message.MessageID, Type: ResponseType}

	assert.True(message.Equal(same))
	assert.False(message.Equal(NewMessage(EventType)))
	assert.False(message.Equal(nil))
}

func TestEncodeDecode(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	original := NewMessage(CommandType)
	original.SenderID = "client-1"
	original.RecipientID = "mount-azimuth"
	original.Topic = "devices/mount-azimuth"
	original.Payload = map[string]interface{}{"command": "SLEW", "degrees": float64(90)}
	original.Headers = map[string]string{"priority": "high"}
	original.QOS = QOSAtLeastOnce
	original.SourceProtocol = ProtocolWebSocket
	original.TargetProtocol = ProtocolZMQ

	data, err := original.Encode()
	require.NoError(err)

	decoded, err := Decode(data)
	require.NoError(err)
	assert.Equal(original, decoded)

	_, err = Decode([]byte("this is not json"))
	assert.Error(err)
}

func TestEncodeDecodeMsgpack(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	original := NewMessage(EventType)
	original.Topic = "observatory/weather"
	original.Headers = map[string]string{"unit": "celsius"}

	data, err := original.EncodeMsgpack()
	require.NoError(err)

	decoded, err := DecodeMsgpack(data)
	require.NoError(err)
	assert.Equal(original.MessageID, decoded.MessageID)
	assert.Equal(original.Type, decoded.Type)
	assert.Equal(original.Topic, decoded.Topic)
	assert.Equal(original.Headers, decoded.Headers)

	_, err = DecodeMsgpack([]byte{0xc1})
	assert.Error(err)
}

func TestDeepCopy(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	original := NewMessage(PropertyChangeType)
	original.Headers = map[string]string{"property": "temperature"}

	copied, err := original.DeepCopy()
	require.NoError(err)
	assert.Equal(original, copied)

	copied.Headers["property"] = "humidity"
	assert.Equal("temperature", original.Headers["property"])
}

func TestResponse(t *testing.T) {
	assert := assert.New(t)

	request := NewMessage(CommandType)
	request.SenderID = "client-1"
	request.RecipientID = "gateway"
	request.Topic = "devices/focuser"
	request.QOS = QOSExactlyOnce
	request.SourceProtocol = ProtocolHTTP
	request.TargetProtocol = ProtocolZMQ

	response := request.Response(map[string]interface{}{"accepted": true})
	assert.NotEmpty(response.MessageID)
	assert.NotEqual(request.MessageID, response.MessageID)
	assert.Equal(ResponseType, response.Type)
	assert.Equal(request.RecipientID, response.SenderID)
	assert.Equal(request.SenderID, response.RecipientID)
	assert.Equal(request.Topic, response.Topic)
	assert.Equal(request.QOS, response.QOS)
	assert.Equal(request.TargetProtocol, response.SourceProtocol)
	assert.Equal(request.SourceProtocol, response.TargetProtocol)
	assert.Equal(request.MessageID, response.CorrelationID)
}

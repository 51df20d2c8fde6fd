// Package wire defines the protocol-independent Message carried between
// clients, devices, and the gateway's protocol servers, together with the
// enumerations that appear on the wire as stable integers.
package wire

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/ugorji/go/codec"
)

var (
	ErrMissingMessageID = errors.New("messages must carry a messageId")
	ErrInvalidType      = errors.New("invalid message type")
	ErrMissingLinkage   = errors.New("error messages must carry a correlationId or originalMessageId")

	// msgpackHandle is shared by all msgpack encode/decode operations.
	// WriteExt ensures time.Time survives the round trip.
	msgpackHandle = &codec.MsgpackHandle{WriteExt: true}
)

// Message is the unit of protocol-independent communication.  A Message is a
// value: once handed to a protocol server or client it must not be mutated.
// Use DeepCopy when a mutable variant is needed.
type Message struct {
	MessageID         string            `json:"messageId"`
	Type              MessageType       `json:"type"`
	SenderID          string            `json:"senderId,omitempty"`
	RecipientID       string            `json:"recipientId,omitempty"`
	Topic             string            `json:"topic,omitempty"`
	Payload           interface{}       `json:"payload,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	QOS               QOS               `json:"qos"`
	SourceProtocol    Protocol          `json:"sourceProtocol"`
	TargetProtocol    Protocol          `json:"targetProtocol"`
	Timestamp         int64             `json:"timestamp"`
	CorrelationID     string            `json:"correlationId,omitempty"`
	OriginalMessageID string            `json:"originalMessageId,omitempty"`
}

// NewMessage constructs a Message of the given type with a fresh, unique
// message id and the current timestamp in unix milliseconds.
func NewMessage(mt MessageType) *Message {
	return &Message{
		MessageID: ksuid.New().String(),
		Type:      mt,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Validate enforces the structural invariants on a Message.
func (m *Message) Validate() error {
	switch {
	case len(m.MessageID) == 0:
		return ErrMissingMessageID
	case !m.Type.Valid():
		return ErrInvalidType
	case m.Type == ErrorType && len(m.CorrelationID) == 0 && len(m.OriginalMessageID) == 0:
		return ErrMissingLinkage
	default:
		return nil
	}
}

// Equal tests message identity, which is defined solely by the message id.
func (m *Message) Equal(other *Message) bool {
	return other != nil && m.MessageID == other.MessageID
}

// DeepCopy returns an independent copy of this message.  The payload tree is
// copied through the canonical JSON form, so the copy holds no references
// into the original.
func (m *Message) DeepCopy() (*Message, error) {
	data, err := m.Encode()
	if err != nil {
		return nil, err
	}

	return Decode(data)
}

// Encode produces the canonical JSON form of this message.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a message from its canonical JSON form.
func Decode(data []byte) (*Message, error) {
	message := new(Message)
	if err := json.Unmarshal(data, message); err != nil {
		return nil, err
	}

	return message, nil
}

// EncodeMsgpack produces the msgpack form of this message, used by transports
// that prefer a binary framing (e.g. the ZMQ server).
func (m *Message) EncodeMsgpack() ([]byte, error) {
	var data []byte
	err := codec.NewEncoderBytes(&data, msgpackHandle).Encode(m)
	return data, err
}

// DecodeMsgpack parses a message from its msgpack form.
func DecodeMsgpack(data []byte) (*Message, error) {
	message := new(Message)
	if err := codec.NewDecoderBytes(data, msgpackHandle).Decode(message); err != nil {
		return nil, err
	}

	return message, nil
}

// Response constructs the RESPONSE message answering this message.  The
// response carries a fresh message id, echoes the topic, swaps sender and
// recipient, and correlates back via CorrelationID.
func (m *Message) Response(payload interface{}) *Message {
	response := NewMessage(ResponseType)
	response.SenderID = m.RecipientID
	response.RecipientID = m.SenderID
	response.Topic = m.Topic
	response.Payload = payload
	response.QOS = m.QOS
	response.SourceProtocol = m.TargetProtocol
	response.TargetProtocol = m.SourceProtocol
	response.CorrelationID = m.MessageID
	return response
}

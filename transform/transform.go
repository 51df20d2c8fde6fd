// Package transform converts wire Messages between the encodings required
// by each protocol surface.
package transform

import (
	"fmt"

	"github.com/hydrogen-io/hydrogen/wire"
)

// Result is the outcome of a transformation.  Transformations never panic
// and never return Go errors: unsupported combinations yield a Result with
// Success false and a human-readable ErrorMessage.
type Result struct {
	Success      bool
	Data         []byte
	ContentType  string
	ErrorMessage string
}

// Transformer converts Messages to and from protocol encodings.  The zero
// value is usable.
type Transformer struct{}

// New constructs a Transformer.
func New() *Transformer {
	return new(Transformer)
}

// Encode produces the on-the-wire payload of a message for the target
// protocol.  HTTP, WebSocket, gRPC, and MQTT use the canonical JSON form;
// ZMQ uses msgpack framing.
func (t *Transformer) Encode(message *wire.Message, target wire.Protocol) Result {
	if message == nil {
		return Result{ErrorMessage: "nil message"}
	}

	switch target {
	case wire.ProtocolHTTP, wire.ProtocolWebSocket, wire.ProtocolGRPC, wire.ProtocolMQTT:
		data, err := message.Encode()
		if err != nil {
			return Result{ErrorMessage: err.Error()}
		}

		return Result{Success: true, Data: data, ContentType: "application/json"}

	case wire.ProtocolZMQ:
		data, err := message.EncodeMsgpack()
		if err != nil {
			return Result{ErrorMessage: err.Error()}
		}

		return Result{Success: true, Data: data, ContentType: "application/msgpack"}

	default:
		return Result{ErrorMessage: fmt.Sprintf("unsupported target protocol: %s", target)}
	}
}

// Decode parses an on-the-wire payload received over the source protocol.
func (t *Transformer) Decode(data []byte, source wire.Protocol) (*wire.Message, Result) {
	var (
		message *wire.Message
		err     error
	)

	switch source {
	case wire.ProtocolHTTP, wire.ProtocolWebSocket, wire.ProtocolGRPC, wire.ProtocolMQTT:
		message, err = wire.Decode(data)
	case wire.ProtocolZMQ:
		message, err = wire.DecodeMsgpack(data)
	default:
		return nil, Result{ErrorMessage: fmt.Sprintf("unsupported source protocol: %s", source)}
	}

	if err != nil {
		return nil, Result{ErrorMessage: err.Error()}
	}

	message.SourceProtocol = source
	return message, Result{Success: true}
}

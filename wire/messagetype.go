package wire

import "fmt"

// MessageType discriminates the kinds of Message traffic carried by the gateway.
type MessageType int

const (
	CommandType MessageType = iota
	ResponseType
	EventType
	PropertyChangeType
	ErrorType
	HeartbeatType
	DiscoveryRequestType

	lastMessageType
)

var messageTypeNames = [lastMessageType]string{
	"COMMAND",
	"RESPONSE",
	"EVENT",
	"PROPERTY_CHANGE",
	"ERROR",
	"HEARTBEAT",
	"DISCOVERY_REQUEST",
}

func (mt MessageType) String() string {
	if mt >= 0 && mt < lastMessageType {
		return messageTypeNames[mt]
	}

	return fmt.Sprintf("MessageType(%d)", int(mt))
}

// Valid tests whether this message type is one of the defined constants.
func (mt MessageType) Valid() bool {
	return mt >= 0 && mt < lastMessageType
}

// ParseMessageType does a case-sensitive lookup of a message type by its wire name.
func ParseMessageType(name string) (MessageType, error) {
	for i, candidate := range messageTypeNames {
		if candidate == name {
			return MessageType(i), nil
		}
	}

	return lastMessageType, fmt.Errorf("invalid message type: %s", name)
}

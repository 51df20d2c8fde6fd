package wire

import "fmt"

// Protocol identifies a communication protocol supported by the gateway.
// The integer values are stable and appear on the wire.
type Protocol int

const (
	ProtocolHTTP Protocol = iota
	ProtocolWebSocket
	ProtocolGRPC
	ProtocolMQTT
	ProtocolZMQ
	ProtocolTCP
	ProtocolUDP
	ProtocolStdio
	ProtocolFIFO
)

var protocolNames = map[Protocol]string{
	ProtocolHTTP:      "HTTP",
	ProtocolWebSocket: "WEBSOCKET",
	ProtocolGRPC:      "GRPC",
	ProtocolMQTT:      "MQTT",
	ProtocolZMQ:       "ZMQ",
	ProtocolTCP:       "TCP",
	ProtocolUDP:       "UDP",
	ProtocolStdio:     "STDIO",
	ProtocolFIFO:      "FIFO",
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}

	return fmt.Sprintf("Protocol(%d)", int(p))
}

// ParseProtocol returns the Protocol corresponding to the given name.
func ParseProtocol(name string) (Protocol, error) {
	for p, n := range protocolNames {
		if n == name {
			return p, nil
		}
	}

	return ProtocolHTTP, fmt.Errorf("invalid protocol: %s", name)
}

// QOS is the delivery guarantee requested by the sender of a Message.
type QOS int

const (
	QOSAtMostOnce QOS = iota
	QOSAtLeastOnce
	QOSExactlyOnce
)

func (q QOS) String() string {
	switch q {
	case QOSAtMostOnce:
		return "AT_MOST_ONCE"
	case QOSAtLeastOnce:
		return "AT_LEAST_ONCE"
	case QOSExactlyOnce:
		return "EXACTLY_ONCE"
	default:
		return fmt.Sprintf("QOS(%d)", int(q))
	}
}

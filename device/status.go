package device

import "fmt"

// ConnectionStatus is a device's connection state.  The integer values are
// stable and appear on the wire.
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
	Reconnecting
	ConnectionError
)

var connectionStatusNames = map[ConnectionStatus]string{
	Disconnected:    "DISCONNECTED",
	Connecting:      "CONNECTING",
	Connected:       "CONNECTED",
	Reconnecting:    "RECONNECTING",
	ConnectionError: "ERROR",
}

func (s ConnectionStatus) String() string {
	if name, ok := connectionStatusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("ConnectionStatus(%d)", int(s))
}

// HealthStatus is a device's health assessment, computed by the health
// monitor from connection state and recency of contact.
type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthHealthy
	HealthWarning
	HealthCritical
	HealthOffline
)

var healthStatusNames = map[HealthStatus]string{
	HealthUnknown:  "UNKNOWN",
	HealthHealthy:  "HEALTHY",
	HealthWarning:  "WARNING",
	HealthCritical: "CRITICAL",
	HealthOffline:  "OFFLINE",
}

func (s HealthStatus) String() string {
	if name, ok := healthStatusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("HealthStatus(%d)", int(s))
}

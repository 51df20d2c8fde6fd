// Package protocol defines the interface every protocol server implements
// and the live connection records those servers own.
package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/hydrogen-io/hydrogen/wire"
)

// Status is the lifecycle state of a protocol server.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusError
)

var statusNames = map[Status]string{
	StatusStopped:  "STOPPED",
	StatusStarting: "STARTING",
	StatusRunning:  "RUNNING",
	StatusStopping: "STOPPING",
	StatusError:    "ERROR",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("Status(%d)", int(s))
}

// ConnectionInfo is a live connection record.  Records are created by the
// owning protocol server on accept, mutated only by that server, and
// destroyed on close.
type ConnectionInfo struct {
	ClientID      string            `json:"clientId"`
	Protocol      wire.Protocol     `json:"protocol"`
	RemoteAddress string            `json:"remoteAddress"`
	RemotePort    int               `json:"remotePort,omitempty"`
	ConnectedAt   time.Time         `json:"connectedAt"`
	LastActivity  time.Time         `json:"lastActivity"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ConnectCallback is invoked when a client connects.
type ConnectCallback func(ConnectionInfo)

// DisconnectCallback is invoked when a client disconnects.
type DisconnectCallback func(clientID string)

// MessageCallback is invoked for each decoded inbound message.
type MessageCallback func(clientID string, message *wire.Message)

// Server is implemented once per wire protocol.
type Server interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes the listener and all active connections.
	Stop(ctx context.Context) error

	// Restart stops and then starts the server.
	Restart(ctx context.Context) error

	// Status returns the server's lifecycle state.
	Status() Status

	// Config returns the server's current configuration.
	Config() map[string]string

	// SetConfig replaces the server's configuration.  Only valid while stopped.
	SetConfig(config map[string]string) error

	// ValidateConfig tests a configuration without applying it.
	ValidateConfig(config map[string]string) error

	// ActiveConnections returns snapshots of all live connections.
	ActiveConnections() []ConnectionInfo

	// ConnectionCount returns the number of live connections.
	ConnectionCount() int

	// DisconnectClient forcibly closes one client's connection.
	DisconnectClient(clientID string) error

	// Protocol returns the wire protocol this server speaks.
	Protocol() wire.Protocol

	// ProtocolName returns the human-readable protocol name.
	ProtocolName() string

	// IsHealthy reports the server's own health assessment.
	IsHealthy() bool

	// HealthStatus returns a human-readable health summary.
	HealthStatus() string

	// SetConnectCallback installs the connect event callback.
	SetConnectCallback(ConnectCallback)

	// SetDisconnectCallback installs the disconnect event callback.
	SetDisconnectCallback(DisconnectCallback)

	// SetMessageCallback installs the inbound message callback.
	SetMessageCallback(MessageCallback)
}

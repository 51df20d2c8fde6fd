// Package multiserver coordinates the protocol servers as one unit: shared
// lifecycle, aggregated status, and fan-in of connection and message events.
package multiserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/protocol"
	"github.com/hydrogen-io/hydrogen/service"
	"github.com/hydrogen-io/hydrogen/wire"
)

// ServiceName is the registration name in the service registry.
const ServiceName = "protocol-servers"

var ErrDuplicateProtocol = errors.New("a server for that protocol is already managed")

// Manager owns a set of protocol servers.
type Manager struct {
	logger log.Logger

	lock    sync.RWMutex
	servers map[wire.Protocol]protocol.Server
	order   []wire.Protocol

	callbackLock       sync.RWMutex
	connectCallback    protocol.ConnectCallback
	disconnectCallback protocol.DisconnectCallback
	messageCallback    protocol.MessageCallback
}

var _ service.Service = (*Manager)(nil)

// NewManager constructs an empty Manager.
func NewManager(logger log.Logger) *Manager {
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	return &Manager{
		logger:  logger,
		servers: make(map[wire.Protocol]protocol.Server),
	}
}

// Manage adds a server.  At most one server per protocol.  The manager's
// global callbacks are installed on the server.
func (m *Manager) Manage(server protocol.Server) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	p := server.Protocol()
	if _, ok := m.servers[p]; ok {
		return ErrDuplicateProtocol
	}

	m.servers[p] = server
	m.order = append(m.order, p)

	server.SetConnectCallback(func(info protocol.ConnectionInfo) {
		m.callbackLock.RLock()
		callback := m.connectCallback
		m.callbackLock.RUnlock()
		if callback != nil {
			callback(info)
		}
	})

	server.SetDisconnectCallback(func(clientID string) {
		m.callbackLock.RLock()
		callback := m.disconnectCallback
		m.callbackLock.RUnlock()
		if callback != nil {
			callback(clientID)
		}
	})

	server.SetMessageCallback(func(clientID string, message *wire.Message) {
		m.callbackLock.RLock()
		callback := m.messageCallback
		m.callbackLock.RUnlock()
		if callback != nil {
			callback(clientID, message)
		}
	})

	return nil
}

// Server returns the managed server for a protocol.
func (m *Manager) Server(p wire.Protocol) (protocol.Server, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	server, ok := m.servers[p]
	return server, ok
}

// Protocols returns the managed protocols in registration order.
func (m *Manager) Protocols() []wire.Protocol {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return append([]wire.Protocol{}, m.order...)
}

// StartAll starts every managed server in registration order.  Failures are
// recorded and do not prevent the remaining servers from starting.
func (m *Manager) StartAll(ctx context.Context) error {
	m.lock.RLock()
	order := append([]wire.Protocol{}, m.order...)
	m.lock.RUnlock()

	var failures []error
	for _, p := range order {
		server, _ := m.Server(p)
		if err := server.Start(ctx); err != nil {
			m.logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "protocol server failed to start", "protocol", server.ProtocolName(), logging.ErrorKey(), err)
			failures = append(failures, fmt.Errorf("%s: %w", server.ProtocolName(), err))
			continue
		}
	}

	return errors.Join(failures...)
}

// StopAll stops every managed server in reverse registration order.
// Best-effort: all servers are attempted.
func (m *Manager) StopAll(ctx context.Context) error {
	m.lock.RLock()
	order := append([]wire.Protocol{}, m.order...)
	m.lock.RUnlock()

	var failures []error
	for i := len(order) - 1; i >= 0; i-- {
		server, _ := m.Server(order[i])
		if server.Status() != protocol.StatusRunning {
			continue
		}

		if err := server.Stop(ctx); err != nil {
			m.logger.Log(level.Key(), level.ErrorValue(), logging.MessageKey(), "protocol server failed to stop", "protocol", server.ProtocolName(), logging.ErrorKey(), err)
			failures = append(failures, fmt.Errorf("%s: %w", server.ProtocolName(), err))
		}
	}

	return errors.Join(failures...)
}

// OverallStatus aggregates the managed servers' states.  Any ERROR wins,
// then STARTING, then STOPPING, then RUNNING; only when every server is
// stopped is the aggregate STOPPED.
func (m *Manager) OverallStatus() protocol.Status {
	m.lock.RLock()
	defer m.lock.RUnlock()

	counts := make(map[protocol.Status]int, len(m.servers))
	for _, server := range m.servers {
		counts[server.Status()]++
	}

	for _, status := range []protocol.Status{
		protocol.StatusError,
		protocol.StatusStarting,
		protocol.StatusStopping,
		protocol.StatusRunning,
	} {
		if counts[status] > 0 {
			return status
		}
	}

	return protocol.StatusStopped
}

// AllConnections returns every live connection across all servers, sorted
// by client id for stable output.
func (m *Manager) AllConnections() []protocol.ConnectionInfo {
	m.lock.RLock()
	defer m.lock.RUnlock()

	var all []protocol.ConnectionInfo
	for _, server := range m.servers {
		all = append(all, server.ActiveConnections()...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ClientID < all[j].ClientID })
	return all
}

// ConnectionCount returns the total number of live connections.
func (m *Manager) ConnectionCount() int {
	m.lock.RLock()
	defer m.lock.RUnlock()

	total := 0
	for _, server := range m.servers {
		total += server.ConnectionCount()
	}

	return total
}

// DisconnectClient locates the server holding a client and disconnects it.
func (m *Manager) DisconnectClient(clientID string) error {
	m.lock.RLock()
	defer m.lock.RUnlock()

	for _, server := range m.servers {
		for _, info := range server.ActiveConnections() {
			if info.ClientID == clientID {
				return server.DisconnectClient(clientID)
			}
		}
	}

	return errors.New("no connection exists with that client id")
}

// HealthByProtocol reports each managed server's health summary.
func (m *Manager) HealthByProtocol() map[string]string {
	m.lock.RLock()
	defer m.lock.RUnlock()

	health := make(map[string]string, len(m.servers))
	for _, server := range m.servers {
		health[server.ProtocolName()] = server.HealthStatus()
	}

	return health
}

// SetConnectCallback installs the global connect callback.
func (m *Manager) SetConnectCallback(callback protocol.ConnectCallback) {
	m.callbackLock.Lock()
	defer m.callbackLock.Unlock()
	m.connectCallback = callback
}

// SetDisconnectCallback installs the global disconnect callback.
func (m *Manager) SetDisconnectCallback(callback protocol.DisconnectCallback) {
	m.callbackLock.Lock()
	defer m.callbackLock.Unlock()
	m.disconnectCallback = callback
}

// SetMessageCallback installs the global message callback.
func (m *Manager) SetMessageCallback(callback protocol.MessageCallback) {
	m.callbackLock.Lock()
	defer m.callbackLock.Unlock()
	m.messageCallback = callback
}

// Name implements service.Service.
func (m *Manager) Name() string { return ServiceName }

// Dependencies implements service.Service.  The protocol servers need the
// device and auth services up before they accept traffic.
func (m *Manager) Dependencies() []string { return []string{"auth", "devices"} }

// Initialize implements service.Service.
func (m *Manager) Initialize(context.Context) error { return nil }

// Start implements service.Service.
func (m *Manager) Start(ctx context.Context) error {
	return m.StartAll(ctx)
}

// Stop implements service.Service.
func (m *Manager) Stop(ctx context.Context) error {
	return m.StopAll(ctx)
}

// IsHealthy implements service.Service.
func (m *Manager) IsHealthy() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()

	for _, server := range m.servers {
		if !server.IsHealthy() {
			return false
		}
	}

	return true
}

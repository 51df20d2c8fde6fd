// Package device maintains the registry of astronomical instruments, their
// groups and properties, command dispatch, and background health monitoring.
package device

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/hydrogen-io/hydrogen/logging"
)

const (
	ServiceName = "devices"

	errDeviceNotFound = "device not found"
	errTimeout        = "timeout"
)

var (
	ErrEmptyDeviceID   = errors.New("devices must have a nonempty deviceId")
	ErrDeviceNotFound  = errors.New(errDeviceNotFound)
	ErrGroupNotFound   = errors.New("group not found")
	ErrDuplicateGroup  = errors.New("a group with that id already exists")
	ErrCommandNotFound = errors.New("command not found")
)

// Manager is the device service.  The device and group registry is guarded
// by one mutex; pending commands and history by a second.  Callbacks are
// always invoked with no lock held.
type Manager struct {
	logger log.Logger

	healthCheckInterval time.Duration
	commandTimeout      time.Duration

	connectionCallback ConnectionCallback
	commandCallback    CommandCallback
	healthCallback     HealthCallback

	connectedGauge    setter
	disconnectedGauge setter
	commandCounter    adder

	lock          sync.RWMutex
	devices       map[string]*Info
	groups        map[string]*Group
	collaborators map[string]Collaborator

	commandLock sync.Mutex
	pending     map[string]*Command
	history     map[string]*CommandResult

	shutdown chan struct{}
	done     chan struct{}
	started  bool
	runOnce  sync.Once
	stopOnce sync.Once
}

// setter and adder decouple the manager from any particular metrics
// implementation; go-kit gauges and counters satisfy them.
type setter interface{ Set(float64) }
type adder interface{ Add(float64) }

type nopMetric struct{}

func (nopMetric) Set(float64) {}
func (nopMetric) Add(float64) {}

// NewManager constructs a device Manager from a set of Options, which may be nil.
func NewManager(o *Options) *Manager {
	m := &Manager{
		logger:              o.logger(),
		healthCheckInterval: o.healthCheckInterval(),
		commandTimeout:      o.commandTimeout(),
		connectedGauge:      nopMetric{},
		disconnectedGauge:   nopMetric{},
		commandCounter:      nopMetric{},
		devices:             make(map[string]*Info),
		groups:              make(map[string]*Group),
		collaborators:       make(map[string]Collaborator),
		pending:             make(map[string]*Command),
		history:             make(map[string]*CommandResult),
		shutdown:            make(chan struct{}),
		done:                make(chan struct{}),
	}

	if o != nil {
		m.connectionCallback = o.ConnectionCallback
		m.commandCallback = o.CommandCallback
		m.healthCallback = o.HealthCallback
		if o.ConnectedGauge != nil {
			m.connectedGauge = o.ConnectedGauge
		}

		if o.DisconnectedGauge != nil {
			m.disconnectedGauge = o.DisconnectedGauge
		}

		if o.CommandCounter != nil {
			m.commandCounter = o.CommandCounter
		}
	}

	return m
}

// Name implements service.Service.
func (m *Manager) Name() string { return ServiceName }

// Dependencies implements service.Service.
func (m *Manager) Dependencies() []string { return nil }

// Initialize implements service.Service.
func (m *Manager) Initialize(context.Context) error { return nil }

// Start launches the health monitor loop.
func (m *Manager) Start(context.Context) error {
	m.runOnce.Do(func() {
		m.lock.Lock()
		m.started = true
		m.lock.Unlock()
		go m.healthLoop()
	})

	return nil
}

// Stop halts the health monitor.  Safe to call on a Manager that was never
// started.
func (m *Manager) Stop(context.Context) error {
	m.stopOnce.Do(func() {
		close(m.shutdown)
	})

	m.lock.RLock()
	started := m.started
	m.lock.RUnlock()

	if started {
		<-m.done
	}

	return nil
}

// IsHealthy implements service.Service.
func (m *Manager) IsHealthy() bool { return true }

// Register adds or replaces a device record.  A duplicate registration is
// logged as a warning and overwrites the existing record.
func (m *Manager) Register(info Info) error {
	if len(info.DeviceID) == 0 {
		return ErrEmptyDeviceID
	}

	record := info.clone()
	record.RegisteredAt = time.Now()
	record.LastSeen = time.Now()
	record.ConnectionStatus = Disconnected
	record.HealthStatus = HealthUnknown
	if record.Properties == nil {
		record.Properties = make(map[string]string)
	}

	m.lock.Lock()
	_, duplicate := m.devices[info.DeviceID]
	m.devices[info.DeviceID] = record
	m.lock.Unlock()

	if duplicate {
		m.logger.Log(
			level.Key(), level.WarnValue(),
			logging.MessageKey(), "duplicate device registration overwrites existing record",
			"deviceId", info.DeviceID,
		)
	}

	m.updateGauges()
	return nil
}

// Unregister removes a device and its membership in every group.
func (m *Manager) Unregister(deviceID string) error {
	m.lock.Lock()
	if _, ok := m.devices[deviceID]; !ok {
		m.lock.Unlock()
		return ErrDeviceNotFound
	}

	delete(m.devices, deviceID)
	delete(m.collaborators, deviceID)
	for _, group := range m.groups {
		if group.remove(deviceID) {
			group.ModifiedAt = time.Now()
		}
	}
	m.lock.Unlock()

	m.updateGauges()
	return nil
}

// AttachCollaborator binds the concrete driver for a device.
func (m *Manager) AttachCollaborator(deviceID string, collaborator Collaborator) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.devices[deviceID]; !ok {
		return ErrDeviceNotFound
	}

	m.collaborators[deviceID] = collaborator
	return nil
}

// Connect marks a device connected and stamps its last contact time.
func (m *Manager) Connect(deviceID string) error {
	return m.setConnectionStatus(deviceID, Connected, true)
}

// Disconnect marks a device disconnected.
func (m *Manager) Disconnect(deviceID string) error {
	return m.setConnectionStatus(deviceID, Disconnected, false)
}

func (m *Manager) setConnectionStatus(deviceID string, status ConnectionStatus, touch bool) error {
	m.lock.Lock()
	record, ok := m.devices[deviceID]
	if !ok {
		m.lock.Unlock()
		return ErrDeviceNotFound
	}

	record.ConnectionStatus = status
	if touch {
		record.LastSeen = time.Now()
	}
	callback := m.connectionCallback
	m.lock.Unlock()

	m.updateGauges()
	if callback != nil {
		callback(deviceID, status)
	}

	return nil
}

// Touch stamps a device's last contact time, feeding the health monitor.
func (m *Manager) Touch(deviceID string) {
	m.lock.Lock()
	if record, ok := m.devices[deviceID]; ok {
		record.LastSeen = time.Now()
	}
	m.lock.Unlock()
}

// Get returns a copy of the device record with the given id.
func (m *Manager) Get(deviceID string) (*Info, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if record, ok := m.devices[deviceID]; ok {
		return record.clone(), true
	}

	return nil, false
}

// List returns copies of all registered device records.
func (m *Manager) List() []*Info {
	m.lock.RLock()
	defer m.lock.RUnlock()
	all := make([]*Info, 0, len(m.devices))
	for _, record := range m.devices {
		all = append(all, record.clone())
	}

	return all
}

// FindByType returns copies of all devices of the given type.
func (m *Manager) FindByType(deviceType string) []*Info {
	m.lock.RLock()
	defer m.lock.RUnlock()
	var matches []*Info
	for _, record := range m.devices {
		if record.DeviceType == deviceType {
			matches = append(matches, record.clone())
		}
	}

	return matches
}

// GetProperty reads a device property, delegating to the collaborator when
// one is attached and falling back to the registry record otherwise.
func (m *Manager) GetProperty(deviceID, name string) (string, error) {
	m.lock.RLock()
	record, ok := m.devices[deviceID]
	collaborator := m.collaborators[deviceID]
	var cached string
	if ok {
		cached = record.Properties[name]
	}
	m.lock.RUnlock()

	if !ok {
		return "", ErrDeviceNotFound
	}

	if collaborator != nil {
		return collaborator.GetProperty(name)
	}

	return cached, nil
}

// SetProperty writes a device property.  When a collaborator is attached it
// decides acceptance; the registry record mirrors accepted values.
func (m *Manager) SetProperty(deviceID, name, value string) (bool, error) {
	m.lock.RLock()
	_, ok := m.devices[deviceID]
	collaborator := m.collaborators[deviceID]
	m.lock.RUnlock()

	if !ok {
		return false, ErrDeviceNotFound
	}

	if collaborator != nil && !collaborator.SetProperty(name, value) {
		return false, nil
	}

	m.lock.Lock()
	if record, ok := m.devices[deviceID]; ok {
		record.Properties[name] = value
	}
	m.lock.Unlock()

	return true, nil
}

func newCommandID() string {
	buffer := make([]byte, 4)
	if _, err := rand.Read(buffer); err != nil {
		panic(err)
	}

	return "cmd_" + hex.EncodeToString(buffer)
}

// Execute places a command into the pending set and schedules its
// asynchronous execution.  The returned command id can be used with
// PendingCommands, Result, and Cancel.
func (m *Manager) Execute(deviceID, command string, parameters map[string]string, clientID string) (string, error) {
	cmd := &Command{
		CommandID:  newCommandID(),
		DeviceID:   deviceID,
		Command:    command,
		Parameters: parameters,
		ClientID:   clientID,
		Timestamp:  time.Now(),
		Timeout:    m.commandTimeout,
		Priority:   PriorityNormal,
	}

	m.commandLock.Lock()
	m.pending[cmd.CommandID] = cmd
	m.commandLock.Unlock()

	m.commandCounter.Add(1)
	go m.run(cmd)
	return cmd.CommandID, nil
}

// ExecuteBulk dispatches the same command to several devices, returning one
// command id per device in input order.
func (m *Manager) ExecuteBulk(deviceIDs []string, command string, parameters map[string]string, clientID string) []string {
	commandIDs := make([]string, 0, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		commandID, _ := m.Execute(deviceID, command, parameters, clientID)
		commandIDs = append(commandIDs, commandID)
	}

	return commandIDs
}

// run executes one command on a worker goroutine and records its result.
func (m *Manager) run(cmd *Command) {
	started := time.Now()

	m.lock.RLock()
	_, known := m.devices[cmd.DeviceID]
	collaborator := m.collaborators[cmd.DeviceID]
	m.lock.RUnlock()

	result := CommandResult{
		CommandID: cmd.CommandID,
		DeviceID:  cmd.DeviceID,
	}

	switch {
	case !known:
		result.ErrorMessage = errDeviceNotFound

	case collaborator != nil:
		outcome := make(chan CommandResult, 1)
		go func() {
			values := make(map[string]interface{})
			ok := collaborator.HandleCommand(cmd.Command, cmd.Parameters, values)
			r := CommandResult{Success: ok, Result: values}
			if !ok {
				r.ErrorMessage = fmt.Sprintf("command %s rejected by device", cmd.Command)
			}

			outcome <- r
		}()

		select {
		case r := <-outcome:
			result.Success = r.Success
			result.Result = r.Result
			result.ErrorMessage = r.ErrorMessage
		case <-time.After(cmd.Timeout):
			result.ErrorMessage = errTimeout
		}

	default:
		// no driver attached: acknowledge the command
		result.Success = true
		result.Result = map[string]interface{}{
			"command":  cmd.Command,
			"accepted": true,
		}
	}

	result.CompletedAt = time.Now()
	result.ExecutionTime = result.CompletedAt.Sub(started)
	m.complete(cmd.CommandID, result)
}

// complete moves a command from pending to history.  Commands cancelled
// while executing are dropped.
func (m *Manager) complete(commandID string, result CommandResult) {
	m.commandLock.Lock()
	if _, ok := m.pending[commandID]; !ok {
		m.commandLock.Unlock()
		return
	}

	delete(m.pending, commandID)
	m.history[commandID] = &result
	callback := m.commandCallback
	m.commandLock.Unlock()

	m.Touch(result.DeviceID)
	if callback != nil {
		callback(result)
	}
}

// Result returns the completed result for a command id.
func (m *Manager) Result(commandID string) (*CommandResult, bool) {
	m.commandLock.Lock()
	defer m.commandLock.Unlock()
	if result, ok := m.history[commandID]; ok {
		resultCopy := *result
		return &resultCopy, true
	}

	return nil, false
}

// PendingCommands returns copies of the commands pending for a device.
func (m *Manager) PendingCommands(deviceID string) []Command {
	m.commandLock.Lock()
	defer m.commandLock.Unlock()
	var commands []Command
	for _, cmd := range m.pending {
		if cmd.DeviceID == deviceID {
			commands = append(commands, *cmd)
		}
	}

	return commands
}

// Cancel removes a pending command.  Cancelling an unknown or completed
// command is a no-op.
func (m *Manager) Cancel(commandID string) {
	m.commandLock.Lock()
	delete(m.pending, commandID)
	m.commandLock.Unlock()
}

// CreateGroup creates a named device group.
func (m *Manager) CreateGroup(groupID, groupName, description string) (*Group, error) {
	if len(groupID) == 0 {
		return nil, errors.New("groups must have a nonempty groupId")
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.groups[groupID]; ok {
		return nil, ErrDuplicateGroup
	}

	group := &Group{
		GroupID:     groupID,
		GroupName:   groupName,
		Description: description,
		Properties:  make(map[string]string),
		CreatedAt:   time.Now(),
		ModifiedAt:  time.Now(),
	}

	m.groups[groupID] = group
	return group.clone(), nil
}

// DeleteGroup removes a group.  Member devices are unaffected.
func (m *Manager) DeleteGroup(groupID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return ErrGroupNotFound
	}

	delete(m.groups, groupID)
	return nil
}

// AddToGroup appends a device to a group, preserving order and uniqueness.
func (m *Manager) AddToGroup(groupID, deviceID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	group, ok := m.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}

	if _, ok := m.devices[deviceID]; !ok {
		return ErrDeviceNotFound
	}

	if group.contains(deviceID) {
		return nil
	}

	group.DeviceIDs = append(group.DeviceIDs, deviceID)
	group.ModifiedAt = time.Now()
	return nil
}

// RemoveFromGroup removes a device from a group.
func (m *Manager) RemoveFromGroup(groupID, deviceID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	group, ok := m.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}

	if group.remove(deviceID) {
		group.ModifiedAt = time.Now()
	}

	return nil
}

// GetGroup returns a copy of the group with the given id.
func (m *Manager) GetGroup(groupID string) (*Group, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if group, ok := m.groups[groupID]; ok {
		return group.clone(), true
	}

	return nil, false
}

// ListGroups returns copies of every group.
func (m *Manager) ListGroups() []*Group {
	m.lock.RLock()
	defer m.lock.RUnlock()
	groups := make([]*Group, 0, len(m.groups))
	for _, group := range m.groups {
		groups = append(groups, group.clone())
	}

	return groups
}

func (m *Manager) updateGauges() {
	m.lock.RLock()
	var connected, disconnected float64
	for _, record := range m.devices {
		if record.ConnectionStatus == Connected {
			connected++
		} else {
			disconnected++
		}
	}
	m.lock.RUnlock()

	m.connectedGauge.Set(connected)
	m.disconnectedGauge.Set(disconnected)
}

func (m *Manager) healthLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

type healthChange struct {
	deviceID  string
	old, next HealthStatus
}

// checkHealth recomputes each device's health from its connection state and
// last contact time, firing the health callback on changes.
func (m *Manager) checkHealth() {
	now := time.Now()
	var changes []healthChange

	m.lock.Lock()
	for id, record := range m.devices {
		next := healthFor(record, now)
		if next != record.HealthStatus {
			changes = append(changes, healthChange{deviceID: id, old: record.HealthStatus, next: next})
			record.HealthStatus = next
		}
	}
	callback := m.healthCallback
	m.lock.Unlock()

	if callback != nil {
		for _, change := range changes {
			callback(change.deviceID, change.old, change.next)
		}
	}
}

func healthFor(record *Info, now time.Time) HealthStatus {
	if record.ConnectionStatus != Connected {
		return HealthOffline
	}

	sinceContact := now.Sub(record.LastSeen)
	switch {
	case sinceContact < healthyWindow:
		return HealthHealthy
	case sinceContact < warningWindow:
		return HealthWarning
	default:
		return HealthCritical
	}
}

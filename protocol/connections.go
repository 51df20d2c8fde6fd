package protocol

import (
	"sync"
	"time"
)

// ConnectionTable is the concurrent connection registry shared by the
// protocol server implementations.
type ConnectionTable struct {
	lock        sync.RWMutex
	connections map[string]*ConnectionInfo
}

// NewConnectionTable constructs an empty ConnectionTable.
func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{
		connections: make(map[string]*ConnectionInfo),
	}
}

// Add inserts a connection record.
func (t *ConnectionTable) Add(info ConnectionInfo) {
	t.lock.Lock()
	defer t.lock.Unlock()
	record := info
	t.connections[info.ClientID] = &record
}

// Remove deletes a connection record, returning whether it existed.
func (t *ConnectionTable) Remove(clientID string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	_, ok := t.connections[clientID]
	delete(t.connections, clientID)
	return ok
}

// Touch stamps a connection's last activity time.
func (t *ConnectionTable) Touch(clientID string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if record, ok := t.connections[clientID]; ok {
		record.LastActivity = time.Now()
	}
}

// Get returns a snapshot of one connection record.
func (t *ConnectionTable) Get(clientID string) (ConnectionInfo, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if record, ok := t.connections[clientID]; ok {
		return *record, true
	}

	return ConnectionInfo{}, false
}

// List returns snapshots of all connection records.
func (t *ConnectionTable) List() []ConnectionInfo {
	t.lock.RLock()
	defer t.lock.RUnlock()
	all := make([]ConnectionInfo, 0, len(t.connections))
	for _, record := range t.connections {
		all = append(all, *record)
	}

	return all
}

// Len returns the number of live connections.
func (t *ConnectionTable) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.connections)
}

// Clear empties the table, returning the removed client ids.
func (t *ConnectionTable) Clear() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	ids := make([]string, 0, len(t.connections))
	for id := range t.connections {
		ids = append(ids, id)
	}

	t.connections = make(map[string]*ConnectionInfo)
	return ids
}

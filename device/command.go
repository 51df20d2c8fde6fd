package device

import "time"

// Priority orders command dispatch when a device has a backlog.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Command is a device command in flight.
type Command struct {
	CommandID  string            `json:"commandId"`
	DeviceID   string            `json:"deviceId"`
	Command    string            `json:"command"`
	Parameters map[string]string `json:"parameters,omitempty"`
	ClientID   string            `json:"clientId,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Timeout    time.Duration     `json:"timeout"`
	Priority   Priority          `json:"priority"`
}

// CommandResult is a completed command.  Every command id ends up either in
// the pending set or the history, never both.
type CommandResult struct {
	CommandID     string                 `json:"commandId"`
	DeviceID      string                 `json:"deviceId"`
	Success       bool                   `json:"success"`
	Result        map[string]interface{} `json:"result,omitempty"`
	ErrorMessage  string                 `json:"errorMessage,omitempty"`
	CompletedAt   time.Time              `json:"completedAt"`
	ExecutionTime time.Duration          `json:"executionTime"`
}

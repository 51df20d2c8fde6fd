package errorhandler

import "fmt"

// Category classifies a connection-scoped error by its functional area.
type Category int

const (
	CategoryConnection Category = iota
	CategoryProtocol
	CategoryTimeout
	CategoryAuthentication
	CategoryMessage
	CategoryResource
	CategoryNetwork
	CategoryUnknown
)

var categoryNames = map[Category]string{
	CategoryConnection:     "CONNECTION",
	CategoryProtocol:       "PROTOCOL",
	CategoryTimeout:        "TIMEOUT",
	CategoryAuthentication: "AUTHENTICATION",
	CategoryMessage:        "MESSAGE",
	CategoryResource:       "RESOURCE",
	CategoryNetwork:        "NETWORK",
	CategoryUnknown:        "UNKNOWN",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}

	return fmt.Sprintf("Category(%d)", int(c))
}

// Severity ranks how serious a connection-scoped error is.  The ordering of
// the constants is meaningful: comparisons such as severity >= SeverityHigh
// are used when selecting recovery actions.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}

	return fmt.Sprintf("Severity(%d)", int(s))
}

// Action is the recovery step recommended or selected for an error.
type Action int

const (
	ActionNone Action = iota
	ActionRetry
	ActionReconnect
	ActionReset
	ActionEscalate
	ActionTerminate
)

var actionNames = map[Action]string{
	ActionNone:      "NONE",
	ActionRetry:     "RETRY",
	ActionReconnect: "RECONNECT",
	ActionReset:     "RESET",
	ActionEscalate:  "ESCALATE",
	ActionTerminate: "TERMINATE",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}

	return fmt.Sprintf("Action(%d)", int(a))
}

package device

import "time"

// Info is a registered device record.  At most one record exists per
// DeviceID.  The manager owns these records; callers receive copies.
type Info struct {
	DeviceID        string            `json:"deviceId"`
	DeviceType      string            `json:"deviceType"`
	DeviceName      string            `json:"deviceName"`
	Manufacturer    string            `json:"manufacturer,omitempty"`
	Model           string            `json:"model,omitempty"`
	FirmwareVersion string            `json:"firmwareVersion,omitempty"`
	DriverVersion   string            `json:"driverVersion,omitempty"`
	Capabilities    []string          `json:"capabilities,omitempty"`
	Properties      map[string]string `json:"properties"`

	ConnectionStatus ConnectionStatus `json:"connectionStatus"`
	HealthStatus     HealthStatus     `json:"healthStatus"`

	LastSeen      time.Time `json:"lastSeen"`
	RegisteredAt  time.Time `json:"registeredAt"`
	ClientID      string    `json:"clientId,omitempty"`
	RemoteAddress string    `json:"remoteAddress,omitempty"`
}

func (i *Info) clone() *Info {
	copied := *i
	copied.Capabilities = append([]string{}, i.Capabilities...)
	copied.Properties = make(map[string]string, len(i.Properties))
	for k, v := range i.Properties {
		copied.Properties[k] = v
	}

	return &copied
}

// Collaborator is the boundary to concrete device drivers.  The gateway
// core never reaches below this interface.
type Collaborator interface {
	// GetProperty reads a named property from the device.
	GetProperty(name string) (string, error)

	// SetProperty writes a named property.  The return indicates whether
	// the device accepted the value.
	SetProperty(name, value string) bool

	// HandleCommand executes a device command.  The result map is
	// populated by the device; the return indicates success.
	HandleCommand(command string, parameters map[string]string, result map[string]interface{}) bool
}

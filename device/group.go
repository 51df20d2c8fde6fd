package device

import "time"

// Group is a named, ordered subset of registered devices.  Device ids are
// unique within a group and retain insertion order.
type Group struct {
	GroupID     string            `json:"groupId"`
	GroupName   string            `json:"groupName"`
	Description string            `json:"description,omitempty"`
	DeviceIDs   []string          `json:"deviceIds"`
	Properties  map[string]string `json:"groupProperties,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	ModifiedAt  time.Time         `json:"modifiedAt"`
}

func (g *Group) clone() *Group {
	copied := *g
	copied.DeviceIDs = append([]string{}, g.DeviceIDs...)
	copied.Properties = make(map[string]string, len(g.Properties))
	for k, v := range g.Properties {
		copied.Properties[k] = v
	}

	return &copied
}

// contains does a linear search; groups are expected to be small.
func (g *Group) contains(deviceID string) bool {
	for _, id := range g.DeviceIDs {
		if id == deviceID {
			return true
		}
	}

	return false
}

func (g *Group) remove(deviceID string) bool {
	for i, id := range g.DeviceIDs {
		if id == deviceID {
			g.DeviceIDs = append(g.DeviceIDs[:i], g.DeviceIDs[i+1:]...)
			return true
		}
	}

	return false
}

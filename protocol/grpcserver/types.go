package grpcserver

import "github.com/hydrogen-io/hydrogen/device"

// The request and reply types below mirror gateway.proto.  They travel
// through the JSON codec, so ordinary struct tags define the frame layout.

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthReply struct {
	Success      bool   `json:"success"`
	Token        string `json:"token,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type ListDevicesRequest struct {
	DeviceType string `json:"deviceType,omitempty"`
}

type ListDevicesReply struct {
	Devices []*device.Info `json:"devices"`
}

type CommandRequest struct {
	DeviceID   string            `json:"deviceId"`
	Command    string            `json:"command"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type CommandReply struct {
	CommandID string `json:"commandId"`
	DeviceID  string `json:"deviceId"`
}

type SubscribeRequest struct {
	Topic string `json:"topic,omitempty"`
}

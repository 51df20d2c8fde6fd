package grpcserver

import (
	"time"

	"github.com/go-kit/log"

	"github.com/hydrogen-io/hydrogen/auth"
	"github.com/hydrogen-io/hydrogen/device"
	"github.com/hydrogen-io/hydrogen/logging"
)

const (
	DefaultAddress           = ":9090"
	DefaultKeepaliveTime     = 2 * time.Minute
	DefaultKeepaliveTimeout  = 20 * time.Second
	DefaultMaxMessageSize    = 4 * 1024 * 1024
	DefaultSubscriberBacklog = 64
)

// Options represent the available configuration options for the gRPC server.
type Options struct {
	// Address is the listen address.  If not supplied, DefaultAddress is used.
	Address string

	// CertificateFile and KeyFile enable TLS when both are set.
	CertificateFile string
	KeyFile         string

	// Auth is the authentication service consulted by the interceptors and
	// the Authenticate method.  Required.
	Auth *auth.Manager

	// Devices is the device service behind ListDevices and ExecuteCommand.
	// Required.
	Devices *device.Manager

	// KeepaliveTime and KeepaliveTimeout tune the server keepalive probes.
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// MaxMessageSize bounds inbound frames.  If not supplied,
	// DefaultMaxMessageSize is used.
	MaxMessageSize int

	// SubscriberBacklog is the per-subscriber queue depth before messages
	// are dropped.  If not supplied, DefaultSubscriberBacklog is used.
	SubscriberBacklog int

	// Logger is the output sink for log messages.  If not supplied, log
	// output is discarded.
	Logger log.Logger
}

func (o *Options) address() string {
	if o != nil && len(o.Address) > 0 {
		return o.Address
	}

	return DefaultAddress
}

func (o *Options) keepaliveTime() time.Duration {
	if o != nil && o.KeepaliveTime > 0 {
		return o.KeepaliveTime
	}

	return DefaultKeepaliveTime
}

func (o *Options) keepaliveTimeout() time.Duration {
	if o != nil && o.KeepaliveTimeout > 0 {
		return o.KeepaliveTimeout
	}

	return DefaultKeepaliveTimeout
}

func (o *Options) maxMessageSize() int {
	if o != nil && o.MaxMessageSize > 0 {
		return o.MaxMessageSize
	}

	return DefaultMaxMessageSize
}

func (o *Options) subscriberBacklog() int {
	if o != nil && o.SubscriberBacklog > 0 {
		return o.SubscriberBacklog
	}

	return DefaultSubscriberBacklog
}

func (o *Options) logger() log.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}

	return logging.DefaultLogger()
}

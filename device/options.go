package device

import (
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/log"

	"github.com/hydrogen-io/hydrogen/logging"
)

const (
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultCommandTimeout      = 30 * time.Second

	// health thresholds applied to a connected device's last contact
	healthyWindow = 60 * time.Second
	warningWindow = 300 * time.Second
)

// ConnectionCallback is invoked when a device's connection status changes.
type ConnectionCallback func(deviceID string, status ConnectionStatus)

// CommandCallback is invoked when a command completes.
type CommandCallback func(result CommandResult)

// HealthCallback is invoked when the health monitor changes a device's
// health status.
type HealthCallback func(deviceID string, old, next HealthStatus)

// Options represent the available configuration options for device Managers.
type Options struct {
	// HealthCheckInterval is the period of the health monitor loop.  If
	// not supplied, DefaultHealthCheckInterval is used.
	HealthCheckInterval time.Duration

	// CommandTimeout is the default timeout applied to commands that do
	// not carry their own.  If not supplied, DefaultCommandTimeout is used.
	CommandTimeout time.Duration

	// ConnectionCallback is invoked on connection status changes.
	ConnectionCallback ConnectionCallback

	// CommandCallback is invoked on command completion.
	CommandCallback CommandCallback

	// HealthCallback is invoked on health status changes.
	HealthCallback HealthCallback

	// ConnectedGauge tracks the count of connected devices.
	ConnectedGauge metrics.Gauge

	// DisconnectedGauge tracks the count of disconnected devices.
	DisconnectedGauge metrics.Gauge

	// CommandCounter counts executed commands.
	CommandCounter metrics.Counter

	// Logger is the output sink for log messages.  If not supplied, log
	// output is discarded.
	Logger log.Logger
}

func (o *Options) healthCheckInterval() time.Duration {
	if o != nil && o.HealthCheckInterval > 0 {
		return o.HealthCheckInterval
	}

	return DefaultHealthCheckInterval
}

func (o *Options) commandTimeout() time.Duration {
	if o != nil && o.CommandTimeout > 0 {
		return o.CommandTimeout
	}

	return DefaultCommandTimeout
}

func (o *Options) logger() log.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}

	return logging.DefaultLogger()
}

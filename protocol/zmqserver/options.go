package zmqserver

import (
	"time"

	"github.com/go-kit/log"

	"github.com/hydrogen-io/hydrogen/logging"
)

const (
	DefaultEndpoint      = "tcp://127.0.0.1:5555"
	DefaultSessionExpiry = 5 * time.Minute
)

// Options represent the available configuration options for the ZMQ server.
type Options struct {
	// Endpoint is the ROUTER bind endpoint.  If not supplied,
	// DefaultEndpoint is used.
	Endpoint string

	// SessionExpiry bounds how long a silent peer stays in the connection
	// table.  If not supplied, DefaultSessionExpiry is used.
	SessionExpiry time.Duration

	// Logger is the output sink for log messages.  If not supplied, log
	// output is discarded.
	Logger log.Logger
}

func (o *Options) endpoint() string {
	if o != nil && len(o.Endpoint) > 0 {
		return o.Endpoint
	}

	return DefaultEndpoint
}

func (o *Options) sessionExpiry() time.Duration {
	if o != nil && o.SessionExpiry > 0 {
		return o.SessionExpiry
	}

	return DefaultSessionExpiry
}

func (o *Options) logger() log.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}

	return logging.DefaultLogger()
}

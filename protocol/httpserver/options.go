package httpserver

import (
	"time"

	"github.com/go-kit/log"

	"github.com/hydrogen-io/hydrogen/auth"
	"github.com/hydrogen-io/hydrogen/device"
	"github.com/hydrogen-io/hydrogen/logging"
)

const (
	DefaultAddress          = ":8080"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 60 * time.Second
	DefaultRateLimit        = 100
)

// Options represent the available configuration options for the HTTP/WebSocket server.
type Options struct {
	// Address is the listen address.  If not supplied, DefaultAddress is used.
	Address string

	// CertificateFile and KeyFile enable TLS when both are set.
	CertificateFile string
	KeyFile         string

	// Auth is the authentication service consulted by the auth middleware
	// and the login endpoints.  Required.
	Auth *auth.Manager

	// Devices is the device service behind the device endpoints.  Required.
	Devices *device.Manager

	// AllowedOrigins is the CORS allow list.  If empty, "*" is used.
	AllowedOrigins []string

	// RateLimit is the number of requests permitted per client per minute.
	// If not supplied, DefaultRateLimit is used.
	RateLimit int

	// HandshakeTimeout is the websocket handshake timeout.  If not
	// supplied, DefaultHandshakeTimeout is used.
	HandshakeTimeout time.Duration

	// WriteTimeout is the websocket write timeout.  If not supplied,
	// DefaultWriteTimeout is used.
	WriteTimeout time.Duration

	// Extra carries configuration keys this server does not recognize.
	// They are preserved verbatim and visible through Config().
	Extra map[string]string

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

func (o *Options) allowedOrigins() []string {
	if o != nil && len(o.AllowedOrigins) > 0 {
		return o.AllowedOrigins
	}

	return []string{"*"}
}

func (o *Options) rateLimit() int {
	if o != nil && o.RateLimit > 0 {
		return o.RateLimit
	}

	return DefaultRateLimit
}

func (o *Options) handshakeTimeout() time.Duration {
	if o != nil && o.HandshakeTimeout > 0 {
		return o.HandshakeTimeout
	}

	return DefaultHandshakeTimeout
}

func (o *Options) writeTimeout() time.Duration {
	if o != nil && o.WriteTimeout > 0 {
		return o.WriteTimeout
	}

	return DefaultWriteTimeout
}

func (o *Options) logger() log.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}

	return logging.DefaultLogger()
}

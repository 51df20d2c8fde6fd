package mqttserver

import (
	"time"

	"github.com/go-kit/log"

	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/wire"
)

const (
	DefaultBrokerURL      = "tcp://127.0.0.1:1883"
	DefaultClientID       = "hydrogen-gateway"
	DefaultRequestFilter  = "hydrogen/request/+"
	DefaultResponsePrefix = "hydrogen/response/"
	DefaultEventPrefix    = "hydrogen/event/"
	DefaultQOS            = wire.QOSAtLeastOnce
	DefaultKeepAlive      = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second

	// DefaultSessionExpiry bounds how long a silent client stays in the
	// connection table.
	DefaultSessionExpiry = 5 * time.Minute
)

// Options represent the available configuration options for the MQTT bridge.
type Options struct {
	// BrokerURL locates the external broker.  If not supplied,
	// DefaultBrokerURL is used.
	BrokerURL string

	// ClientID identifies the gateway on the broker.  If not supplied,
	// DefaultClientID is used.
	ClientID string

	// Username and Password are the broker credentials, if any.
	Username string
	Password string

	// RequestFilter is the subscription filter for inbound requests.  The
	// final topic level carries the logical client id.  If not supplied,
	// DefaultRequestFilter is used.
	RequestFilter string

	// ResponsePrefix is prepended to the client id to form the response
	// topic.  If not supplied, DefaultResponsePrefix is used.
	ResponsePrefix string

	// EventPrefix is prepended to event topics on publish.  If not
	// supplied, DefaultEventPrefix is used.
	EventPrefix string

	// QOS is the delivery guarantee used for subscriptions and publishes.
	QOS wire.QOS

	// KeepAlive and ConnectTimeout tune the broker session.
	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	// SessionExpiry bounds how long a silent logical client stays in the
	// connection table.  If not supplied, DefaultSessionExpiry is used.
	SessionExpiry time.Duration

	// Logger is the output sink for log messages.  If not supplied, log
	// output is discarded.
	Logger log.Logger
}

func (o *Options) brokerURL() string {
	if o != nil && len(o.BrokerURL) > 0 {
		return o.BrokerURL
	}

	return DefaultBrokerURL
}

func (o *Options) clientID() string {
	if o != nil && len(o.ClientID) > 0 {
		return o.ClientID
	}

	return DefaultClientID
}

func (o *Options) requestFilter() string {
	if o != nil && len(o.RequestFilter) > 0 {
		return o.RequestFilter
	}

	return DefaultRequestFilter
}

func (o *Options) responsePrefix() string {
	if o != nil && len(o.ResponsePrefix) > 0 {
		return o.ResponsePrefix
	}

	return DefaultResponsePrefix
}

func (o *Options) eventPrefix() string {
	if o != nil && len(o.EventPrefix) > 0 {
		return o.EventPrefix
	}

	return DefaultEventPrefix
}

func (o *Options) qos() wire.QOS {
	if o != nil && o.QOS > 0 {
		return o.QOS
	}

	return DefaultQOS
}

func (o *Options) keepAlive() time.Duration {
	if o != nil && o.KeepAlive > 0 {
		return o.KeepAlive
	}

	return DefaultKeepAlive
}

func (o *Options) connectTimeout() time.Duration {
	if o != nil && o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}

	return DefaultConnectTimeout
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

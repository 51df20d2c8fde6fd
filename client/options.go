package client

import (
	"time"

	"github.com/go-kit/log"

	"github.com/hydrogen-io/hydrogen/errorhandler"
	"github.com/hydrogen-io/hydrogen/logging"
	"github.com/hydrogen-io/hydrogen/wire"
)

const (
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultRequestTimeout    = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultMaxBatchTimeout caps the per-batch timeout a caller may request.
	DefaultMaxBatchTimeout = 60 * time.Second
)

// MessageHandler consumes an inbound event message.
type MessageHandler func(message *wire.Message)

// Options represent the available configuration options for a UnifiedClient.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://gateway:8080/ws.  Required.
	URL string

	// Token is the bearer token presented during the handshake.
	Token string

	// ClientID identifies this client in outbound messages.
	ClientID string

	// HandshakeTimeout bounds the websocket handshake.
	HandshakeTimeout time.Duration

	// RequestTimeout bounds each Send awaiting its response.
	RequestTimeout time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// HeartbeatInterval is the period between client heartbeats.  Zero or
	// negative disables heartbeats.
	HeartbeatInterval time.Duration

	// MaxBatchTimeout caps the timeout a SendBatch caller may request.  If
	// not supplied, DefaultMaxBatchTimeout is used.
	MaxBatchTimeout time.Duration

	// ReconnectPolicy controls automatic reconnection after a lost
	// connection.  If not supplied, the default retry policy is used.
	// A MaxAttempts of zero retries without limit.
	ReconnectPolicy *errorhandler.RetryPolicy

	// DisableReconnect suppresses automatic reconnection entirely.
	DisableReconnect bool

	// Connected is called after each successful connect, including
	// reconnects.  Optional.
	Connected func()

	// Disconnected is called when the connection is lost or closed.
	// Optional.
	Disconnected func(err error)

	// Message is called for inbound messages that are neither responses to
	// pending requests nor subscribed events.  Optional.
	Message MessageHandler

	// Logger is the output sink for log messages.  If not supplied, log
	// output is discarded.
	Logger log.Logger
}

func (o *Options) handshakeTimeout() time.Duration {
	if o != nil && o.HandshakeTimeout > 0 {
		return o.HandshakeTimeout
	}

	return DefaultHandshakeTimeout
}

func (o *Options) requestTimeout() time.Duration {
	if o != nil && o.RequestTimeout > 0 {
		return o.RequestTimeout
	}

	return DefaultRequestTimeout
}

func (o *Options) writeTimeout() time.Duration {
	if o != nil && o.WriteTimeout > 0 {
		return o.WriteTimeout
	}

	return DefaultWriteTimeout
}

func (o *Options) heartbeatInterval() time.Duration {
	if o != nil {
		return o.HeartbeatInterval
	}

	return DefaultHeartbeatInterval
}

func (o *Options) maxBatchTimeout() time.Duration {
	if o != nil && o.MaxBatchTimeout > 0 {
		return o.MaxBatchTimeout
	}

	return DefaultMaxBatchTimeout
}

func (o *Options) reconnectPolicy() errorhandler.RetryPolicy {
	if o != nil && o.ReconnectPolicy != nil {
		return *o.ReconnectPolicy
	}

	return errorhandler.DefaultRetryPolicy()
}

func (o *Options) connected() func() {
	if o != nil && o.Connected != nil {
		return o.Connected
	}

	return func() {}
}

func (o *Options) disconnected() func(error) {
	if o != nil && o.Disconnected != nil {
		return o.Disconnected
	}

	return func(error) {}
}

func (o *Options) message() MessageHandler {
	if o != nil && o.Message != nil {
		return o.Message
	}

	return func(*wire.Message) {}
}

func (o *Options) logger() log.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}

	return logging.DefaultLogger()
}

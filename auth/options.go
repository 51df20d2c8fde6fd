package auth

import (
	"time"

	"github.com/go-kit/log"

	"github.com/hydrogen-io/hydrogen/logging"
)

const (
	DefaultTokenExpiration   = time.Hour
	DefaultSessionTimeout    = 30 * time.Minute
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 5 * time.Minute
	DefaultRateLimit         = 10
	DefaultSweepInterval     = time.Minute
	DefaultAuditLogSize      = 1000
)

// Options represent the available configuration options for the auth Manager.
type Options struct {
	// TokenExpiration is the lifetime of issued tokens.  If not supplied,
	// DefaultTokenExpiration is used.
	TokenExpiration time.Duration

	// SessionTimeout is the sliding expiration window of sessions.  If not
	// supplied, DefaultSessionTimeout is used.
	SessionTimeout time.Duration

	// MaxFailedAttempts is the number of consecutive failed logins that
	// locks an account.  If not supplied, DefaultMaxFailedAttempts is used.
	MaxFailedAttempts int

	// LockoutDuration is how long a locked account stays locked.  If not
	// supplied, DefaultLockoutDuration is used.
	LockoutDuration time.Duration

	// RateLimit is the number of authentication attempts permitted per
	// identifier per minute.  If not supplied, DefaultRateLimit is used.
	RateLimit int

	// SweepInterval is how often expired sessions are swept.  If not
	// supplied, DefaultSweepInterval is used.
	SweepInterval time.Duration

	// DisableDefaultAdmin suppresses creation of the bootstrap admin
	// account when the user store is empty.
	DisableDefaultAdmin bool

	// Logger is the output sink for log messages.  If not supplied, log
	// output is discarded.
	Logger log.Logger
}

func (o *Options) tokenExpiration() time.Duration {
	if o != nil && o.TokenExpiration > 0 {
		return o.TokenExpiration
	}

	return DefaultTokenExpiration
}

func (o *Options) sessionTimeout() time.Duration {
	if o != nil && o.SessionTimeout > 0 {
		return o.SessionTimeout
	}

	return DefaultSessionTimeout
}

func (o *Options) maxFailedAttempts() int {
	if o != nil && o.MaxFailedAttempts > 0 {
		return o.MaxFailedAttempts
	}

	return DefaultMaxFailedAttempts
}

func (o *Options) lockoutDuration() time.Duration {
	if o != nil && o.LockoutDuration > 0 {
		return o.LockoutDuration
	}

	return DefaultLockoutDuration
}

func (o *Options) rateLimit() int {
	if o != nil && o.RateLimit > 0 {
		return o.RateLimit
	}

	return DefaultRateLimit
}

func (o *Options) sweepInterval() time.Duration {
	if o != nil && o.SweepInterval > 0 {
		return o.SweepInterval
	}

	return DefaultSweepInterval
}

func (o *Options) logger() log.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}

	return logging.DefaultLogger()
}

func (o *Options) disableDefaultAdmin() bool {
	return o != nil && o.DisableDefaultAdmin
}

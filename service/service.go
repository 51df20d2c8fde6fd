// Package service provides the registry of named, lifecycle-managed
// services, with dependency resolution and ordered startup and shutdown.
package service

import "context"

// Service is a named, lifecycle-managed component.  Implementations must be
// safe for concurrent use; the registry serializes lifecycle calls but
// health and metadata queries may arrive at any time.
type Service interface {
	// Name returns the unique registration name of this service.
	Name() string

	// Dependencies returns the names of services that must be RUNNING
	// before this service starts.
	Dependencies() []string

	// Initialize prepares the service.  Called once, before Start.
	Initialize(ctx context.Context) error

	// Start begins service operation.
	Start(ctx context.Context) error

	// Stop halts service operation.  Stop must be safe to call on a
	// service that failed to start.
	Stop(ctx context.Context) error

	// IsHealthy reports the service's own health assessment.
	IsHealthy() bool
}

// Configurable is implemented by services that accept the registry's
// global configuration map at registration time.
type Configurable interface {
	ApplyConfig(config map[string]string)
}

// Metadata is optional descriptive information a service may expose.
type Metadata interface {
	Version() string
	Metrics() map[string]interface{}
}

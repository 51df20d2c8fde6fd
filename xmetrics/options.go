package xmetrics

const (
	DefaultNamespace = "hydrogen"
	DefaultSubsystem = "gateway"
)

// Metric describes one preregistered metric.
type Metric struct {
	// Type is one of counter, gauge, or histogram.
	Type string

	// Help is the metric's help text.  If not supplied, the name is used.
	Help string

	// Buckets are the histogram buckets.  Ignored for other types.
	Buckets []float64
}

// Options represent the available configuration options for a Registry.
type Options struct {
	// Namespace is the prometheus namespace.  If not supplied,
	// DefaultNamespace is used.
	Namespace string

	// Subsystem is the prometheus subsystem.  If not supplied,
	// DefaultSubsystem is used.
	Subsystem string

	// Pedantic selects prometheus's pedantic registry, mainly for tests.
	Pedantic bool

	// Metrics are preregistered by name.  Further metrics may be created
	// ad hoc through the provider methods.
	Metrics map[string]Metric
}

func (o *Options) namespace() string {
	if o != nil && len(o.Namespace) > 0 {
		return o.Namespace
	}

	return DefaultNamespace
}

func (o *Options) subsystem() string {
	if o != nil && len(o.Subsystem) > 0 {
		return o.Subsystem
	}

	return DefaultSubsystem
}

func (o *Options) pedantic() bool {
	return o != nil && o.Pedantic
}

func (o *Options) metrics() map[string]Metric {
	if o != nil {
		return o.Metrics
	}

	return nil
}

// Package errorhandler normalizes connection-scoped errors, drives the
// per-connection circuit breakers, and selects and executes recovery actions.
package errorhandler

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/hydrogen-io/hydrogen/breaker"
	"github.com/hydrogen-io/hydrogen/logging"
)

const (
	DefaultCorrelationWindow = 5 * time.Second
)

var (
	ErrConnectionNotRegistered = errors.New("connection is not registered")
)

// RecoveryFunc executes a selected recovery action for a connection.  It is
// invoked without any handler lock held.
type RecoveryFunc func(connectionID string, action Action, err *EnhancedError) error

// StrategyFunc lets callers override recovery action selection.  Returning
// ActionNone defers to the handler's own selection.
type StrategyFunc func(err *EnhancedError) Action

// Event describes one handled error, as delivered to event listeners.
type Event struct {
	Error        *EnhancedError
	Action       Action
	BreakerState breaker.State
	Recovered    bool
}

// Listener receives error events.  Listeners are invoked synchronously but
// never under a handler lock.
type Listener func(Event)

// Stats is a snapshot of the handler's counters.
type Stats struct {
	TotalErrors   uint64
	ByCategory    map[Category]uint64
	BySeverity    map[Severity]uint64
	BreakerTrips  uint64
	RecoveryRuns  uint64
	RecoveryFails uint64
}

// Pattern is one aggregated error fingerprint with its occurrence count.
type Pattern struct {
	Fingerprint string
	Count       uint64
}

type connectionState struct {
	context ConnectionContext
	breaker *breaker.Breaker
	retry   *RetryPolicy
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(logger log.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRetryPolicy replaces the global retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(h *Handler) {
		h.retry = policy
	}
}

// WithRecovery sets the callback that executes recovery actions.
func WithRecovery(recovery RecoveryFunc) Option {
	return func(h *Handler) {
		h.recovery = recovery
	}
}

// WithStrategy sets the caller-supplied action selection override.
func WithStrategy(strategy StrategyFunc) Option {
	return func(h *Handler) {
		h.strategy = strategy
	}
}

// WithCorrelationWindow sets how long correlation entries are retained.
func WithCorrelationWindow(window time.Duration) Option {
	return func(h *Handler) {
		if window > 0 {
			h.correlationWindow = window
		}
	}
}

// WithBreakerOptions sets the options applied to each newly-registered
// connection's circuit breaker.
func WithBreakerOptions(options ...breaker.Option) Option {
	return func(h *Handler) {
		h.breakerOptions = options
	}
}

// Handler is the unified error handler.  Connections, correlation entries,
// and statistics are guarded by separate locks; no lock is held across a
// callback invocation.
type Handler struct {
	logger   log.Logger
	retry    RetryPolicy
	recovery RecoveryFunc
	strategy StrategyFunc

	correlationWindow time.Duration
	breakerOptions    []breaker.Option

	connectionLock sync.RWMutex
	connections    map[string]*connectionState

	correlationLock sync.Mutex
	correlation     map[string][]string
	correlationAge  map[string]time.Time

	statsLock sync.Mutex
	stats     Stats
	patterns  map[string]uint64

	listenerLock sync.RWMutex
	listeners    []Listener
}

// New constructs a Handler.
func New(options ...Option) *Handler {
	h := &Handler{
		logger:            logging.DefaultLogger(),
		retry:             DefaultRetryPolicy(),
		correlationWindow: DefaultCorrelationWindow,
		connections:       make(map[string]*connectionState),
		correlation:       make(map[string][]string),
		correlationAge:    make(map[string]time.Time),
		patterns:          make(map[string]uint64),
	}

	h.stats.ByCategory = make(map[Category]uint64)
	h.stats.BySeverity = make(map[Severity]uint64)

	for _, o := range options {
		o(h)
	}

	return h
}

// AddListener registers an error event listener.
func (h *Handler) AddListener(listener Listener) {
	h.listenerLock.Lock()
	defer h.listenerLock.Unlock()
	h.listeners = append(h.listeners, listener)
}

// RegisterConnection begins tracking a connection.  Each connection owns
// its circuit breaker and may carry a retry policy override.
func (h *Handler) RegisterConnection(ctx ConnectionContext) {
	h.connectionLock.Lock()
	defer h.connectionLock.Unlock()
	h.connections[ctx.ConnectionID] = &connectionState{
		context: ctx,
		breaker: breaker.New(h.breakerOptions...),
	}
}

// UnregisterConnection stops tracking a connection.
func (h *Handler) UnregisterConnection(connectionID string) {
	h.connectionLock.Lock()
	defer h.connectionLock.Unlock()
	delete(h.connections, connectionID)
}

// UpdateConnectionActivity stamps the connection's last activity time.
func (h *Handler) UpdateConnectionActivity(connectionID string) {
	h.connectionLock.Lock()
	defer h.connectionLock.Unlock()
	if state, ok := h.connections[connectionID]; ok {
		state.context.LastActivity = time.Now()
	}
}

// SetConnectionRetryPolicy installs a per-connection retry policy override.
func (h *Handler) SetConnectionRetryPolicy(connectionID string, policy RetryPolicy) error {
	h.connectionLock.Lock()
	defer h.connectionLock.Unlock()
	state, ok := h.connections[connectionID]
	if !ok {
		return ErrConnectionNotRegistered
	}

	state.retry = &policy
	return nil
}

// Breaker exposes the circuit breaker owned by a connection, or nil if the
// connection is not registered.
func (h *Handler) Breaker(connectionID string) *breaker.Breaker {
	h.connectionLock.RLock()
	defer h.connectionLock.RUnlock()
	if state, ok := h.connections[connectionID]; ok {
		return state.breaker
	}

	return nil
}

// RetryPolicyFor returns the retry policy in effect for a connection:
// the per-connection override if set, else the global policy.
func (h *Handler) RetryPolicyFor(connectionID string) RetryPolicy {
	h.connectionLock.RLock()
	defer h.connectionLock.RUnlock()
	if state, ok := h.connections[connectionID]; ok && state.retry != nil {
		return *state.retry
	}

	return h.retry
}

// HandleError is the main entry point.  The error is normalized to an
// EnhancedError, the connection's circuit breaker is consulted (recovery is
// skipped while the breaker is OPEN), a recovery action is selected and
// executed, and statistics, correlation, and events are updated.
func (h *Handler) HandleError(connectionID string, err error) *EnhancedError {
	enhanced := Classify(err)

	h.connectionLock.RLock()
	state, registered := h.connections[connectionID]
	h.connectionLock.RUnlock()

	var (
		action       = ActionNone
		breakerState = breaker.Closed
		recovered    bool
	)

	if registered {
		enhanced.Context = state.context
		state.breaker.RecordFailure()
		breakerState = state.breaker.State()

		if breakerState != breaker.Open || state.breaker.CanAttempt() {
			action = h.selectAction(enhanced)
		}
	}

	h.recordStats(enhanced, breakerState)
	h.recordCorrelation(enhanced)

	if action != ActionNone && h.recovery != nil {
		h.statsLock.Lock()
		h.stats.RecoveryRuns++
		h.statsLock.Unlock()

		if recoveryErr := h.recovery(connectionID, action, enhanced); recoveryErr != nil {
			h.statsLock.Lock()
			h.stats.RecoveryFails++
			h.statsLock.Unlock()

			h.logger.Log(
				level.Key(), level.ErrorValue(),
				logging.MessageKey(), "recovery action failed",
				"connectionId", connectionID,
				"action", action.String(),
				logging.ErrorKey(), recoveryErr,
			)
		} else {
			recovered = true
		}
	}

	h.dispatch(Event{
		Error:        enhanced,
		Action:       action,
		BreakerState: breakerState,
		Recovered:    recovered,
	})

	return enhanced
}

// HandleSuccess notes a successful operation on a connection, feeding its
// circuit breaker.
func (h *Handler) HandleSuccess(connectionID string) {
	h.connectionLock.RLock()
	state, ok := h.connections[connectionID]
	h.connectionLock.RUnlock()

	if ok {
		state.breaker.RecordSuccess()
	}
}

// selectAction picks the recovery action for an error: a caller strategy
// wins, then the error's own recommendation, then the category defaults.
func (h *Handler) selectAction(err *EnhancedError) Action {
	if h.strategy != nil {
		if action := h.strategy(err); action != ActionNone {
			return action
		}
	}

	if err.RecommendedAction != ActionNone {
		return err.RecommendedAction
	}

	switch err.Category {
	case CategoryConnection:
		if err.Severity >= SeverityMedium {
			return ActionReconnect
		}

		return ActionRetry

	case CategoryTimeout:
		return ActionRetry

	case CategoryMessage:
		return ActionNone

	case CategoryNetwork:
		return ActionReconnect

	case CategoryAuthentication:
		return ActionTerminate

	case CategoryProtocol:
		if err.Severity >= SeverityHigh {
			return ActionReconnect
		}

		return ActionReset

	default:
		return ActionRetry
	}
}

// tripsBreaker is the statistics-only trigger condition for circuit
// breaker involvement.
func tripsBreaker(err *EnhancedError) bool {
	switch err.Category {
	case CategoryConnection:
		return err.Severity >= SeverityHigh
	case CategoryNetwork:
		return err.Severity >= SeverityMedium
	case CategoryTimeout:
		return err.Severity >= SeverityHigh
	default:
		return false
	}
}

func (h *Handler) recordStats(err *EnhancedError, state breaker.State) {
	h.statsLock.Lock()
	defer h.statsLock.Unlock()

	h.stats.TotalErrors++
	h.stats.ByCategory[err.Category]++
	h.stats.BySeverity[err.Severity]++
	h.patterns[err.Fingerprint()]++

	if tripsBreaker(err) && state == breaker.Open {
		h.stats.BreakerTrips++
	}
}

func (h *Handler) recordCorrelation(err *EnhancedError) {
	if len(err.CorrelationID) == 0 {
		return
	}

	h.correlationLock.Lock()
	defer h.correlationLock.Unlock()

	// opportunistic sweep of expired entries
	cutoff := time.Now().Add(-h.correlationWindow)
	for id, age := range h.correlationAge {
		if age.Before(cutoff) {
			delete(h.correlationAge, id)
			delete(h.correlation, id)
		}
	}

	err.ErrorChain = append([]string{}, h.correlation[err.CorrelationID]...)
	h.correlation[err.CorrelationID] = append(h.correlation[err.CorrelationID], err.ErrorID)
	h.correlationAge[err.CorrelationID] = time.Now()
}

// CorrelatedErrors returns the ordered error ids recorded for a correlation id.
func (h *Handler) CorrelatedErrors(correlationID string) []string {
	h.correlationLock.Lock()
	defer h.correlationLock.Unlock()
	return append([]string{}, h.correlation[correlationID]...)
}

// Stats returns a snapshot of the handler's counters.
func (h *Handler) Stats() Stats {
	h.statsLock.Lock()
	defer h.statsLock.Unlock()

	snapshot := h.stats
	snapshot.ByCategory = make(map[Category]uint64, len(h.stats.ByCategory))
	for k, v := range h.stats.ByCategory {
		snapshot.ByCategory[k] = v
	}

	snapshot.BySeverity = make(map[Severity]uint64, len(h.stats.BySeverity))
	for k, v := range h.stats.BySeverity {
		snapshot.BySeverity[k] = v
	}

	return snapshot
}

// TopErrorPatterns returns the most frequent error fingerprints, most
// frequent first, up to limit entries.
func (h *Handler) TopErrorPatterns(limit int) []Pattern {
	h.statsLock.Lock()
	patterns := make([]Pattern, 0, len(h.patterns))
	for fingerprint, count := range h.patterns {
		patterns = append(patterns, Pattern{Fingerprint: fingerprint, Count: count})
	}
	h.statsLock.Unlock()

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}

		return patterns[i].Fingerprint < patterns[j].Fingerprint
	})

	if limit > 0 && len(patterns) > limit {
		patterns = patterns[:limit]
	}

	return patterns
}

func (h *Handler) dispatch(event Event) {
	h.listenerLock.RLock()
	listeners := append([]Listener{}, h.listeners...)
	h.listenerLock.RUnlock()

	for _, listener := range listeners {
		listener(event)
	}
}

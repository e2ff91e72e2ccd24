package workflow

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState is the state of a step breaker.
type CircuitState int

const (
	// CircuitClosed lets invocations through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects invocations until the recovery timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets a limited number of probes through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the per-step breakers.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// RecoveryTimeout is how long an open breaker waits before probing.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	// HalfOpenMaxProbes is the number of probes allowed while half-open.
	HalfOpenMaxProbes int `yaml:"half_open_max_probes" json:"half_open_max_probes"`
	// SuccessThreshold is the number of probe successes that closes the breaker.
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
}

// DefaultCircuitBreakerConfig returns breaker defaults suited to LLM-backed steps.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 3,
		SuccessThreshold:  2,
	}
}

// CircuitBreaker short-circuits a step that keeps failing, typically because
// its model endpoint is down. It is shared by all fan-out branches of the step.
type CircuitBreaker struct {
	step            string
	config          CircuitBreakerConfig
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time
	probes          int
	now             func() time.Time
	logger          *zap.Logger
	mu              sync.Mutex
}

// NewCircuitBreaker creates a closed breaker for step.
func NewCircuitBreaker(step string, config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		step:   step,
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
		logger: logger.With(zap.String("component", "circuit_breaker"), zap.String("step", step)),
	}
}

// Allow returns nil when an invocation may proceed, or an error wrapping
// ErrCircuitOpen.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		wait := cb.config.RecoveryTimeout - cb.now().Sub(cb.lastFailureTime)
		if wait > 0 {
			return fmt.Errorf("%w: step %s failed %d times, retry after %v", ErrCircuitOpen, cb.step, cb.failures, wait)
		}
		cb.transitionTo(CircuitHalfOpen, "recovery timeout elapsed")
		cb.probes = 1
		cb.successes = 0
		return nil
	case CircuitHalfOpen:
		if cb.probes < cb.config.HalfOpenMaxProbes {
			cb.probes++
			return nil
		}
		return fmt.Errorf("%w: step %s is probing (%d probes in flight)", ErrCircuitOpen, cb.step, cb.probes)
	default:
		return nil
	}
}

// RecordSuccess records a successful invocation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed, fmt.Sprintf("%d successful probes", cb.successes))
			cb.failures = 0
			cb.successes = 0
			cb.probes = 0
		}
	}
}

// RecordFailure records a failed invocation.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen, fmt.Sprintf("%d consecutive failures", cb.failures))
		}
	case CircuitHalfOpen:
		cb.successes = 0
		cb.transitionTo(CircuitOpen, "probe failed")
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// must hold cb.mu
func (cb *CircuitBreaker) transitionTo(next CircuitState, reason string) {
	prev := cb.state
	cb.state = next
	cb.logger.Info("circuit breaker state change",
		zap.String("old_state", prev.String()),
		zap.String("new_state", next.String()),
		zap.String("reason", reason),
		zap.Int("failures", cb.failures))
}

// CircuitBreakerRegistry holds one breaker per step for the lifetime of an Executor.
type CircuitBreakerRegistry struct {
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewCircuitBreakerRegistry creates an empty registry.
func NewCircuitBreakerRegistry(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		logger:   logger,
	}
}

// Get returns the breaker of step, creating it on first use.
func (r *CircuitBreakerRegistry) Get(step string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[step]
	if !ok {
		cb = NewCircuitBreaker(step, r.config, r.logger)
		r.breakers[step] = cb
	}
	return cb
}

// States returns the state of every breaker created so far.
func (r *CircuitBreakerRegistry) States() map[string]CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make(map[string]CircuitState, len(r.breakers))
	for step, cb := range r.breakers {
		states[step] = cb.State()
	}
	return states
}

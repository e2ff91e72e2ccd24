package workflow

import (
	"fmt"
	"time"
)

// DefaultMaxSteps bounds the number of units a run may execute.
const DefaultMaxSteps = 1000

// PartialPolicy decides what a run does when a batch has failed branches.
type PartialPolicy string

const (
	// PartialContinue merges the successful branches, records a warning and goes on.
	PartialContinue PartialPolicy = "continue"
	// PartialAbort stops the run with the PartialFailure as error.
	PartialAbort PartialPolicy = "abort"
)

// StepParams are per-step execution parameters.
type StepParams struct {
	// MaxConcurrency bounds the branches of a fan-out over this step. 0 uses the run default.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
	// MaxRepairAttempts overrides a guard's attempt bound when set on the guard name.
	MaxRepairAttempts int `yaml:"max_repair_attempts" json:"max_repair_attempts"`
	// Timeout bounds a single invocation.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// MaxRetries re-invokes a failing step. Contract violations are never retried.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryDelay is the base delay between retries, doubled on every attempt.
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// Options configures an Executor.
type Options struct {
	MaxSteps       int
	MaxConcurrency int
	// Deadline bounds the whole run. 0 means no deadline.
	Deadline      time.Duration
	PartialPolicy PartialPolicy
	Steps         map[string]StepParams
	// CircuitBreaker enables per-step breakers when set.
	CircuitBreaker *CircuitBreakerConfig
}

// DefaultOptions returns the default executor options.
func DefaultOptions() Options {
	return Options{
		MaxSteps:      DefaultMaxSteps,
		PartialPolicy: PartialContinue,
	}
}

// Validate checks option values.
func (o Options) Validate() error {
	if o.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}
	if o.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must be non-negative")
	}
	if o.Deadline < 0 {
		return fmt.Errorf("deadline must be non-negative")
	}
	switch o.PartialPolicy {
	case "", PartialContinue, PartialAbort:
	default:
		return fmt.Errorf("unknown partial policy %q", o.PartialPolicy)
	}
	for name, p := range o.Steps {
		if p.MaxConcurrency < 0 || p.MaxRepairAttempts < 0 || p.MaxRetries < 0 || p.Timeout < 0 || p.RetryDelay < 0 {
			return fmt.Errorf("step %s: parameters must be non-negative", name)
		}
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.MaxSteps == 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	if o.PartialPolicy == "" {
		o.PartialPolicy = PartialContinue
	}
	return o
}

func (o Options) params(step string) StepParams {
	return o.Steps[step]
}

func (o Options) concurrencyFor(step string) int {
	if p := o.Steps[step]; p.MaxConcurrency > 0 {
		return p.MaxConcurrency
	}
	return o.MaxConcurrency
}

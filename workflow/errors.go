package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode classifies workflow errors.
type ErrorCode string

// Structural codes abort the run. Content codes are contained at branch or guard level.
const (
	ErrMissingDependency ErrorCode = "MISSING_DEPENDENCY"
	ErrFieldConflict     ErrorCode = "FIELD_CONFLICT"
	ErrContractViolation ErrorCode = "CONTRACT_VIOLATION"
	ErrMaxStepsExceeded  ErrorCode = "MAX_STEPS_EXCEEDED"
	ErrInvalidGraph      ErrorCode = "INVALID_GRAPH"

	ErrStepFailure       ErrorCode = "STEP_FAILURE"
	ErrPartialFailure    ErrorCode = "PARTIAL_FAILURE"
	ErrValidationWarning ErrorCode = "VALIDATION_WARNING"

	// Run-level interruption: the run deadline passed or the caller canceled.
	ErrTimeout  ErrorCode = "TIMEOUT"
	ErrCanceled ErrorCode = "CANCELED"
)

// Sentinels for errors.Is.
var (
	ErrorMissingDependency = &Error{Code: ErrMissingDependency}
	ErrorFieldConflict     = &Error{Code: ErrFieldConflict}
	ErrorContractViolation = &Error{Code: ErrContractViolation}
	ErrorMaxStepsExceeded  = &Error{Code: ErrMaxStepsExceeded}
	ErrorInvalidGraph      = &Error{Code: ErrInvalidGraph}
	ErrorStepFailure       = &Error{Code: ErrStepFailure}
	ErrorPartialFailure    = &Error{Code: ErrPartialFailure}
	ErrorTimeout           = &Error{Code: ErrTimeout}
	ErrorCanceled          = &Error{Code: ErrCanceled}
)

// ErrCircuitOpen is returned as the cause of a StepFailure when the step's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Error is a structured workflow error carrying the offending step and field names.
type Error struct {
	Code    ErrorCode `json:"code"`
	Step    string    `json:"step,omitempty"`
	Field   string    `json:"field,omitempty"`
	Fields  []string  `json:"fields,omitempty"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Code))
	b.WriteString("]")
	if e.Step != "" {
		b.WriteString(" step=")
		b.WriteString(e.Step)
	}
	if e.Field != "" {
		b.WriteString(" field=")
		b.WriteString(e.Field)
	}
	if len(e.Fields) > 0 {
		b.WriteString(" fields=")
		b.WriteString(strings.Join(e.Fields, ","))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so callers can use the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Structural reports whether the error always aborts a run.
func (e *Error) Structural() bool {
	switch e.Code {
	case ErrMissingDependency, ErrFieldConflict, ErrContractViolation, ErrMaxStepsExceeded, ErrInvalidGraph:
		return true
	default:
		return false
	}
}

func newError(code ErrorCode, step, message string) *Error {
	return &Error{Code: code, Step: step, Message: message}
}

func missingDependency(step string, fields []string) *Error {
	return &Error{
		Code:    ErrMissingDependency,
		Step:    step,
		Fields:  fields,
		Message: "declared inputs are not present in state",
	}
}

func fieldConflict(step, field, message string) *Error {
	return &Error{Code: ErrFieldConflict, Step: step, Field: field, Message: message}
}

// interrupted classifies a done run context.
func interrupted(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: ErrTimeout, Message: "run deadline exceeded", Cause: err}
	}
	return &Error{Code: ErrCanceled, Message: "run canceled", Cause: err}
}

func stepFailure(step string, cause error) *Error {
	return &Error{Code: ErrStepFailure, Step: step, Message: "step failed", Cause: cause}
}

// GetErrorCode extracts the code of a workflow error, or "" for foreign errors.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var pf *PartialFailure
	if errors.As(err, &pf) {
		return ErrPartialFailure
	}
	return ""
}

// IsStructural reports whether err is a fatal graph or state error.
func IsStructural(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Structural()
	}
	return false
}

// PartialFailure reports a parallel batch where at least one branch failed.
// Successful branch deltas are kept in Succeeded.
type PartialFailure struct {
	Step      string           `json:"step"`
	Converge  string           `json:"converge"`
	Succeeded []BranchResult   `json:"-"`
	Failed    []string         `json:"failed"`
	Errors    map[string]error `json:"-"`
}

// Error implements the error interface.
func (p *PartialFailure) Error() string {
	failed := append([]string(nil), p.Failed...)
	sort.Strings(failed)
	return fmt.Sprintf("[%s] batch %s: %d of %d branches failed: %s",
		ErrPartialFailure, p.Step, len(p.Failed), len(p.Failed)+len(p.Succeeded), strings.Join(failed, ","))
}

// Is lets errors.Is(err, ErrorPartialFailure) match.
func (p *PartialFailure) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == ErrPartialFailure
}

// Unwrap exposes the branch errors.
func (p *PartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(p.Errors))
	for _, id := range p.Failed {
		if err, ok := p.Errors[id]; ok {
			errs = append(errs, err)
		}
	}
	return errs
}

// Warning is a non-fatal marker recorded in state.
type Warning struct {
	Code     ErrorCode `json:"code"`
	Step     string    `json:"step"`
	Fields   []string  `json:"fields,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	Message  string    `json:"message"`
}

func (w Warning) String() string {
	if len(w.Fields) == 0 {
		return fmt.Sprintf("[%s] %s: %s", w.Code, w.Step, w.Message)
	}
	return fmt.Sprintf("[%s] %s (%s): %s", w.Code, w.Step, strings.Join(w.Fields, ","), w.Message)
}

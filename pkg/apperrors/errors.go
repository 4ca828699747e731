package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrRoutingRejected  = errors.New("routing rejected")
	ErrValidationFailed = errors.New("validation failed")
	ErrExecution        = errors.New("execution failed")
	ErrLLMUnavailable   = errors.New("language model unavailable")
)

// Stage names a pipeline stage for error reporting and telemetry.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageRouting    Stage = "routing"
	StageValidation Stage = "validation"
	StageExecution  Stage = "execution"
	StageFormatting Stage = "formatting"
)

// PipelineError is a terminal failure of one pipeline stage.
// Code is the internal reason code; it is only shown to debug requests.
type PipelineError struct {
	Stage Stage
	Code  string
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Code, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError builds a PipelineError wrapping err.
func NewPipelineError(stage Stage, code string, err error) *PipelineError {
	return &PipelineError{Stage: stage, Code: code, Err: err}
}

// ExecutionKind classifies executor failures.
type ExecutionKind string

const (
	ExecutionTimeout          ExecutionKind = "timeout"
	ExecutionTooManyRows      ExecutionKind = "too_many_rows"
	ExecutionStore            ExecutionKind = "store_error"
	ExecutionInvalidParameter ExecutionKind = "invalid_parameter"
)

// ExecutionError is returned by the query executor.
type ExecutionError struct {
	Kind ExecutionKind
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("execution %s", e.Kind)
	}
	return fmt.Sprintf("execution %s: %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrExecution) hold for every ExecutionError.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

// AsExecutionError returns the ExecutionError in err's chain, if any.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

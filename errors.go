package agenticrag

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeDuplicateTool      = "DUPLICATE_TOOL"
	ErrCodeToolNotFound       = "TOOL_NOT_FOUND"
	ErrCodeToolExecution      = "TOOL_EXECUTION_ERROR"
	ErrCodeTimeout            = "EXECUTION_TIMEOUT"
	ErrCodeUnavailable        = "UNAVAILABLE"
	ErrCodeMalformedAnalysis  = "MALFORMED_ANALYSIS"
	ErrCodeBackendUnreachable = "BACKEND_UNREACHABLE"
	ErrCodeSynthesis          = "SYNTHESIS_ERROR"
	ErrCodeActuation          = "ACTUATION_ERROR"
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrCodeCancelled          = "EXECUTION_CANCELLED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// AgentError is the error type carried across the orchestration pipeline.
// Code is machine readable; Stage names the pipeline phase that produced it.
type AgentError struct {
	Code    string
	Message string
	Stage   string
	Cause   error
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error, allowing for error chaining.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// NewError creates a new AgentError.
func NewError(code, stage, message string, cause error) *AgentError {
	return &AgentError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// Specific error constructors

func NewValidationError(stage, message string, cause error) *AgentError {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewDuplicateToolError(toolName string) *AgentError {
	return NewError(ErrCodeDuplicateTool, "registry", fmt.Sprintf("tool '%s' is already registered", toolName), nil)
}

func NewToolNotFoundError(stage, toolName string) *AgentError {
	return NewError(ErrCodeToolNotFound, stage, fmt.Sprintf("tool '%s' not found", toolName), nil)
}

func NewToolExecutionError(stage, toolName string, cause error) *AgentError {
	return NewError(ErrCodeToolExecution, stage, fmt.Sprintf("execution failed for tool '%s'", toolName), cause)
}

func NewTimeoutError(stage, toolName string) *AgentError {
	return NewError(ErrCodeTimeout, stage, fmt.Sprintf("tool '%s' timed out", toolName), nil)
}

func NewUnavailableError(stage, what string, cause error) *AgentError {
	return NewError(ErrCodeUnavailable, stage, fmt.Sprintf("%s is unavailable", what), cause)
}

func NewMalformedAnalysisError(message string, cause error) *AgentError {
	return NewError(ErrCodeMalformedAnalysis, "analysis", message, cause)
}

func NewBackendUnreachableError(stage string, cause error) *AgentError {
	return NewError(ErrCodeBackendUnreachable, stage, "language model backend is unreachable", cause)
}

func NewSynthesisError(cause error) *AgentError {
	return NewError(ErrCodeSynthesis, "synthesis", "failed to synthesize final reply", cause)
}

func NewActuationError(site, pump string, cause error) *AgentError {
	return NewError(ErrCodeActuation, "automation", fmt.Sprintf("actuation failed for pump '%s' at site '%s'", pump, site), cause)
}

func NewConfigurationError(message string, cause error) *AgentError {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *AgentError {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewInternalError(stage, message string, cause error) *AgentError {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// IsAgentError reports whether err is (or wraps) an AgentError.
func IsAgentError(err error) bool {
	var ae *AgentError
	return errors.As(err, &ae)
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code string) bool {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// IsBackendUnreachable reports whether err means the language model backend
// itself is down. This is the only error class that fails a whole request.
func IsBackendUnreachable(err error) bool {
	return HasCode(err, ErrCodeBackendUnreachable)
}

// IsUnavailable reports whether err means a collaborator (hardware, storage,
// forecast) could not be reached.
func IsUnavailable(err error) bool {
	return HasCode(err, ErrCodeUnavailable)
}

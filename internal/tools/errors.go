package tools

import (
	"errors"
	"fmt"
	"strings"
)

// DuplicateToolError is returned when a tool name is registered twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool already registered: %s", e.Name)
}

// UnknownToolError is returned when a proposed tool is not registered.
type UnknownToolError struct {
	Name      string
	Available []string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q; available tools: %s", e.Name, strings.Join(e.Available, ", "))
}

// FieldTypeError describes one mistyped argument.
type FieldTypeError struct {
	Field string
	Want  ArgType
	Got   string
}

// SchemaViolationError lists the missing and mistyped arguments of a call.
type SchemaViolationError struct {
	Tool     string
	Missing  []string
	Mistyped []FieldTypeError
}

func (e *SchemaViolationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required: "+strings.Join(e.Missing, ", "))
	}
	for _, m := range e.Mistyped {
		parts = append(parts, fmt.Sprintf("%s must be %s, got %s", m.Field, m.Want, m.Got))
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(parts, "; "))
}

// FailureReason classifies why a capability failed.
type FailureReason string

const (
	ReasonCapability  FailureReason = "capability"
	ReasonTimeout     FailureReason = "timeout"
	ReasonExit        FailureReason = "exit"
	ReasonNetwork     FailureReason = "network"
	ReasonBlocked     FailureReason = "blocked"
	ReasonPermission  FailureReason = "permission"
	ReasonPanic       FailureReason = "panic"
	ReasonUnknownTool FailureReason = "unknown_tool"
	ReasonSchema      FailureReason = "schema_violation"
	ReasonDenied      FailureReason = "denied"
	ReasonSkipped     FailureReason = "skipped"
)

// ExecutionError is a classified capability failure.
type ExecutionError struct {
	Tool    string
	Reason  FailureReason
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Fail builds an ExecutionError.
func Fail(reason FailureReason, format string, args ...any) error {
	return &ExecutionError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under reason.
func Wrap(reason FailureReason, err error, format string, args ...any) error {
	return &ExecutionError{Reason: reason, Message: fmt.Sprintf(format, args...), Err: err}
}

// ReasonOf extracts the failure reason of err, defaulting to capability.
func ReasonOf(err error) FailureReason {
	var execErr *ExecutionError
	if errors.As(err, &execErr) && execErr.Reason != "" {
		return execErr.Reason
	}
	return ReasonCapability
}

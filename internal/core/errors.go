package core

import (
	"errors"
	"fmt"
)

// Code identifies a stable error category. The gateway maps codes to
// API responses; the controller uses them to decide whether an error
// terminates a mission or degrades to an observation.
type Code string

const (
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeRoutingFailed    Code = "ROUTING_FAILED"
	CodeController       Code = "CONTROLLER_FAILED"
	CodeMaxIterations    Code = "MAX_ITERATIONS_EXCEEDED"
	CodeBudgetExceeded   Code = "BUDGET_EXCEEDED"
	CodeSecurity         Code = "SECURITY_VIOLATION"
	CodeToolNotFound     Code = "TOOL_NOT_FOUND"
	CodeToolExecution    Code = "TOOL_EXECUTION"
	CodeMcpAdapter       Code = "MCP_ADAPTER"
	CodeStorage          Code = "STORAGE"
	CodeGovernance       Code = "GOVERNANCE"
	CodeModelProvider    Code = "MODEL_PROVIDER"
	CodeAllProvidersDown Code = "ALL_PROVIDERS_UNAVAILABLE"
	CodeTemplate         Code = "TEMPLATE"
	CodeTimeout          Code = "TIMEOUT"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// Error is the shared error type across the execution plane.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may safely retry the operation.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeTimeout, CodeModelProvider, CodeAllProvidersDown, CodeStorage:
		return true
	}
	return false
}

func newErr(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func InvalidRequest(format string, args ...any) *Error {
	return newErr(CodeInvalidRequest, format, args...)
}

func Controller(format string, args ...any) *Error {
	return newErr(CodeController, format, args...)
}

func Storage(format string, args ...any) *Error {
	return newErr(CodeStorage, format, args...)
}

func Governance(format string, args ...any) *Error {
	return newErr(CodeGovernance, format, args...)
}

func ModelProvider(format string, args ...any) *Error {
	return newErr(CodeModelProvider, format, args...)
}

func ToolExecution(format string, args ...any) *Error {
	return newErr(CodeToolExecution, format, args...)
}

func McpAdapter(format string, args ...any) *Error {
	return newErr(CodeMcpAdapter, format, args...)
}

func Timeout(format string, args ...any) *Error {
	return newErr(CodeTimeout, format, args...)
}

func Internal(format string, args ...any) *Error {
	return newErr(CodeInternal, format, args...)
}

// SecurityViolation terminates the current iteration when returned by a
// guardrail or policy check.
func SecurityViolation(format string, args ...any) *Error {
	return newErr(CodeSecurity, format, args...)
}

// ToolNotFoundError is returned by registries when no child owns a name.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// BudgetExceededError carries the usage that tripped the limit.
type BudgetExceededError struct {
	Used  uint64
	Limit uint64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: used %d, limit %d", e.Used, e.Limit)
}

// MaxIterationsError is returned when the loop exhausts without a final answer.
type MaxIterationsError struct {
	Iterations int
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("loop exceeded max iterations: %d", e.Iterations)
}

// CodeOf extracts the stable code from any error in a chain.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	var tnf *ToolNotFoundError
	if errors.As(err, &tnf) {
		return CodeToolNotFound
	}
	var be *BudgetExceededError
	if errors.As(err, &be) {
		return CodeBudgetExceeded
	}
	var me *MaxIterationsError
	if errors.As(err, &me) {
		return CodeMaxIterations
	}
	return CodeInternal
}

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a capsules error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrInvalidName        ErrorCode = "INVALID_NAME"
	ErrNameAlreadyExists  ErrorCode = "NAME_ALREADY_EXISTS"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrTemplateNotFound   ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrInvalidPortMapping ErrorCode = "INVALID_PORT_MAPPING"
	ErrUnknownBaseImage   ErrorCode = "UNKNOWN_BASE_IMAGE"
	ErrCommandFailed      ErrorCode = "COMMAND_FAILED"
	ErrIncompatible       ErrorCode = "INCOMPATIBLE_VERSION"
	ErrLivenessTimeout    ErrorCode = "LIVENESS_TIMEOUT"
	ErrHasDependents      ErrorCode = "HAS_DEPENDENTS"
	ErrBusy               ErrorCode = "BUSY"
	ErrInternal           ErrorCode = "INTERNAL"
)

// Kind groups error codes by how a caller should react to them.
type Kind string

const (
	KindValidation Kind = "validation" // detected pre-flight, nothing was changed
	KindProcess    Kind = "process"    // external process failed, partial state possible
	KindTimeout    Kind = "timeout"    // liveness bound exceeded, retry is reasonable
	KindIntegrity  Kind = "integrity"  // referential integrity would be violated
	KindBusy       Kind = "busy"       // another operation is pending, nothing was changed
	KindInternal   Kind = "internal"
)

// CapsuleError represents a structured error with code, kind, and details.
type CapsuleError struct {
	Code    ErrorCode
	Kind    Kind
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *CapsuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a validation error for bad parameters.
func NewInvalidRequest(msg string) *CapsuleError {
	return &CapsuleError{
		Code:    ErrInvalidRequest,
		Kind:    KindValidation,
		Message: msg,
	}
}

// NewInvalidName creates a validation error for names that cannot be used
// as a runtime resource or directory name.
func NewInvalidName(name, reason string) *CapsuleError {
	return &CapsuleError{
		Code:    ErrInvalidName,
		Kind:    KindValidation,
		Message: fmt.Sprintf("invalid name %q: %s", name, reason),
		Details: map[string]any{"name": name},
	}
}

// NewNameAlreadyExists creates a validation error for name collisions.
// Templates and capsules share one namespace.
func NewNameAlreadyExists(name string) *CapsuleError {
	return &CapsuleError{
		Code:    ErrNameAlreadyExists,
		Kind:    KindValidation,
		Message: fmt.Sprintf("name %q is already used by a template or capsule", name),
		Details: map[string]any{"name": name},
	}
}

// NewNotFound creates a validation error for a missing template or capsule.
func NewNotFound(kind, name string) *CapsuleError {
	return &CapsuleError{
		Code:    ErrNotFound,
		Kind:    KindValidation,
		Message: fmt.Sprintf("%s not found: %s", kind, name),
		Details: map[string]any{"kind": kind, "name": name},
	}
}

// NewTemplateNotFound creates a validation error for a capsule whose template
// reference does not resolve.
func NewTemplateNotFound(name string, available []string) *CapsuleError {
	msg := fmt.Sprintf("template %q does not exist", name)
	if len(available) > 0 {
		msg += fmt.Sprintf(" (available: %s)", strings.Join(available, ", "))
	}
	return &CapsuleError{
		Code:    ErrTemplateNotFound,
		Kind:    KindValidation,
		Message: msg,
		Details: map[string]any{"template": name, "available": available},
	}
}

// NewInvalidPortMapping creates a validation error for a malformed port mapping.
func NewInvalidPortMapping(raw, reason string) *CapsuleError {
	return &CapsuleError{
		Code:    ErrInvalidPortMapping,
		Kind:    KindValidation,
		Message: fmt.Sprintf("invalid port mapping %q: %s (format: <1024-65535>:<1-65535>[/tcp|udp])", raw, reason),
		Details: map[string]any{"mapping": raw},
	}
}

// NewUnknownBaseImage creates a validation error for a base image without a recipe.
func NewUnknownBaseImage(name string, available []string) *CapsuleError {
	msg := fmt.Sprintf("base image %q not found", name)
	if len(available) > 0 {
		msg += fmt.Sprintf(" (available: %s)", strings.Join(available, ", "))
	}
	return &CapsuleError{
		Code:    ErrUnknownBaseImage,
		Kind:    KindValidation,
		Message: msg,
		Details: map[string]any{"base_image": name, "available": available},
	}
}

// NewCommandFailed creates a process error carrying the captured diagnostic text.
func NewCommandFailed(argv []string, diagnostic string) *CapsuleError {
	msg := diagnostic
	if msg == "" {
		msg = "command failed"
	}
	return &CapsuleError{
		Code:    ErrCommandFailed,
		Kind:    KindProcess,
		Message: msg,
		Details: map[string]any{"command": strings.Join(argv, " ")},
	}
}

// NewIncompatibleVersion creates a process error for an external tool with
// the wrong protocol version.
func NewIncompatibleVersion(tool, want, found string) *CapsuleError {
	return &CapsuleError{
		Code:    ErrIncompatible,
		Kind:    KindProcess,
		Message: fmt.Sprintf("%s version %s required, found: %s", tool, want, found),
		Details: map[string]any{"tool": tool, "found": found},
	}
}

// NewLivenessTimeout creates a timeout error for a bounded liveness poll.
func NewLivenessTimeout(operation, name string, bound fmt.Stringer) *CapsuleError {
	return &CapsuleError{
		Code:    ErrLivenessTimeout,
		Kind:    KindTimeout,
		Message: fmt.Sprintf("%s %s timed out after %s", operation, name, bound),
		Details: map[string]any{"operation": operation, "name": name},
	}
}

// NewHasDependents creates an integrity error listing the capsules that still
// reference a template.
func NewHasDependents(template string, dependents []string) *CapsuleError {
	return &CapsuleError{
		Code:    ErrHasDependents,
		Kind:    KindIntegrity,
		Message: fmt.Sprintf("template %q has dependent capsules: %s", template, strings.Join(dependents, ", ")),
		Details: map[string]any{"template": template, "dependents": dependents},
	}
}

// NewBusy creates an error for a request rejected because the single
// operation slot is taken.
func NewBusy() *CapsuleError {
	return &CapsuleError{
		Code:    ErrBusy,
		Kind:    KindBusy,
		Message: "another operation is pending, try again when it finishes",
	}
}

// NewInternal creates an error for unexpected internal failures.
func NewInternal(err error) *CapsuleError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &CapsuleError{
		Code:    ErrInternal,
		Kind:    KindInternal,
		Message: msg,
	}
}

// Is checks if an error is a CapsuleError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *CapsuleError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}

// KindOf returns the kind of err. Errors that are not CapsuleErrors are internal.
func KindOf(err error) Kind {
	var cErr *CapsuleError
	if stderrors.As(err, &cErr) {
		return cErr.Kind
	}
	return KindInternal
}

// Dependents returns the dependent capsule list carried by a HAS_DEPENDENTS error.
func Dependents(err error) []string {
	var cErr *CapsuleError
	if !stderrors.As(err, &cErr) || cErr.Code != ErrHasDependents {
		return nil
	}
	deps, _ := cErr.Details["dependents"].([]string)
	return deps
}

package lifecycle

import (
	stderrors "errors"

	"github.com/capsules-dev/capsules/internal/errors"
)

// Result is the uniform outcome of an operation.
type Result struct {
	Success    bool             `json:"success" yaml:"success"`
	Code       errors.ErrorCode `json:"code,omitempty" yaml:"code,omitempty"`
	Kind       errors.Kind      `json:"kind,omitempty" yaml:"kind,omitempty"`
	Message    string           `json:"message,omitempty" yaml:"message,omitempty"`
	Dependents []string         `json:"dependents,omitempty" yaml:"dependents,omitempty"`
}

// ResultOf converts an operation error into a Result. Errors that are not
// CapsuleErrors become INTERNAL.
func ResultOf(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	var cErr *errors.CapsuleError
	if !stderrors.As(err, &cErr) {
		cErr = errors.NewInternal(err)
	}
	return Result{
		Code:       cErr.Code,
		Kind:       cErr.Kind,
		Message:    cErr.Message,
		Dependents: errors.Dependents(cErr),
	}
}

// Err converts a Result back into an error, nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	details := map[string]any{}
	if len(r.Dependents) > 0 {
		details["dependents"] = r.Dependents
	}
	return &errors.CapsuleError{Code: r.Code, Kind: r.Kind, Message: r.Message, Details: details}
}

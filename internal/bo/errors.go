package bo

import (
	"errors"
	"fmt"
)

// Kind classifies an optimization error by the recovery policy that applies
// to it.
type Kind int

const (
	// KindUnknown is the zero value; errors of this kind carry no policy.
	KindUnknown Kind = iota
	// KindConfiguration marks invalid construction input. Fatal, raised
	// before any evaluation, never retried.
	KindConfiguration
	// KindIncompatibleModel marks an acquisition/model pairing that cannot
	// work (an MCMC-integrated acquisition over a point-estimate model).
	KindIncompatibleModel
	// KindInfeasibleRegion means constrained sampling exhausted its retry
	// budget without finding a feasible point.
	KindInfeasibleRegion
	// KindModelFit means a surrogate refit did not converge. The loop keeps
	// the previous fitted state and continues.
	KindModelFit
	// KindEvaluation means the user objective failed. The loop aborts and
	// the partial observation set is preserved.
	KindEvaluation
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindIncompatibleModel:
		return "incompatible_model"
	case KindInfeasibleRegion:
		return "infeasible_region"
	case KindModelFit:
		return "model_fit"
	case KindEvaluation:
		return "evaluation"
	default:
		return "unknown"
	}
}

// Error is the error type used throughout the optimization core. It carries
// a kind for the recovery policy plus operation and component context.
type Error struct {
	Kind      Kind
	Message   string
	Op        string
	Component string
	Err       error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	switch {
	case e.Component != "" && e.Op != "":
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	case e.Component != "":
		prefix = e.Component
	case e.Op != "":
		prefix = e.Op
	}

	msg := e.Message
	if e.Kind != KindUnknown {
		msg = fmt.Sprintf("[%s] %s", e.Kind, msg)
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates an error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewErrorf creates an error of the given kind with a formatted message.
func NewErrorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an existing error with additional context, preserving the
// kind of the innermost *Error when one is present. If err is nil, WrapError
// returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kindOf(err), Message: message, Err: err}
}

// WrapErrorf wraps an existing error with formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kindOf(err), Message: fmt.Sprintf(format, args...), Err: err}
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any error in the chain is an *Error of the given
// kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsConfigurationError reports whether err is a construction-time
// configuration failure.
func IsConfigurationError(err error) bool { return IsKind(err, KindConfiguration) }

// IsIncompatibleModelError reports whether err is an invalid
// acquisition/model pairing.
func IsIncompatibleModelError(err error) bool { return IsKind(err, KindIncompatibleModel) }

// IsInfeasibleRegionError reports whether err is a constrained-sampling
// failure.
func IsInfeasibleRegionError(err error) bool { return IsKind(err, KindInfeasibleRegion) }

// IsModelFitError reports whether err is a surrogate fit failure.
func IsModelFitError(err error) bool { return IsKind(err, KindModelFit) }

// IsEvaluationError reports whether err is an objective evaluation failure.
func IsEvaluationError(err error) bool { return IsKind(err, KindEvaluation) }

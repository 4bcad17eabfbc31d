package engine

import "fmt"

// ValidationError reports malformed or out-of-policy input. Mapped to HTTP 400.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) ValidationError {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError reports a lifecycle operation applied to a promise
// whose current status does not permit it. Mapped to HTTP 409.
type InvalidTransitionError struct {
	PromiseID string
	Status    string
	Op        string
	Reason    string
}

func (e InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s promise %s: %s", e.Op, e.PromiseID, e.Reason)
	}
	return fmt.Sprintf("cannot %s promise %s in status %s", e.Op, e.PromiseID, e.Status)
}

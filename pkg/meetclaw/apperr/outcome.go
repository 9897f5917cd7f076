package apperr

import "fmt"

// OutcomeStatus is the result class of a best-effort step.
type OutcomeStatus string

const (
	Succeeded OutcomeStatus = "succeeded"
	Degraded  OutcomeStatus = "degraded"
	Failed    OutcomeStatus = "failed"
)

// Outcome is returned by steps whose failure must not abort the caller,
// such as starting a recording or attaching the voice backend.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
	Err    error         `json:"-"`
}

// OK returns a succeeded outcome.
func OK() Outcome { return Outcome{Status: Succeeded} }

// Degrade returns a degraded outcome wrapping err.
func Degrade(err error, reason string) Outcome {
	return Outcome{Status: Degraded, Reason: reason, Err: err}
}

// Fail returns a failed outcome wrapping err.
func Fail(err error, reason string) Outcome {
	return Outcome{Status: Failed, Reason: reason, Err: err}
}

// FromError turns the error of a best-effort step into a degraded outcome.
func FromError(err error, reason string) Outcome {
	if err == nil {
		return OK()
	}
	return Degrade(err, reason)
}

func (o Outcome) Succeeded() bool { return o.Status == Succeeded }

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Status)
	}
	if o.Err != nil {
		return fmt.Sprintf("%s: %s: %v", o.Status, o.Reason, o.Err)
	}
	return fmt.Sprintf("%s: %s", o.Status, o.Reason)
}

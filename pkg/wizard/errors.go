package wizard

import "errors"

var (
	// ErrExited is returned by Back on the first step. The caller leaves
	// the flow.
	ErrExited = errors.New("wizard: exited")

	// ErrDone is returned by mutating calls once the flow has submitted.
	ErrDone = errors.New("wizard: already submitted")

	// ErrNotSubmitted is returned by Retry when there is no failed
	// submission to retry.
	ErrNotSubmitted = errors.New("wizard: no failed submission to retry")

	// ErrInvalidDefinition is returned by New for unusable definitions.
	ErrInvalidDefinition = errors.New("wizard: invalid definition")
)

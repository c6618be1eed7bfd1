package jobs

import "errors"

// ErrContract marks a programming-contract violation: malformed
// specs, an end instant before a start instant, polling a backend
// that only submits synchronously. Never retried.
var ErrContract = errors.New("contract violation")

// SubmissionError wraps any transport or backend failure encountered
// while submitting a job or while it executes. The underlying cause
// is carried for diagnostics only and its type never crosses this
// boundary otherwise.
type SubmissionError struct {
	JobID string
	Cause error
}

func (e *SubmissionError) Error() string {
	if e.JobID != "" {
		return "job " + e.JobID + " submission failed: " + e.Cause.Error()
	}
	return "job submission failed: " + e.Cause.Error()
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

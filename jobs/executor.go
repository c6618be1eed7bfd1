// Package jobs submits units of remote work against a live resource
// and determines their outcome, either synchronously or through the
// bounded polling protocol.
package jobs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yairfalse/perusta/journal"
	"github.com/yairfalse/perusta/retry"
	"github.com/yairfalse/perusta/telemetry"
	"github.com/yairfalse/perusta/types"
)

// SyncSubmitter is a backend whose submission call itself blocks
// until the remote side finishes, e.g. driving work over a command
// channel. The engine derives run time from its own clock.
type SyncSubmitter interface {
	RunJob(ctx context.Context, spec Spec) (stdout string, err error)
}

// PolledSubmitter is a backend where submission returns a job
// identifier immediately and completion is observed by repeated
// querying.
type PolledSubmitter interface {
	StartJob(ctx context.Context, spec Spec) (jobID string, err error)
	// CompletedJob reports Pending until the job resolves. A job
	// the backend reports as failed resolves to Failed wrapping a
	// *SubmissionError, never to a timeout.
	CompletedJob(ctx context.Context, jobID string) retry.Result[Result]
}

// DefaultPollInterval spaces completion queries when neither the
// spec nor the executor sets one.
const DefaultPollInterval = 5 * time.Second

// DefaultTimeout bounds a single job when the executor sets none.
const DefaultTimeout = 4 * time.Hour

// Executor submits jobs to one backend. The backend decides the
// execution mode by the submitter interface it implements; callers
// never choose.
type Executor struct {
	backend        interface{}
	baseProperties map[string]string
	pollInterval   time.Duration
	timeout        time.Duration
	clock          retry.Clock
	journal        *journal.Journal
	logger         *telemetry.Logger
}

// ExecutorOption configures an Executor at construction
type ExecutorOption func(*Executor)

// WithBaseProperties sets default job properties. Caller-supplied
// spec properties win on key collision.
func WithBaseProperties(props map[string]string) ExecutorOption {
	return func(e *Executor) { e.baseProperties = props }
}

// WithPollInterval sets the default completion-poll spacing
func WithPollInterval(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.pollInterval = d }
}

// WithTimeout bounds each submitted job
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithClock injects a clock for tests
func WithClock(c retry.Clock) ExecutorOption {
	return func(e *Executor) { e.clock = c }
}

// WithJournal records submission events to j
func WithJournal(j *journal.Journal) ExecutorOption {
	return func(e *Executor) { e.journal = j }
}

// NewExecutor wraps a backend that implements SyncSubmitter or
// PolledSubmitter (or both; the synchronous path wins on Submit).
func NewExecutor(backend interface{}, opts ...ExecutorOption) (*Executor, error) {
	switch backend.(type) {
	case SyncSubmitter, PolledSubmitter:
	default:
		return nil, fmt.Errorf("%w: backend implements neither submission mode", ErrContract)
	}
	e := &Executor{
		backend:      backend,
		pollInterval: DefaultPollInterval,
		timeout:      DefaultTimeout,
		clock:        retry.SystemClock(),
		logger:       telemetry.NewLogger("jobs"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Submit runs spec against the backend and returns its timing, or a
// *SubmissionError wrapping whatever went wrong underneath. The
// execution mode is the backend's choice, not the caller's.
func (e *Executor) Submit(ctx context.Context, spec Spec) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}
	spec.Properties = types.MergeProperties(e.baseProperties, spec.Properties)

	e.record(journal.EventSubmitted, spec)
	telemetry.CountJobSubmitted(ctx, string(spec.Kind))
	e.logger.WithContext(ctx).Info().
		Str("kind", string(spec.Kind)).
		Str("class", spec.ClassName).
		Msg("submitting job")

	var result Result
	var err error
	switch backend := e.backend.(type) {
	case SyncSubmitter:
		result, err = e.submitSync(ctx, backend, spec)
	case PolledSubmitter:
		result, err = e.submitPolled(ctx, backend, spec)
	}
	if err != nil {
		e.recordError(journal.EventFailed, err)
		e.logger.LogJobFailed(ctx, string(spec.Kind), err)
		return Result{}, err
	}

	e.record(journal.EventCompleted, result)
	e.logger.LogJobComplete(ctx, string(spec.Kind), result.RunTime.Seconds(), result.PendingTime.Seconds())
	telemetry.ObserveJobDuration(ctx, string(spec.Kind), result.WallTime())
	return result, nil
}

// DistributedCopy copies data between filesystems with a distributed
// job on the cluster, the one job shape every backend reuses.
func (e *Executor) DistributedCopy(ctx context.Context, source, destination string, properties map[string]string) (Result, error) {
	return e.Submit(ctx, Spec{
		Kind:       KindHadoop,
		ClassName:  DistCpClass,
		Args:       []string{source, destination},
		Properties: properties,
	})
}

// WaitForJob polls the backend for jobID's completion, spaced by
// pollInterval, until a definitive result or timeout. Timeout yields
// a *retry.TimeoutError, distinct from a job failure: the job's true
// state is then unknown. Only valid for polled backends.
func (e *Executor) WaitForJob(ctx context.Context, jobID string, timeout, pollInterval time.Duration) (Result, error) {
	backend, ok := e.backend.(PolledSubmitter)
	if !ok {
		return Result{}, fmt.Errorf("%w: backend submits synchronously, completion cannot be polled", ErrContract)
	}
	policy := retry.Policy{
		Timeout:      timeout,
		PollInterval: pollInterval,
		Clock:        e.clock,
	}
	return retry.Do(ctx, policy, func(ctx context.Context) retry.Result[Result] {
		telemetry.CountPollAttempt(ctx)
		return backend.CompletedJob(ctx, jobID)
	})
}

func (e *Executor) submitSync(ctx context.Context, backend SyncSubmitter, spec Spec) (Result, error) {
	start := e.clock.Now()
	stdout, err := backend.RunJob(ctx, spec)
	if err != nil {
		return Result{}, &SubmissionError{Cause: err}
	}
	end := e.clock.Now()

	runTime, err := Elapsed(start, end)
	if err != nil {
		return Result{}, err
	}

	if spec.StdoutPath != "" {
		if err := os.WriteFile(spec.StdoutPath, []byte(stdout), 0644); err != nil {
			return Result{}, fmt.Errorf("write job stdout: %w", err)
		}
	}
	// Synchronous backends observe no queueing delay; pending time
	// stays zero.
	return Result{RunTime: runTime, Stdout: stdout}, nil
}

func (e *Executor) submitPolled(ctx context.Context, backend PolledSubmitter, spec Spec) (Result, error) {
	jobID, err := backend.StartJob(ctx, spec)
	if err != nil {
		return Result{}, &SubmissionError{Cause: err}
	}

	pollInterval := spec.PollInterval
	if pollInterval <= 0 {
		pollInterval = e.pollInterval
	}
	e.logger.WithContext(ctx).Debug().
		Str("job_id", jobID).
		Dur("poll_interval", pollInterval).
		Msg("job started, polling for completion")

	return e.WaitForJob(ctx, jobID, e.timeout, pollInterval)
}

// Elapsed computes the wall time between two engine-recorded
// instants. An end before start is a contract violation, never a
// negative duration.
func Elapsed(start, end time.Time) (time.Duration, error) {
	if end.Before(start) {
		return 0, fmt.Errorf("%w: end %s before start %s", ErrContract, end.Format(time.RFC3339Nano), start.Format(time.RFC3339Nano))
	}
	return end.Sub(start), nil
}

func (e *Executor) record(event journal.EventType, data interface{}) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(event, "", data); err != nil {
		e.logger.Warn().Err(err).Msg("journal write failed")
	}
}

func (e *Executor) recordError(event journal.EventType, cause error) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordError(event, "", nil, cause); err != nil {
		e.logger.Warn().Err(err).Msg("journal write failed")
	}
}

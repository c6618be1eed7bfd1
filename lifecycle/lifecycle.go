// Package lifecycle drives provisioning and teardown of one
// externally managed resource, including dependency resources that
// must exist before and be removed after the resource itself.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yairfalse/perusta/journal"
	"github.com/yairfalse/perusta/runner"
	"github.com/yairfalse/perusta/telemetry"
)

// State of a resource within its lifecycle
type State string

const (
	StateUninitialized State = "uninitialized"
	StateCreating      State = "creating"
	StateCreated       State = "created"
	StateCreateFailed  State = "create_failed"
	StateDeleted       State = "deleted"
)

// ErrNotFound marks an "already absent" condition from a backend.
// Deletion hooks wrap it so Delete can treat absence as success.
var ErrNotFound = errors.New("resource not found")

// IsNotFound reports whether err marks an already-absent resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Backend supplies the creation and deletion hooks for one resource
// kind. DeleteResource must be idempotent: it may be called even if
// the resource was never created or is already gone.
type Backend interface {
	CreateResource(ctx context.Context) error
	DeleteResource(ctx context.Context) error
}

// Validator is an optional capability. User-managed resources skip
// the create/delete hooks but are still checked for reachability
// when the backend implements it.
type Validator interface {
	Validate(ctx context.Context) error
}

// Dependency is a resource staged before its owner exists and removed
// after it is gone, e.g. a staging bucket. A dependency belongs to
// exactly one Resource and is never shared.
type Dependency interface {
	Name() string
	Create(ctx context.Context) error
	Delete(ctx context.Context) error
}

// Resource is the lifecycle state machine around one backend.
// Not safe for concurrent Create/Delete calls.
type Resource struct {
	ID          string
	UserManaged bool

	backend Backend
	deps    []Dependency
	state   State
	pool    runner.Runner
	journal *journal.Journal
	logger  *telemetry.Logger
}

// Option configures a Resource at construction
type Option func(*Resource)

// WithDependencies sets the ordered dependency list
func WithDependencies(deps ...Dependency) Option {
	return func(r *Resource) { r.deps = deps }
}

// WithUserManaged marks the resource as pre-existing; Create and
// Delete become validation-only no-ops.
func WithUserManaged() Option {
	return func(r *Resource) { r.UserManaged = true }
}

// WithJournal records lifecycle events to j
func WithJournal(j *journal.Journal) Option {
	return func(r *Resource) { r.journal = j }
}

// WithRunner overrides the worker pool used for dependency staging
func WithRunner(pool runner.Runner) Option {
	return func(r *Resource) { r.pool = pool }
}

// New creates a Resource in the Uninitialized state
func New(id string, backend Backend, opts ...Option) *Resource {
	r := &Resource{
		ID:      id,
		backend: backend,
		state:   StateUninitialized,
		logger:  telemetry.NewLogger("lifecycle"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current lifecycle state
func (r *Resource) State() State { return r.state }

// Dependencies returns the ordered dependency list
func (r *Resource) Dependencies() []Dependency { return r.deps }

// Create provisions the dependency resources in parallel, then the
// resource itself via the backend hook, exactly once. On failure the
// state becomes CreateFailed and no cleanup is attempted here; the
// caller owns the unwind and should call Delete.
func (r *Resource) Create(ctx context.Context) error {
	if r.UserManaged {
		return r.validate(ctx)
	}
	if r.state != StateUninitialized {
		return fmt.Errorf("create %s: resource is %s, want %s", r.ID, r.state, StateUninitialized)
	}

	start := time.Now()
	r.state = StateCreating
	r.record(journal.EventCreating, nil)
	r.logger.LogResourceCreate(ctx, r.ID, len(r.deps))

	if err := r.createDependencies(ctx); err != nil {
		r.state = StateCreateFailed
		r.recordError(journal.EventCreateFailed, err)
		return fmt.Errorf("create dependencies for %s: %w", r.ID, err)
	}

	if err := r.backend.CreateResource(ctx); err != nil {
		r.state = StateCreateFailed
		r.recordError(journal.EventCreateFailed, err)
		return fmt.Errorf("create %s: %w", r.ID, err)
	}

	r.state = StateCreated
	r.record(journal.EventCreated, nil)
	telemetry.ObserveProvisionTime(ctx, r.ID, time.Since(start))
	r.logger.WithContext(ctx).Info().
		Str("resource_id", r.ID).
		Msg("resource created")
	return nil
}

// Delete tears the resource down. Safe to call when the resource was
// never created, is partially created, or is already deleted; the
// postcondition "resource does not exist" holds either way. Backend
// errors wrapping ErrNotFound are swallowed.
func (r *Resource) Delete(ctx context.Context) error {
	if r.UserManaged {
		return nil
	}
	if r.state == StateDeleted {
		return nil
	}

	r.logger.LogResourceDelete(ctx, r.ID, string(r.state))

	if err := r.backend.DeleteResource(ctx); err != nil && !IsNotFound(err) {
		r.recordError(journal.EventFailed, err)
		return fmt.Errorf("delete %s: %w", r.ID, err)
	}

	if err := r.deleteDependencies(ctx); err != nil {
		r.recordError(journal.EventFailed, err)
		return fmt.Errorf("delete dependencies for %s: %w", r.ID, err)
	}

	r.state = StateDeleted
	r.record(journal.EventDeleted, nil)
	return nil
}

func (r *Resource) validate(ctx context.Context) error {
	v, ok := r.backend.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(ctx); err != nil {
		return fmt.Errorf("validate user-managed %s: %w", r.ID, err)
	}
	return nil
}

func (r *Resource) createDependencies(ctx context.Context) error {
	if len(r.deps) == 0 {
		return nil
	}
	_, err := runner.Run(ctx, r.pool, r.deps, func(ctx context.Context, dep Dependency) (struct{}, error) {
		if err := dep.Create(ctx); err != nil {
			return struct{}{}, fmt.Errorf("dependency %s: %w", dep.Name(), err)
		}
		return struct{}{}, nil
	})
	return err
}

func (r *Resource) deleteDependencies(ctx context.Context) error {
	if len(r.deps) == 0 {
		return nil
	}
	_, err := runner.Run(ctx, r.pool, r.deps, func(ctx context.Context, dep Dependency) (struct{}, error) {
		if err := dep.Delete(ctx); err != nil && !IsNotFound(err) {
			return struct{}{}, fmt.Errorf("dependency %s: %w", dep.Name(), err)
		}
		return struct{}{}, nil
	})
	return err
}

func (r *Resource) record(event journal.EventType, data interface{}) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Record(event, r.ID, data); err != nil {
		r.logger.Warn().Err(err).Str("resource_id", r.ID).Msg("journal write failed")
	}
}

func (r *Resource) recordError(event journal.EventType, cause error) {
	if r.journal == nil {
		return
	}
	if err := r.journal.RecordError(event, r.ID, nil, cause); err != nil {
		r.logger.Warn().Err(err).Str("resource_id", r.ID).Msg("journal write failed")
	}
}

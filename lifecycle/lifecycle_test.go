package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBackend counts hook calls and fails on demand
type mockBackend struct {
	createCalls int
	deleteCalls int
	createErr   error
	deleteErr   error
}

func (m *mockBackend) CreateResource(ctx context.Context) error {
	m.createCalls++
	return m.createErr
}

func (m *mockBackend) DeleteResource(ctx context.Context) error {
	m.deleteCalls++
	return m.deleteErr
}

// validatingBackend adds the optional validation capability
type validatingBackend struct {
	mockBackend
	validateCalls int
	validateErr   error
}

func (v *validatingBackend) Validate(ctx context.Context) error {
	v.validateCalls++
	return v.validateErr
}

// mockDependency records create/delete ordering relative to the backend
type mockDependency struct {
	name        string
	createCalls atomic.Int32
	deleteCalls atomic.Int32
	createErr   error
	deleteErr   error
}

func (d *mockDependency) Name() string { return d.name }

func (d *mockDependency) Create(ctx context.Context) error {
	d.createCalls.Add(1)
	return d.createErr
}

func (d *mockDependency) Delete(ctx context.Context) error {
	d.deleteCalls.Add(1)
	return d.deleteErr
}

func TestCreateTransitionsToCreated(t *testing.T) {
	backend := &mockBackend{}
	r := New("test-cluster", backend)

	assert.Equal(t, StateUninitialized, r.State())

	err := r.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCreated, r.State())
	assert.Equal(t, 1, backend.createCalls)
}

func TestCreateRunsExactlyOnce(t *testing.T) {
	backend := &mockBackend{}
	r := New("test-cluster", backend)

	require.NoError(t, r.Create(context.Background()))

	err := r.Create(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, backend.createCalls, "second create must not reach the backend")
}

func TestCreateFailureState(t *testing.T) {
	backend := &mockBackend{createErr: errors.New("quota exceeded")}
	r := New("test-cluster", backend)

	err := r.Create(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateCreateFailed, r.State())
	assert.Equal(t, 0, backend.deleteCalls, "create must not unwind on its own")
}

func TestDeleteAfterCreateFailed(t *testing.T) {
	backend := &mockBackend{createErr: errors.New("boom")}
	r := New("test-cluster", backend)

	require.Error(t, r.Create(context.Background()))

	err := r.Delete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDeleted, r.State())
	assert.Equal(t, 1, backend.deleteCalls)
}

func TestDeleteIsIdempotent(t *testing.T) {
	backend := &mockBackend{}
	r := New("test-cluster", backend)

	require.NoError(t, r.Create(context.Background()))
	require.NoError(t, r.Delete(context.Background()))
	require.NoError(t, r.Delete(context.Background()))

	assert.Equal(t, 1, backend.deleteCalls, "second delete is a no-op")
	assert.Equal(t, StateDeleted, r.State())
}

func TestDeleteWithoutCreate(t *testing.T) {
	backend := &mockBackend{}
	r := New("test-cluster", backend)

	err := r.Delete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDeleted, r.State())
}

func TestDeleteSwallowsNotFound(t *testing.T) {
	backend := &mockBackend{
		deleteErr: fmt.Errorf("cluster gone: %w", ErrNotFound),
	}
	r := New("test-cluster", backend)
	require.NoError(t, r.Create(context.Background()))

	err := r.Delete(context.Background())
	require.NoError(t, err, "already absent counts as deleted")
	assert.Equal(t, StateDeleted, r.State())
}

func TestDeleteSurfacesRealErrors(t *testing.T) {
	backend := &mockBackend{deleteErr: errors.New("api throttled")}
	r := New("test-cluster", backend)
	require.NoError(t, r.Create(context.Background()))

	err := r.Delete(context.Background())
	require.Error(t, err)
	assert.NotEqual(t, StateDeleted, r.State())
}

func TestDependenciesCreatedBeforeBackend(t *testing.T) {
	dep := &mockDependency{name: "bucket"}
	backend := &mockBackend{}
	r := New("test-cluster", backend, WithDependencies(dep))

	require.NoError(t, r.Create(context.Background()))
	assert.Equal(t, int32(1), dep.createCalls.Load())
	assert.Equal(t, 1, backend.createCalls)
}

func TestDependencyFailureSkipsBackend(t *testing.T) {
	dep := &mockDependency{name: "bucket", createErr: errors.New("denied")}
	backend := &mockBackend{}
	r := New("test-cluster", backend, WithDependencies(dep))

	err := r.Create(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
	assert.Equal(t, 0, backend.createCalls, "backend hook must not run after a dependency fails")
	assert.Equal(t, StateCreateFailed, r.State())
}

func TestDependenciesDeletedAfterBackend(t *testing.T) {
	deps := []*mockDependency{
		{name: "bucket-a"},
		{name: "bucket-b"},
	}
	backend := &mockBackend{}
	r := New("test-cluster", backend, WithDependencies(deps[0], deps[1]))

	require.NoError(t, r.Create(context.Background()))
	require.NoError(t, r.Delete(context.Background()))

	for _, dep := range deps {
		assert.Equal(t, int32(1), dep.deleteCalls.Load(), dep.name)
	}
}

func TestDependencyNotFoundOnDelete(t *testing.T) {
	dep := &mockDependency{
		name:      "bucket",
		deleteErr: fmt.Errorf("no such bucket: %w", ErrNotFound),
	}
	backend := &mockBackend{}
	r := New("test-cluster", backend, WithDependencies(dep))

	require.NoError(t, r.Create(context.Background()))
	require.NoError(t, r.Delete(context.Background()))
	assert.Equal(t, StateDeleted, r.State())
}

func TestUserManagedSkipsHooks(t *testing.T) {
	backend := &validatingBackend{}
	r := New("static-cluster", backend, WithUserManaged())

	require.NoError(t, r.Create(context.Background()))
	require.NoError(t, r.Delete(context.Background()))

	assert.Equal(t, 0, backend.createCalls)
	assert.Equal(t, 0, backend.deleteCalls)
	assert.Equal(t, 1, backend.validateCalls, "create validates instead of provisioning")
}

func TestUserManagedValidationFailure(t *testing.T) {
	backend := &validatingBackend{validateErr: errors.New("unreachable")}
	r := New("static-cluster", backend, WithUserManaged())

	err := r.Create(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "static-cluster")
}

func TestUserManagedWithoutValidator(t *testing.T) {
	backend := &mockBackend{}
	r := New("static-cluster", backend, WithUserManaged())

	require.NoError(t, r.Create(context.Background()))
	assert.Equal(t, 0, backend.createCalls)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(fmt.Errorf("wrap: %w", ErrNotFound)))
	assert.False(t, IsNotFound(errors.New("other")))
	assert.False(t, IsNotFound(nil))
}

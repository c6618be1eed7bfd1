// Package backends holds the driver registry. Each backend plugs its
// creation/deletion hooks and submission mode into the generic
// lifecycle and job engines.
package backends

import (
	"context"
	"fmt"
	"sort"

	"github.com/yairfalse/perusta/lifecycle"
	"github.com/yairfalse/perusta/types"
)

// Driver is what a backend supplies for one resource kind. Drivers
// that run jobs additionally implement jobs.SyncSubmitter or
// jobs.PolledSubmitter; drivers that stage artifacts expose their
// dependencies for the lifecycle to own.
type Driver interface {
	lifecycle.Backend

	// Metadata is the reporting surface for the resource
	Metadata() types.ClusterMetadata
}

// Config holds backend configuration
type Config struct {
	Region string
	Zone   string

	// ClusterID is the identity of the resource. The config layer
	// generates one when neither it nor StaticClusterID is set, so
	// managed drivers can rely on it being non-empty.
	ClusterID string

	// StaticClusterID names a pre-existing, user-managed resource
	// the engine must never create or destroy.
	StaticClusterID string

	Workers     int
	MachineType string
	Version     string

	// Database settings, used by managed database backends only
	Engine        string
	EngineVersion string
	StorageGB     int

	// Leader settings for backends driven over a command channel
	Leader     string
	SSHPort    int
	SSHUser    string
	SSHKeyPath string
}

// UserManaged reports whether the resource pre-exists
func (c Config) UserManaged() bool {
	return c.StaticClusterID != ""
}

// Factory creates a driver instance
type Factory func(ctx context.Context, cfg Config) (Driver, error)

var drivers = make(map[string]Factory)

// Register registers a new driver factory
func Register(name string, factory Factory) {
	drivers[name] = factory
}

// New creates a driver instance by name
func New(ctx context.Context, name string, cfg Config) (Driver, error) {
	factory, exists := drivers[name]
	if !exists {
		return nil, fmt.Errorf("backend %s not found", name)
	}
	return factory(ctx, cfg)
}

// List returns registered backend names, sorted
func List() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

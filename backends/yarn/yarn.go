// Package yarn drives jobs against a YARN or standalone Spark cluster
// over a remote command channel. Submission blocks until the remote
// command returns, so this is a synchronous backend: completion is
// never polled.
package yarn

import (
	"context"
	"fmt"
	"strings"

	"github.com/yairfalse/perusta/backends"
	"github.com/yairfalse/perusta/jobs"
	"github.com/yairfalse/perusta/telemetry"
	sshtransport "github.com/yairfalse/perusta/transport/ssh"
	"github.com/yairfalse/perusta/types"
)

func init() {
	backends.Register("yarn", func(ctx context.Context, cfg backends.Config) (backends.Driver, error) {
		if cfg.Leader == "" {
			return nil, fmt.Errorf("yarn backend needs a leader host")
		}
		client, err := sshtransport.Dial(ctx, sshtransport.Config{
			Host:           cfg.Leader,
			Port:           cfg.SSHPort,
			User:           cfg.SSHUser,
			PrivateKeyPath: cfg.SSHKeyPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to reach leader %s: %w", cfg.Leader, err)
		}
		return NewCluster(client, cfg), nil
	})
}

const (
	hadoopCmd   = "hadoop"
	sparkSubmit = "spark-submit"
	sparkSQLCmd = "spark-sql"
)

// Transport executes a command on the cluster's leader node
type Transport interface {
	Execute(ctx context.Context, cmd string) (stdout, stderr string, err error)
}

// Cluster is a cluster reached over a command channel. Typically
// user-managed; Create and Delete only start and stop services when
// commands for that are configured.
type Cluster struct {
	transport Transport
	cfg       backends.Config

	// StartCommand and StopCommand run on create/delete when set.
	// Installation of the software itself is outside the engine.
	StartCommand string
	StopCommand  string

	logger *telemetry.Logger
}

// NewCluster wraps transport as a cluster driver
func NewCluster(transport Transport, cfg backends.Config) *Cluster {
	return &Cluster{
		transport: transport,
		cfg:       cfg,
		logger:    telemetry.NewLogger("yarn"),
	}
}

// CreateResource starts the cluster services when a start command is
// configured; the software is assumed installed.
func (c *Cluster) CreateResource(ctx context.Context) error {
	if c.StartCommand == "" {
		return nil
	}
	if _, stderr, err := c.transport.Execute(ctx, c.StartCommand); err != nil {
		return fmt.Errorf("failed to start cluster services: %w (stderr: %s)", err, stderr)
	}
	telemetry.CountResourceCreated(ctx, "yarn")
	return nil
}

// DeleteResource stops the cluster services when a stop command is
// configured. Stopping already-stopped services is not an error.
func (c *Cluster) DeleteResource(ctx context.Context) error {
	if c.StopCommand == "" {
		return nil
	}
	if _, stderr, err := c.transport.Execute(ctx, c.StopCommand); err != nil {
		return fmt.Errorf("failed to stop cluster services: %w (stderr: %s)", err, stderr)
	}
	telemetry.CountResourceDeleted(ctx, "yarn")
	return nil
}

// Validate checks the leader is reachable and hadoop is on the path
func (c *Cluster) Validate(ctx context.Context) error {
	if _, stderr, err := c.transport.Execute(ctx, hadoopCmd+" version"); err != nil {
		return fmt.Errorf("cluster leader unreachable: %w (stderr: %s)", err, stderr)
	}
	return nil
}

// RunJob builds the submission command for spec and blocks until the
// remote side finishes. The engine derives run time around this call.
func (c *Cluster) RunJob(ctx context.Context, spec jobs.Spec) (string, error) {
	cmd, err := BuildCommand(spec)
	if err != nil {
		return "", err
	}

	c.logger.WithContext(ctx).Debug().
		Str("command", cmd).
		Msg("running job over command channel")

	stdout, stderr, err := c.transport.Execute(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("remote command failed: %w (stderr: %s)", err, stderr)
	}
	return stdout, nil
}

// Metadata returns the reporting surface for this cluster
func (c *Cluster) Metadata() types.ClusterMetadata {
	id := c.cfg.ClusterID
	if c.cfg.UserManaged() {
		id = c.cfg.StaticClusterID
	}
	return types.ClusterMetadata{
		Service:     "yarn",
		Version:     c.cfg.Version,
		ClusterID:   id,
		MachineType: c.cfg.MachineType,
		WorkerCount: c.cfg.Workers,
		Zone:        c.cfg.Zone,
	}
}

// BuildCommand renders the shell command submitting spec. Argument
// order matters to the wrappers: properties before the main
// jar/script, job arguments last.
func BuildCommand(spec jobs.Spec) (string, error) {
	switch spec.Kind {
	case jobs.KindHadoop:
		cmd := []string{hadoopCmd}
		if spec.Jarfile != "" {
			cmd = append(cmd, "jar", spec.Jarfile)
		}
		// Classname works only when the jar is omitted or has no
		// main class of its own
		if spec.ClassName != "" {
			cmd = append(cmd, spec.ClassName)
		}
		for _, k := range types.SortedKeys(spec.Properties) {
			cmd = append(cmd, fmt.Sprintf("-D%s=%s", k, spec.Properties[k]))
		}
		cmd = append(cmd, spec.Args...)
		return strings.Join(cmd, " "), nil

	case jobs.KindSpark, jobs.KindPySpark:
		cmd := []string{sparkSubmit}
		if spec.ClassName != "" {
			cmd = append(cmd, "--class", spec.ClassName)
		}
		for _, k := range types.SortedKeys(spec.Properties) {
			cmd = append(cmd, "--conf", fmt.Sprintf("%s=%s", k, spec.Properties[k]))
		}
		// Main jar/script goes last before args
		if spec.Kind == jobs.KindSpark {
			cmd = append(cmd, spec.Jarfile)
		} else {
			cmd = append(cmd, spec.PySparkFile)
		}
		cmd = append(cmd, spec.Args...)
		return strings.Join(cmd, " "), nil

	case jobs.KindSparkSQL:
		cmd := []string{sparkSQLCmd}
		for _, k := range types.SortedKeys(spec.Properties) {
			cmd = append(cmd, "--conf", fmt.Sprintf("%s=%s", k, spec.Properties[k]))
		}
		cmd = append(cmd, "-f", spec.QueryFile)
		return strings.Join(cmd, " "), nil

	default:
		return "", fmt.Errorf("%w: job kind %q not supported on yarn", jobs.ErrContract, spec.Kind)
	}
}

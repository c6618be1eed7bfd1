// Package eks provisions EKS clusters. The control plane runs no
// engine-submitted jobs, so this driver carries the lifecycle hooks
// only and no submission mode.
package eks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"

	"github.com/yairfalse/perusta/backends"
	"github.com/yairfalse/perusta/lifecycle"
	"github.com/yairfalse/perusta/retry"
	"github.com/yairfalse/perusta/telemetry"
	"github.com/yairfalse/perusta/types"
)

func init() {
	backends.Register("eks", func(ctx context.Context, cfg backends.Config) (backends.Driver, error) {
		return NewCluster(ctx, cfg)
	})
}

// readyPolicy bounds the wait for a control plane to become active
var readyPolicy = retry.Policy{
	Timeout:      25 * time.Minute,
	PollInterval: 30 * time.Second,
	Jitter:       0.1,
}

// Cluster is an EKS-backed compute resource
type Cluster struct {
	client *eks.Client
	cfg    backends.Config

	// RoleARN and SubnetIDs are account prerequisites, not engine
	// dependencies: they outlive the run and are never torn down.
	RoleARN   string
	SubnetIDs []string

	logger *telemetry.Logger
}

// NewCluster builds an EKS driver from the default AWS config chain
func NewCluster(ctx context.Context, cfg backends.Config) (*Cluster, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &Cluster{
		client: eks.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: telemetry.NewLogger("eks"),
	}, nil
}

func (c *Cluster) name() string {
	if c.cfg.UserManaged() {
		return c.cfg.StaticClusterID
	}
	return c.cfg.ClusterID
}

// CreateResource creates the cluster and waits until it is active
func (c *Cluster) CreateResource(ctx context.Context) error {
	input := &eks.CreateClusterInput{
		Name:    aws.String(c.name()),
		RoleArn: aws.String(c.RoleARN),
		ResourcesVpcConfig: &ekstypes.VpcConfigRequest{
			SubnetIds: c.SubnetIDs,
		},
	}
	if c.cfg.Version != "" {
		input.Version = aws.String(c.cfg.Version)
	}

	if _, err := c.client.CreateCluster(ctx, input); err != nil {
		return fmt.Errorf("failed to create cluster %s: %w", c.name(), err)
	}

	c.logger.WithContext(ctx).Info().
		Str("cluster", c.name()).
		Msg("cluster creation started, waiting for active")

	_, err := retry.Do(ctx, readyPolicy, func(ctx context.Context) retry.Result[struct{}] {
		out, err := c.client.DescribeCluster(ctx, &eks.DescribeClusterInput{
			Name: aws.String(c.name()),
		})
		if err != nil {
			return retry.Failed[struct{}](fmt.Errorf("describe cluster: %w", err))
		}
		switch out.Cluster.Status {
		case ekstypes.ClusterStatusActive:
			return retry.Done(struct{}{})
		case ekstypes.ClusterStatusFailed:
			return retry.Failed[struct{}](fmt.Errorf("cluster %s failed during creation", c.name()))
		default:
			return retry.Pending[struct{}]()
		}
	})
	if err != nil {
		return err
	}
	telemetry.CountResourceCreated(ctx, "eks")
	return nil
}

// DeleteResource deletes the cluster; an unknown cluster is already
// absent and maps to ErrNotFound.
func (c *Cluster) DeleteResource(ctx context.Context) error {
	_, err := c.client.DeleteCluster(ctx, &eks.DeleteClusterInput{
		Name: aws.String(c.name()),
	})
	if err != nil {
		var notFound *ekstypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return fmt.Errorf("cluster %s: %w", c.name(), lifecycle.ErrNotFound)
		}
		return fmt.Errorf("failed to delete cluster %s: %w", c.name(), err)
	}
	telemetry.CountResourceDeleted(ctx, "eks")
	return nil
}

// Validate checks a user-managed cluster is active
func (c *Cluster) Validate(ctx context.Context) error {
	out, err := c.client.DescribeCluster(ctx, &eks.DescribeClusterInput{
		Name: aws.String(c.name()),
	})
	if err != nil {
		return fmt.Errorf("describe cluster %s: %w", c.name(), err)
	}
	if out.Cluster.Status != ekstypes.ClusterStatusActive {
		return fmt.Errorf("cluster %s is %s, not active", c.name(), out.Cluster.Status)
	}
	return nil
}

// Metadata returns the reporting surface for this cluster
func (c *Cluster) Metadata() types.ClusterMetadata {
	return types.ClusterMetadata{
		Service:     "eks",
		Version:     c.cfg.Version,
		ClusterID:   c.name(),
		MachineType: c.cfg.MachineType,
		WorkerCount: c.cfg.Workers,
		Zone:        c.cfg.Zone,
	}
}

// Package rds provisions managed relational databases. Like eks this
// is a lifecycle-only driver: the engine can stand a database up and
// tear it down but does not submit jobs to it.
package rds

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/yairfalse/perusta/backends"
	"github.com/yairfalse/perusta/lifecycle"
	"github.com/yairfalse/perusta/retry"
	"github.com/yairfalse/perusta/telemetry"
	"github.com/yairfalse/perusta/types"
)

func init() {
	backends.Register("rds", func(ctx context.Context, cfg backends.Config) (backends.Driver, error) {
		return NewInstance(ctx, cfg)
	})
}

var readyPolicy = retry.Policy{
	Timeout:      30 * time.Minute,
	PollInterval: 15 * time.Second,
	Jitter:       0.1,
}

const (
	defaultEngine        = "postgres"
	defaultEngineVersion = "16.3"
	defaultStorageGB     = 50
	adminUser            = "perusta"
)

// Instance is a managed database instance
type Instance struct {
	client *rds.Client
	cfg    backends.Config

	Engine        string
	EngineVersion string
	StorageGB     int32

	password string
	endpoint string
	port     int32

	logger *telemetry.Logger
}

// NewInstance builds an RDS driver with a freshly generated admin password
func NewInstance(ctx context.Context, cfg backends.Config) (*Instance, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	password, err := GeneratePassword()
	if err != nil {
		return nil, err
	}
	inst := &Instance{
		client:        rds.NewFromConfig(awsCfg),
		cfg:           cfg,
		Engine:        defaultEngine,
		EngineVersion: defaultEngineVersion,
		StorageGB:     defaultStorageGB,
		password:      password,
		logger:        telemetry.NewLogger("rds"),
	}
	if cfg.Engine != "" {
		inst.Engine = cfg.Engine
	}
	if cfg.EngineVersion != "" {
		inst.EngineVersion = cfg.EngineVersion
	}
	if cfg.StorageGB > 0 {
		inst.StorageGB = int32(cfg.StorageGB)
	}
	return inst, nil
}

// GeneratePassword returns a random password acceptable to every RDS engine
func GeneratePassword() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	// hex keeps clear of the characters RDS forbids (/, @, ", space)
	return hex.EncodeToString(buf), nil
}

func (i *Instance) identifier() string {
	if i.cfg.UserManaged() {
		return i.cfg.StaticClusterID
	}
	return i.cfg.ClusterID
}

// buildCreateInput assembles the CreateDBInstance request. Kept as a
// pure function over the instance fields so tests can inspect it.
func buildCreateInput(id string, cfg backends.Config, engine, engineVersion string, storageGB int32, password string) *rds.CreateDBInstanceInput {
	input := &rds.CreateDBInstanceInput{
		DBInstanceIdentifier: aws.String(id),
		DBInstanceClass:      aws.String(cfg.MachineType),
		Engine:               aws.String(engine),
		EngineVersion:        aws.String(engineVersion),
		AllocatedStorage:     aws.Int32(storageGB),
		MasterUsername:       aws.String(adminUser),
		MasterUserPassword:   aws.String(password),
	}
	if cfg.Zone != "" {
		input.AvailabilityZone = aws.String(cfg.Zone)
	}
	return input
}

// CreateResource creates the instance and waits until it is available
func (i *Instance) CreateResource(ctx context.Context) error {
	input := buildCreateInput(i.identifier(), i.cfg, i.Engine, i.EngineVersion, i.StorageGB, i.password)
	if _, err := i.client.CreateDBInstance(ctx, input); err != nil {
		return fmt.Errorf("failed to create instance %s: %w", i.identifier(), err)
	}

	i.logger.WithContext(ctx).Info().
		Str("instance", i.identifier()).
		Str("engine", i.Engine).
		Msg("instance creation started, waiting for available")

	db, err := retry.Do(ctx, readyPolicy, func(ctx context.Context) retry.Result[rdstypes.DBInstance] {
		out, err := i.client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
			DBInstanceIdentifier: aws.String(i.identifier()),
		})
		if err != nil {
			return retry.Failed[rdstypes.DBInstance](fmt.Errorf("describe instance: %w", err))
		}
		if len(out.DBInstances) == 0 {
			return retry.Pending[rdstypes.DBInstance]()
		}
		db := out.DBInstances[0]
		switch aws.ToString(db.DBInstanceStatus) {
		case "available":
			return retry.Done(db)
		case "failed", "incompatible-parameters", "incompatible-restore":
			return retry.Failed[rdstypes.DBInstance](fmt.Errorf("instance %s entered state %s",
				i.identifier(), aws.ToString(db.DBInstanceStatus)))
		default:
			return retry.Pending[rdstypes.DBInstance]()
		}
	})
	if err != nil {
		return err
	}

	if db.Endpoint != nil {
		i.endpoint = aws.ToString(db.Endpoint.Address)
		i.port = aws.ToInt32(db.Endpoint.Port)
	}
	telemetry.CountResourceCreated(ctx, "rds")
	return nil
}

// DeleteResource deletes the instance without a final snapshot; an
// unknown instance is already absent and maps to ErrNotFound.
func (i *Instance) DeleteResource(ctx context.Context) error {
	_, err := i.client.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
		DBInstanceIdentifier: aws.String(i.identifier()),
		SkipFinalSnapshot:    aws.Bool(true),
	})
	if err != nil {
		var notFound *rdstypes.DBInstanceNotFoundFault
		if errors.As(err, &notFound) {
			return fmt.Errorf("instance %s: %w", i.identifier(), lifecycle.ErrNotFound)
		}
		return fmt.Errorf("failed to delete instance %s: %w", i.identifier(), err)
	}
	telemetry.CountResourceDeleted(ctx, "rds")
	return nil
}

// Validate checks a user-managed instance is available and captures
// its endpoint for reporting.
func (i *Instance) Validate(ctx context.Context) error {
	out, err := i.client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(i.identifier()),
	})
	if err != nil {
		return fmt.Errorf("describe instance %s: %w", i.identifier(), err)
	}
	if len(out.DBInstances) == 0 {
		return fmt.Errorf("instance %s not found", i.identifier())
	}
	db := out.DBInstances[0]
	if status := aws.ToString(db.DBInstanceStatus); status != "available" {
		return fmt.Errorf("instance %s is %s, not available", i.identifier(), status)
	}
	if db.Endpoint != nil {
		i.endpoint = aws.ToString(db.Endpoint.Address)
		i.port = aws.ToInt32(db.Endpoint.Port)
	}
	return nil
}

// Endpoint returns the connection address once the instance is available
func (i *Instance) Endpoint() (string, int32) {
	return i.endpoint, i.port
}

// Metadata returns the reporting surface for this instance
func (i *Instance) Metadata() types.ClusterMetadata {
	return types.ClusterMetadata{
		Service:     "rds",
		Version:     i.EngineVersion,
		ClusterID:   i.identifier(),
		MachineType: i.cfg.MachineType,
		WorkerCount: 1,
		Zone:        i.cfg.Zone,
	}
}

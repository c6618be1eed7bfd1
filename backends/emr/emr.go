// Package emr provisions Amazon EMR clusters and drives jobs against
// them as flow steps, observing completion through the polling
// protocol.
package emr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	emrtypes "github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/yairfalse/perusta/backends"
	"github.com/yairfalse/perusta/jobs"
	"github.com/yairfalse/perusta/lifecycle"
	"github.com/yairfalse/perusta/retry"
	"github.com/yairfalse/perusta/telemetry"
	"github.com/yairfalse/perusta/types"
)

func init() {
	backends.Register("emr", func(ctx context.Context, cfg backends.Config) (backends.Driver, error) {
		return NewCluster(ctx, cfg)
	})
}

const defaultReleaseLabel = "emr-7.1.0"

// readyPolicy bounds the wait for a new cluster to accept work
var readyPolicy = retry.Policy{
	Timeout:      30 * time.Minute,
	PollInterval: 30 * time.Second,
	Jitter:       0.1,
}

// Cluster is an EMR-backed compute resource
type Cluster struct {
	emrClient *emr.Client
	s3Client  *s3.Client

	cfg       backends.Config
	bucket    string
	jobFlowID string
	logger    *telemetry.Logger
}

// NewCluster builds an EMR driver from the default AWS config chain
func NewCluster(ctx context.Context, cfg backends.Config) (*Cluster, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	c := &Cluster{
		emrClient: emr.NewFromConfig(awsCfg),
		s3Client:  s3.NewFromConfig(awsCfg),
		cfg:       cfg,
		bucket:    "perusta-" + cfg.ClusterID,
		logger:    telemetry.NewLogger("emr"),
	}
	if cfg.UserManaged() {
		c.jobFlowID = cfg.StaticClusterID
	}
	return c, nil
}

// StagingBucket returns the artifact bucket staged before the cluster
// exists and removed after it is gone.
func (c *Cluster) StagingBucket() lifecycle.Dependency {
	return &stagingBucket{
		client: c.s3Client,
		name:   c.bucket,
		region: c.cfg.Region,
	}
}

// BaseDir is the cluster-visible prefix of the staging bucket
func (c *Cluster) BaseDir() string {
	return "s3://" + c.bucket
}

// CreateResource starts the job flow and waits until it accepts work
func (c *Cluster) CreateResource(ctx context.Context) error {
	release := c.cfg.Version
	if release == "" {
		release = defaultReleaseLabel
	}

	out, err := c.emrClient.RunJobFlow(ctx, &emr.RunJobFlowInput{
		Name:         aws.String(c.cfg.ClusterID),
		ReleaseLabel: aws.String(release),
		Applications: []emrtypes.Application{
			{Name: aws.String("Hadoop")},
			{Name: aws.String("Spark")},
		},
		Instances: &emrtypes.JobFlowInstancesConfig{
			InstanceCount:               aws.Int32(int32(c.cfg.Workers + 1)),
			MasterInstanceType:          aws.String(c.cfg.MachineType),
			SlaveInstanceType:           aws.String(c.cfg.MachineType),
			KeepJobFlowAliveWhenNoSteps: aws.Bool(true),
		},
		JobFlowRole: aws.String("EMR_EC2_DefaultRole"),
		ServiceRole: aws.String("EMR_DefaultRole"),
		LogUri:      aws.String(c.BaseDir() + "/logs"),
	})
	if err != nil {
		return fmt.Errorf("failed to run job flow: %w", err)
	}
	c.jobFlowID = aws.ToString(out.JobFlowId)

	c.logger.WithContext(ctx).Info().
		Str("job_flow_id", c.jobFlowID).
		Str("release", release).
		Msg("job flow started, waiting for ready")

	_, err = retry.Do(ctx, readyPolicy, func(ctx context.Context) retry.Result[struct{}] {
		desc, err := c.emrClient.DescribeCluster(ctx, &emr.DescribeClusterInput{
			ClusterId: aws.String(c.jobFlowID),
		})
		if err != nil {
			return retry.Failed[struct{}](fmt.Errorf("describe cluster: %w", err))
		}
		switch desc.Cluster.Status.State {
		case emrtypes.ClusterStateWaiting, emrtypes.ClusterStateRunning:
			return retry.Done(struct{}{})
		case emrtypes.ClusterStateTerminated, emrtypes.ClusterStateTerminatedWithErrors, emrtypes.ClusterStateTerminating:
			return retry.Failed[struct{}](fmt.Errorf("cluster %s terminated during startup", c.jobFlowID))
		default:
			return retry.Pending[struct{}]()
		}
	})
	if err != nil {
		return err
	}
	telemetry.CountResourceCreated(ctx, "emr")
	return nil
}

// DeleteResource terminates the job flow. Termination is idempotent
// on the EMR side; an unknown cluster maps to ErrNotFound so the
// lifecycle treats it as already absent.
func (c *Cluster) DeleteResource(ctx context.Context) error {
	if c.jobFlowID == "" {
		return fmt.Errorf("job flow never started: %w", lifecycle.ErrNotFound)
	}
	_, err := c.emrClient.TerminateJobFlows(ctx, &emr.TerminateJobFlowsInput{
		JobFlowIds: []string{c.jobFlowID},
	})
	if err != nil {
		if isAWSErrorCode(err, "InvalidRequestException") {
			return fmt.Errorf("job flow %s: %w", c.jobFlowID, lifecycle.ErrNotFound)
		}
		return fmt.Errorf("failed to terminate job flow: %w", err)
	}
	telemetry.CountResourceDeleted(ctx, "emr")
	return nil
}

// Validate checks a user-managed cluster is reachable and live
func (c *Cluster) Validate(ctx context.Context) error {
	desc, err := c.emrClient.DescribeCluster(ctx, &emr.DescribeClusterInput{
		ClusterId: aws.String(c.jobFlowID),
	})
	if err != nil {
		return fmt.Errorf("describe cluster %s: %w", c.jobFlowID, err)
	}
	switch desc.Cluster.Status.State {
	case emrtypes.ClusterStateWaiting, emrtypes.ClusterStateRunning:
		return nil
	default:
		return fmt.Errorf("cluster %s is %s, not accepting work", c.jobFlowID, desc.Cluster.Status.State)
	}
}

// StartJob submits spec as a flow step and returns the step ID
func (c *Cluster) StartJob(ctx context.Context, spec jobs.Spec) (string, error) {
	step, err := buildStepConfig(spec)
	if err != nil {
		return "", err
	}
	out, err := c.emrClient.AddJobFlowSteps(ctx, &emr.AddJobFlowStepsInput{
		JobFlowId: aws.String(c.jobFlowID),
		Steps:     []emrtypes.StepConfig{step},
	})
	if err != nil {
		return "", fmt.Errorf("failed to add step: %w", err)
	}
	if len(out.StepIds) == 0 {
		return "", fmt.Errorf("no step id returned for job flow %s", c.jobFlowID)
	}
	return out.StepIds[0], nil
}

// CompletedJob reports the step's outcome, Pending until it resolves
func (c *Cluster) CompletedJob(ctx context.Context, jobID string) retry.Result[jobs.Result] {
	out, err := c.emrClient.DescribeStep(ctx, &emr.DescribeStepInput{
		ClusterId: aws.String(c.jobFlowID),
		StepId:    aws.String(jobID),
	})
	if err != nil {
		return retry.Failed[jobs.Result](&jobs.SubmissionError{JobID: jobID, Cause: err})
	}
	return resultFromStatus(jobID, out.Step.Status)
}

// Metadata returns the reporting surface for this cluster
func (c *Cluster) Metadata() types.ClusterMetadata {
	id := c.cfg.ClusterID
	if c.cfg.UserManaged() {
		id = c.cfg.StaticClusterID
	}
	return types.ClusterMetadata{
		Service:     "emr",
		Version:     c.cfg.Version,
		ClusterID:   id,
		MachineType: c.cfg.MachineType,
		WorkerCount: c.cfg.Workers,
		Zone:        c.cfg.Zone,
	}
}

// resultFromStatus maps an EMR step status to a polling outcome. The
// service reports queueing delay through the step timeline: pending
// time is creation to start, run time is start to end.
func resultFromStatus(jobID string, status *emrtypes.StepStatus) retry.Result[jobs.Result] {
	if status == nil {
		return retry.Pending[jobs.Result]()
	}
	switch status.State {
	case emrtypes.StepStateCompleted:
		result := jobs.Result{}
		if tl := status.Timeline; tl != nil && tl.CreationDateTime != nil && tl.StartDateTime != nil && tl.EndDateTime != nil {
			result.PendingTime = tl.StartDateTime.Sub(*tl.CreationDateTime)
			result.RunTime = tl.EndDateTime.Sub(*tl.StartDateTime)
		}
		return retry.Done(result)
	case emrtypes.StepStateFailed, emrtypes.StepStateCancelled, emrtypes.StepStateInterrupted:
		reason := string(status.State)
		if status.FailureDetails != nil && status.FailureDetails.Message != nil {
			reason = aws.ToString(status.FailureDetails.Message)
		}
		return retry.Failed[jobs.Result](&jobs.SubmissionError{
			JobID: jobID,
			Cause: errors.New(reason),
		})
	default:
		return retry.Pending[jobs.Result]()
	}
}

// buildStepConfig translates a job spec into an EMR step. Spark-family
// kinds run through command-runner; plain hadoop jobs run their jar
// directly with properties on the step config.
func buildStepConfig(spec jobs.Spec) (emrtypes.StepConfig, error) {
	step := emrtypes.StepConfig{
		Name:            aws.String(string(spec.Kind) + "-step"),
		ActionOnFailure: emrtypes.ActionOnFailureContinue,
	}

	switch spec.Kind {
	case jobs.KindHadoop:
		hadoopStep := &emrtypes.HadoopJarStepConfig{
			Args: spec.Args,
		}
		if spec.Jarfile != "" {
			hadoopStep.Jar = aws.String(spec.Jarfile)
			if spec.ClassName != "" {
				hadoopStep.MainClass = aws.String(spec.ClassName)
			}
		} else {
			hadoopStep.Jar = aws.String("command-runner.jar")
			hadoopStep.Args = append([]string{"hadoop", spec.ClassName}, spec.Args...)
		}
		for _, k := range types.SortedKeys(spec.Properties) {
			hadoopStep.Properties = append(hadoopStep.Properties, emrtypes.KeyValue{
				Key:   aws.String(k),
				Value: aws.String(spec.Properties[k]),
			})
		}
		step.HadoopJarStep = hadoopStep

	case jobs.KindSpark, jobs.KindPySpark:
		args := []string{"spark-submit"}
		if spec.ClassName != "" {
			args = append(args, "--class", spec.ClassName)
		}
		for _, k := range types.SortedKeys(spec.Properties) {
			args = append(args, "--conf", k+"="+spec.Properties[k])
		}
		if spec.Kind == jobs.KindSpark {
			args = append(args, spec.Jarfile)
		} else {
			args = append(args, spec.PySparkFile)
		}
		args = append(args, spec.Args...)
		step.HadoopJarStep = &emrtypes.HadoopJarStepConfig{
			Jar:  aws.String("command-runner.jar"),
			Args: args,
		}

	case jobs.KindSparkSQL:
		args := []string{"spark-sql", "-f", spec.QueryFile}
		for _, k := range types.SortedKeys(spec.Properties) {
			args = append(args, "--conf", k+"="+spec.Properties[k])
		}
		step.HadoopJarStep = &emrtypes.HadoopJarStepConfig{
			Jar:  aws.String("command-runner.jar"),
			Args: args,
		}

	default:
		return emrtypes.StepConfig{}, fmt.Errorf("%w: job kind %q not supported on emr", jobs.ErrContract, spec.Kind)
	}

	return step, nil
}

func isAWSErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}

package emr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	emrtypes "github.com/aws/aws-sdk-go-v2/service/emr/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/perusta/jobs"
	"github.com/yairfalse/perusta/retry"
)

// stubClock advances only while waiting so pending outcomes time out
// instantly instead of sleeping.
type stubClock struct{ now time.Time }

func (c *stubClock) Now() time.Time { return c.now }

func (c *stubClock) After(d time.Duration) <-chan time.Time {
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// resolve runs one probe outcome through the polling loop
func resolve(t *testing.T, res retry.Result[jobs.Result]) (jobs.Result, error) {
	t.Helper()
	policy := retry.Policy{
		Timeout:      time.Second,
		PollInterval: 100 * time.Millisecond,
		Clock:        &stubClock{now: time.Unix(0, 0)},
	}
	return retry.Do(context.Background(), policy, func(ctx context.Context) retry.Result[jobs.Result] {
		return res
	})
}

// resolved reports whether res terminates the polling loop
func resolved(res retry.Result[jobs.Result]) bool {
	policy := retry.Policy{
		Timeout:      time.Second,
		PollInterval: 100 * time.Millisecond,
		Clock:        &stubClock{now: time.Unix(0, 0)},
	}
	_, err := retry.Do(context.Background(), policy, func(ctx context.Context) retry.Result[jobs.Result] {
		return res
	})
	var timeout *retry.TimeoutError
	return !errors.As(err, &timeout)
}

func TestBuildStepConfigHadoop(t *testing.T) {
	step, err := buildStepConfig(jobs.Spec{
		Kind:       jobs.KindHadoop,
		Jarfile:    "s3://bucket/wordcount.jar",
		ClassName:  "com.example.WordCount",
		Args:       []string{"in/", "out/"},
		Properties: map[string]string{"mapreduce.job.reduces": "4"},
	})
	require.NoError(t, err)

	require.NotNil(t, step.HadoopJarStep)
	assert.Equal(t, "s3://bucket/wordcount.jar", aws.ToString(step.HadoopJarStep.Jar))
	assert.Equal(t, "com.example.WordCount", aws.ToString(step.HadoopJarStep.MainClass))
	assert.Equal(t, []string{"in/", "out/"}, step.HadoopJarStep.Args)
	require.Len(t, step.HadoopJarStep.Properties, 1)
	assert.Equal(t, "mapreduce.job.reduces", aws.ToString(step.HadoopJarStep.Properties[0].Key))
	assert.Equal(t, emrtypes.ActionOnFailureContinue, step.ActionOnFailure)
}

func TestBuildStepConfigHadoopClassOnly(t *testing.T) {
	step, err := buildStepConfig(jobs.Spec{
		Kind:      jobs.KindHadoop,
		ClassName: jobs.DistCpClass,
		Args:      []string{"s3://src", "s3://dst"},
	})
	require.NoError(t, err)

	assert.Equal(t, "command-runner.jar", aws.ToString(step.HadoopJarStep.Jar))
	assert.Equal(t, []string{"hadoop", jobs.DistCpClass, "s3://src", "s3://dst"}, step.HadoopJarStep.Args)
}

func TestBuildStepConfigSpark(t *testing.T) {
	step, err := buildStepConfig(jobs.Spec{
		Kind:      jobs.KindSpark,
		Jarfile:   "s3://bucket/app.jar",
		ClassName: "com.example.Main",
		Properties: map[string]string{
			"spark.executor.memory": "4g",
			"spark.driver.memory":   "2g",
		},
		Args: []string{"--input", "data/"},
	})
	require.NoError(t, err)

	assert.Equal(t, "command-runner.jar", aws.ToString(step.HadoopJarStep.Jar))
	assert.Equal(t, []string{
		"spark-submit",
		"--class", "com.example.Main",
		"--conf", "spark.driver.memory=2g",
		"--conf", "spark.executor.memory=4g",
		"s3://bucket/app.jar",
		"--input", "data/",
	}, step.HadoopJarStep.Args)
}

func TestBuildStepConfigPySpark(t *testing.T) {
	step, err := buildStepConfig(jobs.Spec{
		Kind:        jobs.KindPySpark,
		PySparkFile: "s3://bucket/job.py",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"spark-submit", "s3://bucket/job.py"}, step.HadoopJarStep.Args)
}

func TestBuildStepConfigSparkSQL(t *testing.T) {
	step, err := buildStepConfig(jobs.Spec{
		Kind:      jobs.KindSparkSQL,
		QueryFile: "s3://bucket/query.sql",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"spark-sql", "-f", "s3://bucket/query.sql"}, step.HadoopJarStep.Args)
}

func TestBuildStepConfigUnknownKind(t *testing.T) {
	_, err := buildStepConfig(jobs.Spec{Kind: "flink"})
	require.ErrorIs(t, err, jobs.ErrContract)
}

func TestResultFromStatusCompleted(t *testing.T) {
	created := time.Unix(1000, 0)
	started := created.Add(30 * time.Second)
	ended := started.Add(2 * time.Minute)

	res := resultFromStatus("s-1", &emrtypes.StepStatus{
		State: emrtypes.StepStateCompleted,
		Timeline: &emrtypes.StepTimeline{
			CreationDateTime: &created,
			StartDateTime:    &started,
			EndDateTime:      &ended,
		},
	})

	result, err := resolve(t, res)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, result.PendingTime, "pending time is creation to start")
	assert.Equal(t, 2*time.Minute, result.RunTime, "run time is start to end")
	assert.Equal(t, 150*time.Second, result.WallTime())
}

func TestResultFromStatusFailed(t *testing.T) {
	res := resultFromStatus("s-1", &emrtypes.StepStatus{
		State: emrtypes.StepStateFailed,
		FailureDetails: &emrtypes.FailureDetails{
			Message: aws.String("container killed"),
		},
	})

	_, err := resolve(t, res)
	var subErr *jobs.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "s-1", subErr.JobID)
	assert.Contains(t, err.Error(), "container killed")
}

func TestResultFromStatusPending(t *testing.T) {
	for _, state := range []emrtypes.StepState{
		emrtypes.StepStatePending,
		emrtypes.StepStateRunning,
	} {
		res := resultFromStatus("s-1", &emrtypes.StepStatus{State: state})
		assert.False(t, resolved(res), "state %s must stay pending", state)
	}

	assert.False(t, resolved(resultFromStatus("s-1", nil)))
}

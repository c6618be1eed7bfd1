package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{
			name: "hadoop with jarfile",
			spec: Spec{Kind: KindHadoop, Jarfile: "job.jar"},
		},
		{
			name: "hadoop with classname only",
			spec: Spec{Kind: KindHadoop, ClassName: DistCpClass},
		},
		{
			name:    "hadoop with neither",
			spec:    Spec{Kind: KindHadoop},
			wantErr: true,
		},
		{
			name: "spark with jarfile",
			spec: Spec{Kind: KindSpark, Jarfile: "app.jar"},
		},
		{
			name:    "spark without jarfile",
			spec:    Spec{Kind: KindSpark, ClassName: "Main"},
			wantErr: true,
		},
		{
			name: "pyspark with script",
			spec: Spec{Kind: KindPySpark, PySparkFile: "job.py"},
		},
		{
			name:    "pyspark without script",
			spec:    Spec{Kind: KindPySpark},
			wantErr: true,
		},
		{
			name: "spark-sql with query file",
			spec: Spec{Kind: KindSparkSQL, QueryFile: "query.sql"},
		},
		{
			name:    "spark-sql without query file",
			spec:    Spec{Kind: KindSparkSQL},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			spec:    Spec{Kind: "flink", Jarfile: "app.jar"},
			wantErr: true,
		},
		{
			name:    "empty kind",
			spec:    Spec{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrContract)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestResultWallTime(t *testing.T) {
	r := Result{RunTime: 2 * time.Minute, PendingTime: 45 * time.Second}
	assert.Equal(t, 165*time.Second, r.WallTime())

	assert.Equal(t, time.Duration(0), Result{}.WallTime())
}

func TestSubmissionErrorMessage(t *testing.T) {
	withID := &SubmissionError{JobID: "j-42", Cause: assert.AnError}
	assert.Contains(t, withID.Error(), "j-42")

	withoutID := &SubmissionError{Cause: assert.AnError}
	assert.Contains(t, withoutID.Error(), "submission failed")
}

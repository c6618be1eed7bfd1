package rds

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/perusta/backends"
)

func TestBuildCreateInput(t *testing.T) {
	cfg := backends.Config{
		Region:      "us-east-1",
		Zone:        "us-east-1a",
		ClusterID:   "perusta-db",
		MachineType: "db.m5.large",
	}

	input := buildCreateInput("perusta-db", cfg, "postgres", "16.3", 50, "secret")

	assert.Equal(t, "perusta-db", aws.ToString(input.DBInstanceIdentifier))
	assert.Equal(t, "db.m5.large", aws.ToString(input.DBInstanceClass))
	assert.Equal(t, "postgres", aws.ToString(input.Engine))
	assert.Equal(t, "16.3", aws.ToString(input.EngineVersion))
	assert.Equal(t, int32(50), aws.ToInt32(input.AllocatedStorage))
	assert.Equal(t, "perusta", aws.ToString(input.MasterUsername))
	assert.Equal(t, "secret", aws.ToString(input.MasterUserPassword))
	assert.Equal(t, "us-east-1a", aws.ToString(input.AvailabilityZone))
}

func TestBuildCreateInputNoZone(t *testing.T) {
	input := buildCreateInput("db", backends.Config{MachineType: "db.t3.micro"}, "postgres", "16.3", 50, "x")
	assert.Nil(t, input.AvailabilityZone, "zone is only pinned when configured")
}

func TestGeneratePassword(t *testing.T) {
	first, err := GeneratePassword()
	require.NoError(t, err)
	second, err := GeneratePassword()
	require.NoError(t, err)

	assert.Len(t, first, 32)
	assert.NotEqual(t, first, second)
	// RDS rejects /, @, " and spaces in master passwords
	assert.NotContains(t, first, "/")
	assert.NotContains(t, first, "@")
	assert.NotContains(t, first, " ")
}

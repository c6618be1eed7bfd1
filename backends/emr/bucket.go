package emr

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yairfalse/perusta/lifecycle"
)

// stagingBucket is the S3 bucket staged before the cluster and
// removed after it, owned exclusively by one cluster.
type stagingBucket struct {
	client *s3.Client
	name   string
	region string
}

func (b *stagingBucket) Name() string { return b.name }

func (b *stagingBucket) Create(ctx context.Context) error {
	input := &s3.CreateBucketInput{
		Bucket: aws.String(b.name),
	}
	// us-east-1 rejects an explicit location constraint
	if b.region != "" && b.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(b.region),
		}
	}

	_, err := b.client.CreateBucket(ctx, input)
	if err != nil {
		// A bucket left over from a failed prior run is ours to reuse
		if isAWSErrorCode(err, "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", b.name, err)
	}
	return nil
}

func (b *stagingBucket) Delete(ctx context.Context) error {
	if err := b.empty(ctx); err != nil {
		return err
	}

	_, err := b.client.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(b.name),
	})
	if err != nil {
		if isAWSErrorCode(err, "NoSuchBucket") {
			return fmt.Errorf("bucket %s: %w", b.name, lifecycle.ErrNotFound)
		}
		return fmt.Errorf("failed to delete bucket %s: %w", b.name, err)
	}
	return nil
}

// empty removes every object so DeleteBucket can succeed
func (b *stagingBucket) empty(ctx context.Context) error {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isAWSErrorCode(err, "NoSuchBucket") {
				return nil
			}
			return fmt.Errorf("failed to list bucket %s: %w", b.name, err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.name),
			Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to empty bucket %s: %w", b.name, err)
		}
	}
	return nil
}

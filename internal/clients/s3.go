package clients

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sony/gobreaker"

	"github.com/LukaK/simbiot/internal/hosting"
)

const s3ProbeName = "s3"

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store implements hosting.ArtifactStore on a single bucket.
type S3Store struct {
	api    s3API
	cb     *gobreaker.CircuitBreaker
	bucket string
}

// NewS3Store builds an S3Store for bucket. Path-style addressing is enabled
// when a custom endpoint is configured so local emulators work.
func NewS3Store(awsCfg aws.Config, cb *gobreaker.CircuitBreaker, bucket string) *S3Store {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = awsCfg.BaseEndpoint != nil
	})
	return &S3Store{api: client, cb: cb, bucket: bucket}
}

// UploadSource packs fsys and stores it under key.
func (s *S3Store) UploadSource(ctx context.Context, key string, fsys fs.FS) (string, error) {
	var buf bytes.Buffer
	if err := hosting.PackSource(&buf, fsys); err != nil {
		return "", err
	}

	_, err := s.cb.Execute(func() (any, error) {
		return s.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(buf.Bytes()),
			ContentLength: aws.Int64(int64(buf.Len())),
			ContentType:   aws.String("application/gzip"),
		})
	})
	if err != nil {
		return "", fmt.Errorf("putting s3://%s/%s: %w", s.bucket, key, breakerErr("s3", err))
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Probe checks that the bucket exists and is reachable.
func (s *S3Store) Probe(ctx context.Context) hosting.ProbeResult {
	return probe(s3ProbeName, s.cb, func() error {
		_, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		return err
	})
}

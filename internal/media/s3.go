package media

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the S3 service. Endpoint and PathStyle serve
// S3-compatible stores such as MinIO.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// S3 stores blobs in one bucket.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 builds a service from the default AWS credential chain.
func NewS3(ctx context.Context, cfg S3Config, optFns ...func(*s3.Options)) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("media: s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("media: load aws config: %w", err)
	}
	return NewS3FromConfig(awsCfg, cfg, optFns...), nil
}

// NewS3FromConfig builds a service from an existing AWS config.
func NewS3FromConfig(awsCfg aws.Config, cfg S3Config, optFns ...func(*s3.Options)) *S3 {
	client := s3.NewFromConfig(awsCfg, append([]func(*s3.Options){func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}}, optFns...)...)
	return &S3{client: client, bucket: cfg.Bucket}
}

func (s *S3) Upload(ctx context.Context, id int64, data []byte, mimetype string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(Key(id)),
		Body:   bytes.NewReader(data),
	}
	if mimetype != "" {
		input.ContentType = aws.String(mimetype)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("media: upload mediafile %d: %w", id, err)
	}
	return nil
}

func (s *S3) Duplicate(ctx context.Context, sourceID, targetID int64) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + Key(sourceID)),
		Key:        aws.String(Key(targetID)),
	})
	if err != nil {
		return fmt.Errorf("media: duplicate mediafile %d to %d: %w", sourceID, targetID, err)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, id int64) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(Key(id)),
	})
	if err != nil {
		return fmt.Errorf("media: delete mediafile %d: %w", id, err)
	}
	return nil
}

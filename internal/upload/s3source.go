package upload

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3API is the subset of *s3.Client used by S3Source.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config locates an S3-compatible store.
type S3Config struct {
	Region       string
	Endpoint     string // empty for AWS
	AccessKey    string // empty to use the default credential chain
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client from cfg.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Source reads an object with ranged GETs, one request per OpenAt.
type S3Source struct {
	api    S3API
	bucket string
	key    string
	size   int64
	etag   string
}

// NewS3Source resolves the object size with HeadObject.
func NewS3Source(ctx context.Context, api S3API, bucket, key string) (*S3Source, error) {
	out, err := api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}
	return &S3Source{
		api:    api,
		bucket: bucket,
		key:    key,
		size:   aws.ToInt64(out.ContentLength),
		etag:   aws.ToString(out.ETag),
	}, nil
}

func (s *S3Source) Name() string { return path.Base(s.key) }
func (s *S3Source) Size() int64  { return s.size }

func (s *S3Source) Fingerprint() string {
	return fmt.Sprintf("s3:%s/%s:%s", s.bucket, s.key, s.etag)
}

func (s *S3Source) OpenAt(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	if err := checkRange(s.Name(), s.size, offset, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s [%d:%d]: %w", s.bucket, s.key, offset, offset+length, err)
	}
	return out.Body, nil
}

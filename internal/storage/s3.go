package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// DefaultS3Timeout bounds every call to S3.
const DefaultS3Timeout = 10 * time.Second

// S3Options configures the S3 medium.
type S3Options struct {
	Bucket          string
	Prefix          string // object key prefix, e.g. "budget/"
	Region          string
	Endpoint        string // optional; enables custom endpoints such as MinIO
	AccessKeyID     string // optional; falls back to the default credentials chain
	SecretAccessKey string
	PathStyle       bool
	Timeout         time.Duration
}

// s3Medium stores each key as an object named <prefix><key>.
type s3Medium struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	prefix     string
	timeout    time.Duration
}

// NewS3Store creates a Store backed by an S3 bucket.
func NewS3Store(ctx context.Context, opts S3Options, prefix string, capacity int64) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 storage requires a bucket")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = opts.PathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultS3Timeout
	}

	m := &s3Medium{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     opts.Bucket,
		prefix:     opts.Prefix,
		timeout:    timeout,
	}
	return newStore(m, prefix, capacity), nil
}

func (m *s3Medium) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

func (m *s3Medium) objectKey(key string) string {
	return m.prefix + key
}

func (m *s3Medium) Ping() error {
	ctx, cancel := m.context()
	defer cancel()
	if _, err := m.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(m.bucket)}); err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", m.bucket, err)
	}
	return nil
}

func (m *s3Medium) Get(key string) (string, error) {
	ctx, cancel := m.context()
	defer cancel()

	buf := manager.NewWriteAtBuffer(nil)
	_, err := m.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return "", errMissing
		}
		return "", fmt.Errorf("downloading object: %w", err)
	}
	return string(buf.Bytes()), nil
}

func (m *s3Medium) Set(key, value string) error {
	ctx, cancel := m.context()
	defer cancel()

	_, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(m.objectKey(key)),
		Body:        strings.NewReader(value),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading object: %w", err)
	}
	return nil
}

func (m *s3Medium) Remove(key string) error {
	ctx, cancel := m.context()
	defer cancel()

	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.objectKey(key)),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("deleting object: %w", err)
	}
	return nil
}

func (m *s3Medium) Keys() ([]string, error) {
	ctx, cancel := m.context()
	defer cancel()

	var keys []string
	p := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(m.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), m.prefix))
		}
	}
	return keys, nil
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/metrics"
	"github.com/google/uuid"
)

// Seams for tests.
var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Options configures an S3Gateway for AWS or an S3-compatible server.
type S3Options struct {
	User          string
	Password      string
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
}

// S3Gateway stores blobs under uploads/YYYY/MM/DD/<uuid>.
type S3Gateway struct {
	client     s3API
	bucket     string
	publicBase string
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewS3Gateway(ctx context.Context, opts S3Options, m *metrics.Metrics) (*S3Gateway, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.User, opts.Password, "")))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	})

	base := opts.PublicBaseURL
	if base == "" {
		base = opts.Endpoint
	}

	return &S3Gateway{
		client:     client,
		bucket:     opts.Bucket,
		publicBase: strings.TrimRight(base, "/"),
		metrics:    m,
		now:        time.Now,
	}, nil
}

func (g *S3Gateway) newKey() string {
	return fmt.Sprintf("uploads/%s/%s", g.now().UTC().Format("2006/01/02"), uuid.NewString())
}

// URL returns the public address of key.
func (g *S3Gateway) URL(key string) string {
	return g.publicBase + "/" + g.bucket + "/" + key
}

func (g *S3Gateway) Put(ctx context.Context, data []byte, mimeType string) (Object, error) {
	key := g.newKey()
	start := time.Now()

	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	g.metrics.ObserveObjectStore("put", err, time.Since(start))
	if err != nil {
		return Object{}, fmt.Errorf("put object: %w", err)
	}

	return Object{URL: g.URL(key), Key: key}, nil
}

func (g *S3Gateway) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	g.metrics.ObserveObjectStore("delete", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (g *S3Gateway) EnsureBucket(ctx context.Context) error {
	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(g.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("head bucket: %w", err)
	}

	if _, err := g.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(g.bucket)}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

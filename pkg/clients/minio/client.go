package minio

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

const tracerName = "github.com/ava-platform/ava-core/pkg/clients/minio"

// ObjectStore is the subset of *minio.Client the wrapper uses.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var _ ObjectStore = (*minio.Client)(nil)

// Client writes objects into one configured bucket.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient validates cfg, creates the MinIO client and checks that the
// endpoint answers.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "minio: invalid configuration")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "minio: failed to create client")
	}

	c := NewFromStore(mc, &cfg)
	if err := c.Health(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFromStore wraps an existing store. Tests use it with a fake.
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Client{
		store:  store,
		config: cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// Bucket is the configured bucket name.
func (c *Client) Bucket() string {
	return c.config.Bucket
}

// EnsureBucket creates the bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context) (err error) {
	ctx, span := c.startSpan(ctx, "EnsureBucket", "MAKE "+c.config.Bucket)
	defer func() { finishSpan(span, err) }()

	exists, err := c.store.BucketExists(ctx, c.config.Bucket)
	if err != nil {
		return wrapError(err, "minio: bucket exists check failed")
	}
	if exists {
		return nil
	}
	err = c.store.MakeBucket(ctx, c.config.Bucket, minio.MakeBucketOptions{Region: c.config.Region})
	if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
		return wrapError(err, "minio: make bucket failed")
	}
	return nil
}

// Object describes a write.
type Object struct {
	Name         string
	Data         []byte
	ContentType  string
	CacheControl string
}

// Put writes obj into the bucket, replacing any previous version.
func (c *Client) Put(ctx context.Context, obj Object) (info minio.UploadInfo, err error) {
	ctx, span := c.startSpan(ctx, "PutObject", "PUT "+c.config.Bucket+"/"+obj.Name)
	defer func() { finishSpan(span, err) }()

	info, err = c.store.PutObject(ctx, c.config.Bucket, obj.Name,
		bytes.NewReader(obj.Data), int64(len(obj.Data)),
		minio.PutObjectOptions{ContentType: obj.ContentType, CacheControl: obj.CacheControl},
	)
	if err != nil {
		return info, wrapError(err, "minio: put object failed")
	}
	return info, nil
}

// Stat returns the object's metadata. A missing object is a NF_001 error.
func (c *Client) Stat(ctx context.Context, name string) (info minio.ObjectInfo, err error) {
	ctx, span := c.startSpan(ctx, "StatObject", "STAT "+c.config.Bucket+"/"+name)
	defer func() { finishSpan(span, err) }()

	info, err = c.store.StatObject(ctx, c.config.Bucket, name, minio.StatObjectOptions{})
	if err == nil {
		return info, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return info, sserr.Wrap(err, sserr.CodeNotFound, "minio: object not found")
	}
	return info, wrapError(err, "minio: stat object failed")
}

// Health checks that the endpoint answers a bucket lookup.
func (c *Client) Health(ctx context.Context) (err error) {
	ctx, span := c.startSpan(ctx, "Health", "HEAD "+c.config.Bucket)
	defer func() { finishSpan(span, err) }()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	if _, err := c.store.BucketExists(ctx, c.config.Bucket); err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, op, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", c.config.Bucket),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return sserr.Wrap(err, sserr.CodeTimeoutDependency, message)
	}
	return sserr.Wrap(err, sserr.CodeUnavailableDependency, message)
}

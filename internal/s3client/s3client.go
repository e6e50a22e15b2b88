// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package s3client dials S3-compatible object stores. It exists so
// the backup services above it never see the AWS SDK: they get a
// narrow session of streams and keys, with store errors mapped onto
// the usual not-found and already-exists classes.
package s3client

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go/logging"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("wharfkeep.s3client")

// deleteBatchSize is the store-side limit for one batch delete call.
const deleteBatchSize = 1000

// Object describes one stored object.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Session provides access to one S3-compatible object store.
type Session interface {
	ReadSession
	WriteSession
	BucketSession
}

// ReadSession provides read access to the object store.
type ReadSession interface {
	// GetObject returns a streaming reader for the object and its
	// size. The caller owns the reader.
	GetObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, int64, error)

	// ListObjects returns the objects under the given key prefix.
	ListObjects(ctx context.Context, bucketName, prefix string) ([]Object, error)
}

// WriteSession provides write access to the object store.
type WriteSession interface {
	// DeleteObject deletes one object. Deleting an absent object
	// succeeds.
	DeleteObject(ctx context.Context, bucketName, objectName string) error

	// DeleteObjects deletes the named objects in batches.
	DeleteObjects(ctx context.Context, bucketName string, objectNames []string) error
}

// BucketSession allows bucket manipulation.
type BucketSession interface {
	// EnsureBucket creates the bucket when it does not already
	// belong to us.
	EnsureBucket(ctx context.Context, bucketName string) error
}

// Config holds what is needed to dial one store.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// S3Session implements Session over the AWS SDK with path-style
// addressing, which every S3-compatible store understands.
type S3Session struct {
	client *s3.Client
}

var _ Session = (*S3Session)(nil)

// NewSession dials the store described by cfg.
func NewSession(ctx context.Context, cfg Config) (*S3Session, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		awsconfig.WithLogger(awsLogger{logger: logger}),
	}
	if logger.IsTraceEnabled() {
		opts = append(opts, awsconfig.WithClientLogMode(aws.LogRetries|aws.LogRequest))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "loading object store config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})
	return &S3Session{client: client}, nil
}

// GetObject is part of the ReadSession interface.
func (s *S3Session) GetObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, int64, error) {
	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(objectName),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, 0, errors.NotFoundf("object %q", objectName)
		}
		return nil, 0, errors.Annotatef(err, "getting object %q", objectName)
	}
	return obj.Body, aws.ToInt64(obj.ContentLength), nil
}

// ListObjects is part of the ReadSession interface.
func (s *S3Session) ListObjects(ctx context.Context, bucketName, prefix string) ([]Object, error) {
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucketName),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Annotatef(err, "listing objects under %q", prefix)
		}
		for _, item := range page.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(item.Key),
				Size:         aws.ToInt64(item.Size),
				LastModified: aws.ToTime(item.LastModified),
			})
		}
	}
	return objects, nil
}

// DeleteObject is part of the WriteSession interface.
func (s *S3Session) DeleteObject(ctx context.Context, bucketName, objectName string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(objectName),
	})
	return errors.Annotatef(err, "deleting object %q", objectName)
}

// DeleteObjects is part of the WriteSession interface.
func (s *S3Session) DeleteObjects(ctx context.Context, bucketName string, objectNames []string) error {
	for len(objectNames) > 0 {
		batch := objectNames
		if len(batch) > deleteBatchSize {
			batch = batch[:deleteBatchSize]
		}
		objectNames = objectNames[len(batch):]

		identifiers := make([]types.ObjectIdentifier, len(batch))
		for i, name := range batch {
			identifiers[i] = types.ObjectIdentifier{Key: aws.String(name)}
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucketName),
			Delete: &types.Delete{
				Objects: identifiers,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return errors.Annotatef(err, "deleting %d objects", len(batch))
		}
	}
	return nil
}

// EnsureBucket is part of the BucketSession interface.
func (s *S3Session) EnsureBucket(ctx context.Context, bucketName string) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		var exists *types.BucketAlreadyExists
		if errors.As(err, &exists) {
			return errors.AlreadyExistsf("bucket %q", bucketName)
		}
		return errors.Annotatef(err, "creating bucket %q", bucketName)
	}
	logger.Infof("created object store bucket %q", bucketName)
	return nil
}

// awsLogger routes SDK log output into our logger at sensible levels.
type awsLogger struct {
	logger loggo.Logger
}

func (l awsLogger) Logf(classification logging.Classification, format string, v ...interface{}) {
	switch classification {
	case logging.Warn:
		l.logger.Warningf(format, v...)
	default:
		l.logger.Tracef(format, v...)
	}
}

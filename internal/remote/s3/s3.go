// Package s3 implements the remote object store on S3-compatible
// storage with CDN-style delivery URLs.
package s3

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/stowage/stowage/internal/logging"
	"github.com/stowage/stowage/internal/metrics"
	"github.com/stowage/stowage/internal/remote"
)

// Config holds S3 connection and delivery settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string

	// CDNBaseHost is the host delivery URLs are built against.
	CDNBaseHost string

	// TypeTTL is the resource-type cache expiry; 0 uses the default.
	TypeTTL time.Duration
}

// Store implements remote.ObjectStore using S3/MinIO. It owns the
// resource-type cache: classification lookups hit HeadObject only on a
// cache miss.
type Store struct {
	client  *awss3.Client
	bucket  string
	cdnHost string
	types   *remote.TypeCache
}

var _ remote.ObjectStore = (*Store)(nil)

// New creates a Store and verifies the bucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.Endpoint,
				HostnameImmutable: true,
			}, nil
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.UsePathStyle = true
	})

	store := &Store{
		client:  client,
		bucket:  cfg.Bucket,
		cdnHost: cfg.CDNBaseHost,
		types:   remote.NewTypeCache(cfg.TypeTTL),
	}

	if err := store.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.Error(err))
	}

	return store, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		_, createErr := s.client.CreateBucket(ctx, &awss3.CreateBucketInput{
			Bucket: aws.String(s.bucket),
		})
		if createErr != nil {
			metrics.RecordRemoteOperation("create_bucket", time.Since(start), false)
			return fmt.Errorf("bucket %s does not exist and cannot create: %w", s.bucket, createErr)
		}
		metrics.RecordRemoteOperation("create_bucket", time.Since(start), true)
		logging.Info("created bucket", zap.String("bucket", s.bucket))
	}
	return nil
}

// Upload stores body under destPath and returns the object id and URLs.
func (s *Store) Upload(ctx context.Context, body io.Reader, size int64, contentType, destPath string) (*remote.UploadResult, error) {
	start := time.Now()
	key := strings.TrimPrefix(destPath, "/")

	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		metrics.RecordRemoteOperation("upload", time.Since(start), false)
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}
	metrics.RecordRemoteOperation("upload", time.Since(start), true)

	rt := remote.TypeFromContentType(contentType)
	s.types.Put(key, rt)

	logging.Debug("uploaded object",
		zap.String("key", key),
		zap.Int64("size", size),
		zap.String("resource_type", string(rt)))
	return &remote.UploadResult{
		ObjectID:  key,
		URL:       s.buildURL(key, false, rt),
		SecureURL: s.buildURL(key, true, rt),
	}, nil
}

// Move relocates an object by copy-then-delete. For raw objects the
// result carries no delivery URLs; the delivery layer does not address
// raw content directly and callers fetch URLs separately if needed.
func (s *Store) Move(ctx context.Context, objectID, destPath string, hint remote.ResourceType) (*remote.MoveResult, error) {
	rt, err := s.resourceType(ctx, objectID, hint)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	newKey := strings.TrimPrefix(destPath, "/")

	_, err = s.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(newKey),
		CopySource: aws.String(s.bucket + "/" + objectID),
	})
	if err != nil {
		metrics.RecordRemoteOperation("move", time.Since(start), false)
		return nil, fmt.Errorf("copy %s -> %s: %w", objectID, newKey, err)
	}

	if _, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectID),
	}); err != nil {
		// The copy stands; the stale source is logged, not fatal.
		logging.Warn("could not delete source object after move",
			zap.String("key", objectID),
			zap.Error(err))
	}
	metrics.RecordRemoteOperation("move", time.Since(start), true)

	s.types.Put(newKey, rt)

	result := &remote.MoveResult{ObjectID: newKey}
	if rt != remote.ResourceRaw {
		result.URL = s.buildURL(newKey, false, rt)
		result.SecureURL = s.buildURL(newKey, true, rt)
	}
	return result, nil
}

// GetURL builds a delivery URL for an existing object.
func (s *Store) GetURL(ctx context.Context, objectID string, secure bool, hint remote.ResourceType) (string, error) {
	rt, err := s.resourceType(ctx, objectID, hint)
	if err != nil {
		return "", err
	}
	return s.buildURL(objectID, secure, rt), nil
}

// GetResourceDetails returns format and classification for an object.
func (s *Store) GetResourceDetails(ctx context.Context, objectID string) (*remote.ResourceDetails, error) {
	format := strings.TrimPrefix(path.Ext(objectID), ".")

	if rt, ok := s.types.Get(objectID); ok {
		return &remote.ResourceDetails{Format: format, ResourceType: rt}, nil
	}

	start := time.Now()
	head, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectID),
	})
	if err != nil {
		metrics.RecordRemoteOperation("head_object", time.Since(start), false)
		return nil, fmt.Errorf("head object %s: %w", objectID, err)
	}
	metrics.RecordRemoteOperation("head_object", time.Since(start), true)

	rt := remote.TypeFromContentType(aws.ToString(head.ContentType))
	s.types.Put(objectID, rt)
	return &remote.ResourceDetails{Format: format, ResourceType: rt}, nil
}

// Delete removes an object.
func (s *Store) Delete(ctx context.Context, objectID string) error {
	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectID),
	})
	if err != nil {
		metrics.RecordRemoteOperation("delete", time.Since(start), false)
		return fmt.Errorf("delete object %s: %w", objectID, err)
	}
	metrics.RecordRemoteOperation("delete", time.Since(start), true)
	return nil
}

// Download streams an object's content.
func (s *Store) Download(ctx context.Context, objectID string) (io.ReadCloser, int64, error) {
	start := time.Now()
	result, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectID),
	})
	if err != nil {
		metrics.RecordRemoteOperation("download", time.Since(start), false)
		return nil, 0, fmt.Errorf("get object %s: %w", objectID, err)
	}
	metrics.RecordRemoteOperation("download", time.Since(start), true)

	size := int64(0)
	if result.ContentLength != nil {
		size = *result.ContentLength
	}
	return result.Body, size, nil
}

// resourceType resolves an object's classification, preferring the
// caller's hint, then the cache, then a HeadObject lookup.
func (s *Store) resourceType(ctx context.Context, objectID string, hint remote.ResourceType) (remote.ResourceType, error) {
	if hint != "" {
		return hint, nil
	}
	details, err := s.GetResourceDetails(ctx, objectID)
	if err != nil {
		return "", err
	}
	return details.ResourceType, nil
}

// buildURL assembles a CDN-style delivery URL:
// {scheme}://{cdn-host}/{resource-type}/upload/{object-id}
func (s *Store) buildURL(objectID string, secure bool, rt remote.ResourceType) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/upload/%s", scheme, s.cdnHost, rt, objectID)
}

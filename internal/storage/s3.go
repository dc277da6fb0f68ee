package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/franz/sparkify-lake/internal/util"
)

// deleteBatchSize is the DeleteObjects per-request key limit
const deleteBatchSize = 1000

// s3API is the subset of *s3.Client used by S3Backend
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Backend stores objects in S3 (or an S3-compatible endpoint). Every
// request is retried on throttling and transient errors with backoff.
type S3Backend struct {
	client s3API
	retry  *util.RetryConfig
}

// NewS3 builds an S3 backend from explicit settings. Static credentials are
// used when present, otherwise the default AWS credential chain applies.
func NewS3(ctx context.Context, settings Settings) (*S3Backend, error) {
	region := settings.Region
	if settings.Credentials.Region != "" {
		region = settings.Credentials.Region
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if !settings.Credentials.IsZero() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				settings.Credentials.AccessKeyID,
				settings.Credentials.SecretAccessKey,
				settings.Credentials.SessionToken,
			)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", util.ErrEngineInit, err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
		}
		o.UsePathStyle = settings.UsePathStyle
		// Retries happen in S3Backend
		o.RetryMaxAttempts = 1
	})

	return newS3WithClient(client, settings.Retry), nil
}

func newS3WithClient(client s3API, retry *util.RetryConfig) *S3Backend {
	if retry == nil {
		retry = util.ObjectStoreRetryConfig()
	}
	return &S3Backend{client: client, retry: retry}
}

// Name implements Backend
func (b *S3Backend) Name() string { return SchemeS3 }

func dirPrefix(key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

// List implements Backend
func (b *S3Backend) List(ctx context.Context, prefix Location) ([]Object, error) {
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(prefix.Bucket),
		Prefix: aws.String(dirPrefix(prefix.Key)),
	})

	var objects []Object
	for paginator.HasMorePages() {
		page, err := util.RetryWithBackoff(ctx, b.retry, func() (*s3.ListObjectsV2Output, error) {
			return paginator.NextPage(ctx)
		}, "list "+prefix.String())
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", util.ErrRead, prefix, err)
		}
		for _, obj := range page.Contents {
			o := Object{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				o.ModTime = *obj.LastModified
			}
			objects = append(objects, o)
		}
	}
	return objects, nil
}

// Open implements Backend
func (b *S3Backend) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	out, err := util.RetryWithBackoff(ctx, b.retry, func() (*s3.GetObjectOutput, error) {
		return b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(loc.Bucket),
			Key:    aws.String(loc.Key),
		})
	}, "get "+loc.String())
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s: %w", util.ErrRead, loc, util.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: get %s: %v", util.ErrRead, loc, err)
	}
	return out.Body, nil
}

// Put implements Backend
func (b *S3Backend) Put(ctx context.Context, loc Location, data []byte) error {
	err := util.Retry(ctx, b.retry, func() error {
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(loc.Bucket),
			Key:           aws.String(loc.Key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
		return err
	}, "put "+loc.String())
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", util.ErrWrite, loc, err)
	}
	return nil
}

// DeletePrefix implements Backend
func (b *S3Backend) DeletePrefix(ctx context.Context, prefix Location) (int, error) {
	objects, err := b.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}
	if err := b.deleteKeys(ctx, prefix.Bucket, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (b *S3Backend) deleteKeys(ctx context.Context, bucket string, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))

		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := util.RetryWithBackoff(ctx, b.retry, func() (*s3.DeleteObjectsOutput, error) {
			return b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
		}, "delete objects in "+bucket)
		if err != nil {
			return fmt.Errorf("%w: delete objects in %s: %v", util.ErrWrite, bucket, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("%w: delete %s: %s", util.ErrWrite,
				aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

// MovePrefix implements PrefixMover with server-side copies
func (b *S3Backend) MovePrefix(ctx context.Context, src, dst Location) (int, error) {
	objects, err := b.List(ctx, src)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		rel, ok := src.Rel(obj.Key)
		if !ok {
			continue
		}
		target := dst.Join(rel)
		err := util.Retry(ctx, b.retry, func() error {
			_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
				Bucket:     aws.String(target.Bucket),
				Key:        aws.String(target.Key),
				CopySource: aws.String(copySource(src.Bucket, obj.Key)),
			})
			return err
		}, "copy "+obj.Key)
		if err != nil {
			return 0, fmt.Errorf("%w: copy %s to %s: %v", util.ErrWrite, obj.Key, target, err)
		}
		keys = append(keys, obj.Key)
	}

	if err := b.deleteKeys(ctx, src.Bucket, keys); err != nil {
		return len(keys), err
	}
	return len(keys), nil
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

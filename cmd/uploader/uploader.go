// Package uploader moves staged files into S3 under a run-scoped prefix.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/airframesio/redshift-loader/cmd/loaderr"
)

const (
	// DefaultMultipartThreshold is the file size above which uploads go through s3manager.
	DefaultMultipartThreshold int64 = 100 * 1024 * 1024

	// deleteBatchSize is the maximum accepted by the DeleteObjects API
	deleteBatchSize = 1000
)

// Error definitions
var (
	ErrBucketRequired = errors.New("S3 bucket is required")
	ErrEmptyPrefix    = errors.New("refusing to clear an empty prefix")
)

// Uploader clears, fills and counts one prefix of a bucket.
type Uploader struct {
	client    s3iface.S3API
	multipart *s3manager.Uploader
	bucket    string
	logger    *slog.Logger

	// MultipartThreshold overrides DefaultMultipartThreshold when positive.
	MultipartThreshold int64
}

// New creates an Uploader for bucket
func New(client s3iface.S3API, bucket string, logger *slog.Logger) (*Uploader, error) {
	if bucket == "" {
		return nil, ErrBucketRequired
	}
	return &Uploader{
		client:    client,
		multipart: s3manager.NewUploaderWithClient(client),
		bucket:    bucket,
		logger:    logger,
	}, nil
}

// Bucket returns the destination bucket name
func (u *Uploader) Bucket() string {
	return u.bucket
}

// Clear deletes every object whose key starts with prefix and returns how many were
// deleted. It must finish before the first upload of a run.
func (u *Uploader) Clear(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("%w: %w", loaderr.ErrUpload, ErrEmptyPrefix)
	}

	keys, err := u.list(ctx, prefix)
	if err != nil {
		return 0, Classify(err, loaderr.ErrUpload, "failed to list s3://%s/%s", u.bucket, prefix)
	}
	if len(keys) == 0 {
		u.logger.Debug(fmt.Sprintf("  🧹 Nothing to clear under s3://%s/%s", u.bucket, prefix))
		return 0, nil
	}

	objects := make([]*s3.ObjectIdentifier, len(keys))
	for i, key := range keys {
		objects[i] = &s3.ObjectIdentifier{Key: aws.String(key)}
	}

	for i := 0; i < len(objects); i += deleteBatchSize {
		j := i + deleteBatchSize
		if j > len(objects) {
			j = len(objects)
		}
		out, err := u.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(u.bucket),
			Delete: &s3.Delete{
				Objects: objects[i:j],
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return i, Classify(err, loaderr.ErrUpload, "failed to delete objects under s3://%s/%s", u.bucket, prefix)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			err := awserr.New(aws.StringValue(first.Code), aws.StringValue(first.Message), nil)
			return i, Classify(err, loaderr.ErrUpload, "failed to delete %d objects, first %s",
				len(out.Errors), aws.StringValue(first.Key))
		}
	}

	u.logger.Info(fmt.Sprintf("🧹 Cleared %d objects under s3://%s/%s", len(keys), u.bucket, prefix))
	return len(keys), nil
}

// Count returns the number of objects whose key starts with prefix.
func (u *Uploader) Count(ctx context.Context, prefix string) (int, error) {
	keys, err := u.list(ctx, prefix)
	if err != nil {
		return 0, Classify(err, loaderr.ErrLoad, "failed to list s3://%s/%s", u.bucket, prefix)
	}
	return len(keys), nil
}

func (u *Uploader) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var continuationToken *string

	for {
		result, err := u.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(u.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, err
		}

		for _, obj := range result.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}

		if !aws.BoolValue(result.IsTruncated) || result.NextContinuationToken == nil {
			return keys, nil
		}
		continuationToken = result.NextContinuationToken
	}
}

// Upload pushes the local file at path to key.
func (u *Uploader) Upload(ctx context.Context, path, key, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return loaderr.Wrap(loaderr.ErrUpload, err, "failed to open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return loaderr.Wrap(loaderr.ErrUpload, err, "failed to stat %s", path)
	}

	u.logger.Debug(fmt.Sprintf("  ☁️  Uploading to s3://%s/%s (size: %d bytes)", u.bucket, key, info.Size()))

	threshold := u.MultipartThreshold
	if threshold <= 0 {
		threshold = DefaultMultipartThreshold
	}

	if info.Size() > threshold {
		_, err = u.multipart.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(contentType),
		})
	} else {
		_, err = u.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(u.bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(info.Size()),
			ContentType:   aws.String(contentType),
		})
	}
	if err != nil {
		return Classify(err, loaderr.ErrUpload, "failed to upload %s to s3://%s/%s", path, u.bucket, key)
	}
	return nil
}

// Classify wraps an AWS error with the matching category. Errors that are neither
// credential nor connection problems get fallback.
func Classify(err error, fallback error, format string, args ...interface{}) error {
	return loaderr.Wrap(category(err, fallback), err, format, args...)
}

func category(err error, fallback error) error {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusForbidden {
		return loaderr.ErrCredential
	}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"ExpiredToken", "InvalidToken", "NoCredentialProviders":
			return loaderr.ErrCredential
		case request.ErrCodeRequestError, request.ErrCodeResponseTimeout, "RequestTimeout":
			return loaderr.ErrConnection
		}
	}
	return fallback
}

package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/tendant/simple-blob/pkg/blobstorage"
)

const backendName = "s3"

// Client is the subset of the S3 API the backend uses. *s3.Client satisfies it.
type Client interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Backend is an S3-compatible implementation of the blobstorage.Backend interface
type Backend struct {
	client      Client
	uploader    *manager.Uploader
	bucket      string
	config      Config
	maxAttempts int
}

// New creates a new S3-compatible storage backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.Region == "" {
		config.Region = defaultRegion
	}

	// Set up AWS config
	var awsCfg aws.Config
	var err error

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(config.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				config.SessionToken,
			)),
		)
	} else {
		// Ambient credentials: env, shared config, instance/task role
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(config.Region),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Options []func(*s3.Options)
	if config.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}
	if config.UsePathStyle {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewWithClient(ctx, s3.NewFromConfig(awsCfg, s3Options...), config)
}

// NewWithClient creates a backend over an existing client
func NewWithClient(ctx context.Context, client Client, config Config) (*Backend, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = defaultRegion
	}
	if config.MaxCreateAttempts <= 0 {
		config.MaxCreateAttempts = defaultMaxCreateAttempts
	}

	backend := &Backend{
		client:      client,
		uploader:    manager.NewUploader(client),
		bucket:      config.Bucket,
		config:      config,
		maxAttempts: config.MaxCreateAttempts,
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(ctx); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

// Bucket returns the bucket the backend writes to
func (b *Backend) Bucket() string {
	return b.bucket
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}

	// MinIO and AWS disagree on how a missing bucket is reported
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		statusCode(err) != http.StatusNotFound &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}
	if b.config.Region != defaultRegion {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	_, err = b.client.CreateBucket(ctx, createInput)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) ||
			strings.Contains(err.Error(), "BucketAlreadyExists") ||
			strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
			return nil
		}
		return err
	}

	return nil
}

func storageErr(op, key string, err error) error {
	return &blobstorage.StorageError{Backend: backendName, Key: key, Op: op, Err: err}
}

// statusCode extracts the HTTP status from an SDK error, or 0.
func statusCode(err error) int {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.Response != nil {
		return respErr.HTTPStatusCode()
	}
	return 0
}

// isNameConflict reports whether a conditional put lost to an existing object.
func isNameConflict(err error) bool {
	code := statusCode(err)
	return code == http.StatusConflict || code == http.StatusPreconditionFailed
}

// Get downloads the object stored under blobID
func (b *Backend) Get(ctx context.Context, blobID string) ([]byte, error) {
	if err := blobstorage.ValidateBlobID(blobID); err != nil {
		return nil, storageErr("get", blobID, err)
	}

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(blobID),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) || statusCode(err) == http.StatusNotFound {
			return nil, storageErr("get", blobID, blobstorage.ErrBlobNotFound)
		}
		return nil, storageErr("get", blobID, fmt.Errorf("failed to download from S3: %w", err))
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, storageErr("get", blobID, fmt.Errorf("failed to read object body: %w", err))
	}

	return data, nil
}

// Create uploads data under a new random key. The put is conditional on the
// key not existing; a naming conflict is retried with a fresh id up to the
// configured number of attempts.
func (b *Backend) Create(ctx context.Context, data []byte) (string, error) {
	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		blobID := blobstorage.NewBlobID()
		_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(blobID),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			IfNoneMatch:   aws.String("*"),
		})
		if err == nil {
			return blobID, nil
		}
		if isNameConflict(err) {
			continue
		}
		return "", storageErr("create", blobID, fmt.Errorf("failed to upload to S3: %w", err))
	}

	return "", storageErr("create", "", blobstorage.ErrIDGenerationExhausted)
}

// Update unconditionally overwrites the object stored under blobID
func (b *Backend) Update(ctx context.Context, blobID string, data []byte) (string, error) {
	if err := blobstorage.ValidateBlobID(blobID); err != nil {
		return "", storageErr("update", blobID, err)
	}

	_, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(blobID),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", storageErr("update", blobID, fmt.Errorf("failed to upload to S3: %w", err))
	}

	return blobID, nil
}

// Delete removes the object stored under blobID; a missing object is not an error
func (b *Backend) Delete(ctx context.Context, blobID string) error {
	if err := blobstorage.ValidateBlobID(blobID); err != nil {
		return storageErr("delete", blobID, err)
	}

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(blobID),
	})
	if err != nil && statusCode(err) != http.StatusNotFound {
		return storageErr("delete", blobID, fmt.Errorf("failed to delete from S3: %w", err))
	}

	return nil
}

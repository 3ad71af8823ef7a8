package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-blob/pkg/blobstorage"
)

func httpErr(code int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
		Err:      fmt.Errorf("http status %d", code),
	}
}

// fakeClient is an in-memory stand-in for the S3 API
type fakeClient struct {
	mu      sync.Mutex
	objects map[string][]byte
	buckets map[string]bool

	conflicts     int // conditional puts to reject before accepting
	putCalls      int
	putErr        error
	createBuckets []*s3.CreateBucketInput
}

func newFakeClient(buckets ...string) *fakeClient {
	f := &fakeClient{objects: map[string][]byte{}, buckets: map[string]bool{}}
	for _, b := range buckets {
		f.buckets[b] = true
	}
	return f
}

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++

	if f.putErr != nil {
		return nil, f.putErr
	}
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if f.conflicts > 0 {
			f.conflicts--
			return nil, httpErr(http.StatusPreconditionFailed)
		}
		if _, exists := f.objects[key]; exists {
			return nil, httpErr(http.StatusPreconditionFailed)
		}
	}
	f.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart upload not supported by fake")
}

func (f *fakeClient) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not supported by fake")
}

func (f *fakeClient) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart upload not supported by fake")
}

func (f *fakeClient) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeClient) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (f *fakeClient) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeClient) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.buckets[aws.ToString(in.Bucket)] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeClient) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createBuckets = append(f.createBuckets, in)
	f.buckets[aws.ToString(in.Bucket)] = true
	return &s3.CreateBucketOutput{}, nil
}

func newTestBackend(t *testing.T, client *fakeClient, cfg Config) *Backend {
	t.Helper()
	if cfg.Bucket == "" {
		cfg.Bucket = "blobs"
	}
	b, err := NewWithClient(context.Background(), client, cfg)
	require.NoError(t, err)
	return b
}

func TestNewWithClient_Validation(t *testing.T) {
	_, err := NewWithClient(context.Background(), nil, Config{Bucket: "b"})
	assert.Error(t, err)

	_, err = NewWithClient(context.Background(), newFakeClient(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name is required")

	_, err = New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNewWithClient_CreatesBucket(t *testing.T) {
	t.Run("default region", func(t *testing.T) {
		client := newFakeClient()
		b := newTestBackend(t, client, Config{Bucket: "fresh", CreateBucketIfNotExist: true})
		assert.Equal(t, "fresh", b.Bucket())
		require.Len(t, client.createBuckets, 1)
		assert.Nil(t, client.createBuckets[0].CreateBucketConfiguration)
	})

	t.Run("other region sets location", func(t *testing.T) {
		client := newFakeClient()
		newTestBackend(t, client, Config{Bucket: "fresh", Region: "eu-west-1", CreateBucketIfNotExist: true})
		require.Len(t, client.createBuckets, 1)
		require.NotNil(t, client.createBuckets[0].CreateBucketConfiguration)
		assert.Equal(t, types.BucketLocationConstraint("eu-west-1"), client.createBuckets[0].CreateBucketConfiguration.LocationConstraint)
	})

	t.Run("existing bucket", func(t *testing.T) {
		client := newFakeClient("present")
		newTestBackend(t, client, Config{Bucket: "present", CreateBucketIfNotExist: true})
		assert.Empty(t, client.createBuckets)
	})

	t.Run("disabled", func(t *testing.T) {
		client := newFakeClient()
		newTestBackend(t, client, Config{Bucket: "fresh"})
		assert.Empty(t, client.createBuckets)
	})
}

func TestBackend_RoundTrip(t *testing.T) {
	client := newFakeClient("blobs")
	b := newTestBackend(t, client, Config{})
	ctx := context.Background()

	blobID, err := b.Create(ctx, []byte("hello s3"))
	require.NoError(t, err)
	assert.NoError(t, blobstorage.ValidateBlobID(blobID))

	got, err := b.Get(ctx, blobID)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello s3"), got)

	updatedID, err := b.Update(ctx, blobID, []byte("updated"))
	require.NoError(t, err)
	assert.Equal(t, blobID, updatedID)

	got, err = b.Get(ctx, blobID)
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), got)

	require.NoError(t, b.Delete(ctx, blobID))
	_, err = b.Get(ctx, blobID)
	assert.ErrorIs(t, err, blobstorage.ErrBlobNotFound)

	// Deleting a missing object is fine
	assert.NoError(t, b.Delete(ctx, blobID))
}

func TestBackend_CreateRetriesOnConflict(t *testing.T) {
	client := newFakeClient("blobs")
	client.conflicts = 2
	b := newTestBackend(t, client, Config{})

	blobID, err := b.Create(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 3, client.putCalls)
	assert.Contains(t, client.objects, blobID)
}

func TestBackend_CreateExhaustsAttempts(t *testing.T) {
	client := newFakeClient("blobs")
	client.conflicts = 100
	b := newTestBackend(t, client, Config{})

	_, err := b.Create(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, blobstorage.ErrIDGenerationExhausted)
	assert.Equal(t, defaultMaxCreateAttempts, client.putCalls)
	assert.Empty(t, client.objects)

	client.putCalls = 0
	limited := newTestBackend(t, client, Config{MaxCreateAttempts: 2})
	_, err = limited.Create(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, blobstorage.ErrIDGenerationExhausted)
	assert.Equal(t, 2, client.putCalls)
}

func TestBackend_CreateDoesNotRetryOtherErrors(t *testing.T) {
	client := newFakeClient("blobs")
	client.putErr = httpErr(http.StatusForbidden)
	b := newTestBackend(t, client, Config{})

	_, err := b.Create(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, blobstorage.ErrIDGenerationExhausted)
	assert.Equal(t, 1, client.putCalls)
}

func TestBackend_InvalidIDs(t *testing.T) {
	b := newTestBackend(t, newFakeClient("blobs"), Config{})
	ctx := context.Background()

	_, err := b.Get(ctx, "")
	assert.ErrorIs(t, err, blobstorage.ErrInvalidBlobID)
	_, err = b.Update(ctx, "a/../b", []byte("x"))
	assert.ErrorIs(t, err, blobstorage.ErrInvalidBlobID)
	assert.ErrorIs(t, b.Delete(ctx, ".."), blobstorage.ErrInvalidBlobID)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusCode(fmt.Errorf("wrapped: %w", httpErr(http.StatusConflict))))
	assert.Equal(t, 0, statusCode(errors.New("plain")))
	assert.True(t, isNameConflict(httpErr(http.StatusConflict)))
	assert.True(t, isNameConflict(httpErr(http.StatusPreconditionFailed)))
	assert.False(t, isNameConflict(httpErr(http.StatusNotFound)))
}

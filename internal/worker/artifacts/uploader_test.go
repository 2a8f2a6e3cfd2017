package artifacts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	bucket string
	key    string
	body   string
	opts   minio.PutObjectOptions
}

type fakePutter struct {
	calls []putCall
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.calls = append(f.calls, putCall{bucket: bucketName, key: objectName, body: string(body), opts: opts})
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "jobs/abc/perf.json", ObjectKey("abc", "perf.json"))
	assert.Equal(t, "jobs/abc/Dockerfile", ObjectKey("abc", "Dockerfile"))
	assert.Equal(t, "jobs/abc/passwd", ObjectKey("abc", "../../etc/passwd"))
}

func TestUploader_Upload(t *testing.T) {
	fake := &fakePutter{}
	u := NewUploader(fake, "job-artifacts", slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, u.Upload(context.Background(), "abc", "perf.json", []byte(`{"perf":0.5}`)))
	require.NoError(t, u.Upload(context.Background(), "abc", "Dockerfile", []byte("FROM base\n")))

	require.Len(t, fake.calls, 2)
	assert.Equal(t, "job-artifacts", fake.calls[0].bucket)
	assert.Equal(t, "jobs/abc/perf.json", fake.calls[0].key)
	assert.Equal(t, `{"perf":0.5}`, fake.calls[0].body)
	assert.Equal(t, "application/json", fake.calls[0].opts.ContentType)
	assert.Equal(t, "abc", fake.calls[0].opts.UserMetadata["job-id"])
	assert.Equal(t, "text/plain; charset=utf-8", fake.calls[1].opts.ContentType)
}

func TestUploader_Error(t *testing.T) {
	u := NewUploader(&fakePutter{err: errors.New("access denied")}, "b", slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := u.Upload(context.Background(), "abc", "perf.json", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobs/abc/perf.json")
	assert.Contains(t, err.Error(), "access denied")
}

// Package artifacts copies finished job files to an S3 compatible bucket
package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
)

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectKey is the object name of a job file
func ObjectKey(jobID, name string) string {
	return path.Join("jobs", jobID, filepath.Base(name))
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".json":
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Uploader implements pipeline.Uploader
type Uploader struct {
	logger *slog.Logger
	client objectPutter
	bucket string
}

// NewUploader binds an uploader to a bucket
func NewUploader(client objectPutter, bucket string, logger *slog.Logger) *Uploader {
	return &Uploader{
		logger: logger,
		client: client,
		bucket: bucket,
	}
}

// Upload stores one job file under jobs/<job_id>/<name>
func (u *Uploader) Upload(ctx context.Context, jobID, name string, data []byte) error {
	key := ObjectKey(jobID, name)

	info, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType(name),
		UserMetadata: map[string]string{"job-id": jobID},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	u.logger.Debug("Uploaded job file",
		slog.String("bucket", u.bucket),
		slog.String("key", key),
		slog.Int64("size", info.Size),
	)
	return nil
}

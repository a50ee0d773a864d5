package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/Rajchodisetti/sensex-scalper/internal/observ"
)

// Uploader copies report artifacts to a GCS bucket. Credentials come from
// the environment (application default credentials).
type Uploader struct {
	bucket string
	prefix string
}

func NewUploader(bucket, prefix string) *Uploader {
	return &Uploader{bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// ObjectName places a local file under prefix/runID/.
func (u *Uploader) ObjectName(runID, localPath string) string {
	return path.Join(u.prefix, runID, filepath.Base(localPath))
}

func (u *Uploader) Upload(ctx context.Context, runID string, files ...string) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("gcs client: %w", err)
	}
	defer client.Close()

	bucket := client.Bucket(u.bucket)
	for _, f := range files {
		name := u.ObjectName(runID, f)
		if err := copyFile(ctx, bucket.Object(name), f); err != nil {
			return fmt.Errorf("upload %s: %w", f, err)
		}
		observ.Log("report_uploaded", map[string]any{"bucket": u.bucket, "object": name})
	}
	return nil
}

func copyFile(ctx context.Context, obj *storage.ObjectHandle, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	writer := obj.NewWriter(ctx)
	if _, err := io.Copy(writer, src); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// multipartThreshold is both the size above which archive files go through
// the transfer manager and its part size. S3 rejects parts under 5 MiB.
const multipartThreshold int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter for archive files.
type Writer struct {
	client   *s3.Client
	bucket   string
	uploader *manager.Uploader
}

// NewWriter creates a Writer over c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
		uploader: manager.NewUploader(c.S3(), func(u *manager.Uploader) {
			u.PartSize = multipartThreshold
		}),
	}
}

// Put stores an archive file. Months larger than multipartThreshold are
// uploaded in parts; smaller ones in a single PutObject.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(archiveContentType),
	}

	if size > multipartThreshold {
		if _, err := w.uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s (%d bytes): %w", path, size, err)
		}
		return nil
	}

	input.ContentLength = aws.Int64(size)
	if _, err := w.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BlobWriter = (*Writer)(nil)

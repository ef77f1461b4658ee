package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one archive file.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter stores archive files. size is the body length in bytes and lets
// the implementation pick a single or multipart upload.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, size int64) error
}

// BlobReader reads archive files back. Get on a missing path wraps
// ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver moves answers computed before a cutoff out of the database and
// into monthly archive files, returning how many it moved.
type Archiver interface {
	ArchiveAnswers(ctx context.Context, before time.Time) (int64, error)
}

package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves old opportunity history from the database to cold storage
// and reads it back.
type Archiver interface {
	ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error)
	// ListArchives returns the stored archive objects, oldest first.
	ListArchives(ctx context.Context) ([]BlobInfo, error)
	// LoadArchive returns every opportunity archived for a UTC day
	// (YYYY-MM-DD), across all of that day's parts.
	LoadArchive(ctx context.Context, day string) ([]ArbitrageOpportunity, error)
}

package object

import (
	"context"
	"io"
	"time"
)

// Info describes one stored object for listings and cleanup decisions.
type Info struct {
	Key          string
	SizeBytes    int64
	LastModified time.Time
}

// ObjectStore defines the contract for saving and retrieving binary objects.
type ObjectStore interface {
	Save(ctx context.Context, userID string, fileName string, r io.Reader) (storageKey string, sizeBytes int64, mimeType string, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, storageKey string) error
	List(ctx context.Context) ([]Info, error)
	// TotalBytes enumerates every stored object and sums sizes. It is an
	// expensive full listing; callers cache the result behind a TTL.
	TotalBytes(ctx context.Context) (int64, error)
}

// URLSigner issues a time-limited, externally fetchable URL for an object.
// The analysis provider pulls media through these URLs.
type URLSigner interface {
	PresignGet(ctx context.Context, storageKey string, ttl time.Duration) (string, error)
}

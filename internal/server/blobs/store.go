// Package blobs holds the persistent artifact store adapters. Names are
// slash-separated keys relative to the store root or bucket.
package blobs

import (
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/asyncupload/internal/common"
	"github.com/dmitrijs2005/asyncupload/internal/logging"
	"github.com/dmitrijs2005/asyncupload/internal/server/config"
)

// Store is the artifact storage used by reassembly, the cleanup pass and the
// delete endpoint.
type Store interface {
	// Save publishes r under name atomically. size is the content length, or -1
	// when unknown.
	Save(ctx context.Context, name string, r io.Reader, size int64) error
	Exists(ctx context.Context, name string) (bool, error)
	// Delete removes name; common.ErrorNotFound when it is absent.
	Delete(ctx context.Context, name string) error
	Size(ctx context.Context, name string) (int64, error)
	URL(ctx context.Context, name string) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// New returns the backend selected by cfg.StorageBackend.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (Store, error) {
	switch cfg.StorageBackend {
	case "", "fs":
		return NewFSStore(cfg.StorageDir, cfg.StorageBaseURL, logger)
	case "s3":
		return NewS3Store(ctx, cfg, logger)
	case "gcs":
		return NewGCSStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("storage backend %q: %w", cfg.StorageBackend, common.ErrUnsupportedBackend)
	}
}

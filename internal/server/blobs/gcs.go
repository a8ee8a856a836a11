package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dmitrijs2005/asyncupload/internal/common"
	"github.com/dmitrijs2005/asyncupload/internal/logging"
	"github.com/dmitrijs2005/asyncupload/internal/server/config"
)

var newGCSClient = storage.NewClient

// GCSStore keeps artifacts in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	logger logging.Logger
}

// NewGCSStore uses the credentials file when configured and Application
// Default Credentials otherwise.
func NewGCSStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (*GCSStore, error) {
	if cfg.GCSBucket == "" {
		return nil, errors.New("gcs: missing bucket")
	}

	var opts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}

	client, err := newGCSClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}

	return newGCSStore(client, cfg.GCSBucket, logger), nil
}

func newGCSStore(client *storage.Client, bucket string, logger logging.Logger) *GCSStore {
	return &GCSStore{
		client: client,
		bucket: bucket,
		logger: logger.With("module", "blobs", "backend", "gcs"),
	}
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) object(name string) (*storage.ObjectHandle, string, error) {
	key, err := cleanName(name)
	if err != nil {
		return nil, "", err
	}
	return s.client.Bucket(s.bucket).Object(key), key, nil
}

// Save streams r into an object writer; the object becomes visible only when
// Close commits it, and a failed copy is never committed.
func (s *GCSStore) Save(ctx context.Context, name string, r io.Reader, size int64) error {
	obj, key, err := s.object(name)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := obj.NewWriter(wctx)
	w.ContentType = "application/octet-stream"

	n, err := io.Copy(w, r)
	if err != nil {
		// cancelling before Close aborts the upload
		cancel()
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("commit object %s: %w", key, err)
	}

	s.logger.Info(ctx, "artifact saved", "path", key, "size", n)
	return nil
}

func (s *GCSStore) Exists(ctx context.Context, name string) (bool, error) {
	obj, key, err := s.object(name)
	if err != nil {
		return false, err
	}

	_, err = obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("attrs %s: %w", key, err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, name string) error {
	obj, key, err := s.object(name)
	if err != nil {
		return err
	}

	err = obj.Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", key, common.ErrorNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	s.logger.Info(ctx, "artifact deleted", "path", key)
	return nil
}

func (s *GCSStore) Size(ctx context.Context, name string) (int64, error) {
	obj, key, err := s.object(name)
	if err != nil {
		return 0, err
	}

	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return 0, fmt.Errorf("size %s: %w", key, common.ErrorNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("size %s: %w", key, err)
	}
	return attrs.Size, nil
}

// URL returns the public object URL; access control is left to the bucket.
func (s *GCSStore) URL(ctx context.Context, name string) (string, error) {
	key, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return url.JoinPath("https://storage.googleapis.com", append([]string{s.bucket}, strings.Split(key, "/")...)...)
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	names := []string{}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

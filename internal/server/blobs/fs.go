package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/asyncupload/internal/common"
	"github.com/dmitrijs2005/asyncupload/internal/filex"
	"github.com/dmitrijs2005/asyncupload/internal/logging"
)

// FSStore keeps artifacts under a local directory.
type FSStore struct {
	root    string
	baseURL string
	logger  logging.Logger
}

func NewFSStore(dir, baseURL string, logger logging.Logger) (*FSStore, error) {
	root, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	return &FSStore{
		root:    root,
		baseURL: baseURL,
		logger:  logger.With("module", "blobs", "backend", "fs"),
	}, nil
}

// cleanName normalizes a slash-separated name and rejects anything that would
// leave the store root.
func cleanName(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.ContainsAny(name, "\\\x00") {
		return "", fmt.Errorf("name %q: %w", name, common.ErrInvalidPath)
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("name %q: %w", name, common.ErrInvalidPath)
	}
	return cleaned, nil
}

func (s *FSStore) resolve(name string) (string, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *FSStore) Save(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.resolve(name)
	if err != nil {
		return err
	}

	n, err := filex.WriteAtomic(p, r)
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "artifact saved", "path", name, "size", n)
	return nil
}

func (s *FSStore) Exists(ctx context.Context, name string) (bool, error) {
	p, err := s.resolve(name)
	if err != nil {
		return false, err
	}

	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", name, err)
	}
	return !fi.IsDir(), nil
}

func (s *FSStore) Delete(ctx context.Context, name string) error {
	p, err := s.resolve(name)
	if err != nil {
		return err
	}

	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", name, common.ErrorNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}

	s.logger.Info(ctx, "artifact deleted", "path", name)
	return nil
}

func (s *FSStore) Size(ctx context.Context, name string) (int64, error) {
	p, err := s.resolve(name)
	if err != nil {
		return 0, err
	}

	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("size %s: %w", name, common.ErrorNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("size %s: %w", name, err)
	}
	return fi.Size(), nil
}

// URL joins the configured public base URL with name.
func (s *FSStore) URL(ctx context.Context, name string) (string, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return "", err
	}
	if s.baseURL == "" {
		return "/" + cleaned, nil
	}
	return url.JoinPath(s.baseURL, strings.Split(cleaned, "/")...)
}

// List returns names starting with prefix in lexical order. Temp files of
// in-flight saves are skipped.
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	names := []string{}

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filex.IsTemp(p) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return names, nil
}

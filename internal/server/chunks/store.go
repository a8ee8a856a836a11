// Package chunks is the transient chunk store: one directory per upload
// identifier under a local root, one file per chunk index.
//
// Chunk files are published with filex.WriteAtomic, so a final chunk name
// never refers to a truncated write. Resends of the same index overwrite.
package chunks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/asyncupload/internal/common"
	"github.com/dmitrijs2005/asyncupload/internal/filex"
	"github.com/dmitrijs2005/asyncupload/internal/logging"
)

const partPrefix = "part_"

var validIdentifier = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

type FileStore struct {
	root   string
	logger logging.Logger
	now    func() time.Time
}

// NewFileStore creates the root directory if needed and returns a store over it.
func NewFileStore(dir string, logger logging.Logger) (*FileStore, error) {
	root, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("chunk dir: %w", err)
	}
	return &FileStore{
		root:   root,
		logger: logger.With("module", "chunks"),
		now:    time.Now,
	}, nil
}

// Root returns the absolute chunk directory.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) uploadDir(id string) (string, error) {
	if !validIdentifier.MatchString(id) || id == "." || id == ".." {
		return "", fmt.Errorf("upload identifier %q: %w", id, common.ErrInvalidPath)
	}
	return filepath.Join(s.root, id), nil
}

func (s *FileStore) chunkPath(id string, index int) (string, error) {
	if index < 1 {
		return "", fmt.Errorf("chunk index %d: %w", index, common.ErrInvalidDescriptor)
	}
	dir, err := s.uploadDir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("%s%05d", partPrefix, index)), nil
}

// Write stores chunk index of upload id from r and returns the bytes written.
func (s *FileStore) Write(ctx context.Context, id string, index int, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p, err := s.chunkPath(id, index)
	if err != nil {
		return 0, err
	}

	n, err := filex.WriteAtomic(p, r)
	if err != nil {
		return n, fmt.Errorf("write chunk %d of %s: %w", index, id, err)
	}

	s.logger.Debug(ctx, "chunk written", "upload_id", id, "chunk", index, "size", n)
	return n, nil
}

// Exists reports whether the chunk is present. A negative expectedSize accepts
// any size, otherwise the stored size must equal it.
func (s *FileStore) Exists(ctx context.Context, id string, index int, expectedSize int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	p, err := s.chunkPath(id, index)
	if err != nil {
		return false, err
	}

	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat chunk %d of %s: %w", index, id, err)
	}

	if expectedSize >= 0 && fi.Size() != expectedSize {
		return false, nil
	}
	return true, nil
}

// AllPresent reports whether chunks 1..totalChunks are all stored and, when
// totalSize is positive, their sizes add up to it.
func (s *FileStore) AllPresent(ctx context.Context, id string, totalChunks int, totalSize int64) (bool, error) {
	if totalChunks < 1 {
		return false, fmt.Errorf("total chunks %d: %w", totalChunks, common.ErrInvalidDescriptor)
	}

	var sum int64
	for i := 1; i <= totalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		p, err := s.chunkPath(id, i)
		if err != nil {
			return false, err
		}

		fi, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("stat chunk %d of %s: %w", i, id, err)
		}
		sum += fi.Size()
	}

	if totalSize > 0 && sum != totalSize {
		return false, nil
	}
	return true, nil
}

// ReadInOrder returns a reader over chunks 1..totalChunks concatenated in index
// order. Files are opened one at a time; a chunk missing at read time surfaces
// as a read error.
func (s *FileStore) ReadInOrder(ctx context.Context, id string, totalChunks int) (io.ReadCloser, error) {
	if totalChunks < 1 {
		return nil, fmt.Errorf("total chunks %d: %w", totalChunks, common.ErrInvalidDescriptor)
	}

	paths := make([]string, 0, totalChunks)
	for i := 1; i <= totalChunks; i++ {
		p, err := s.chunkPath(id, i)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}

	return &sequentialReader{ctx: ctx, paths: paths}, nil
}

// Purge removes every chunk of upload id. A missing upload is not an error.
func (s *FileStore) Purge(ctx context.Context, id string) error {
	dir, err := s.uploadDir(id)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purge %s: %w", id, err)
	}

	s.logger.Debug(ctx, "chunks purged", "upload_id", id)
	return nil
}

// List returns the stored chunk indices of upload id in ascending order.
func (s *FileStore) List(ctx context.Context, id string) ([]int, error) {
	dir, err := s.uploadDir(id)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", id, err)
	}

	indices := make([]int, 0, len(entries))
	for _, e := range entries {
		if idx, ok := parsePartName(e.Name()); ok && !e.IsDir() {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	return indices, nil
}

// PurgeStale removes upload directories whose newest file is older than
// olderThan and returns how many were removed. Errors on single directories are
// logged and skipped.
func (s *FileStore) PurgeStale(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("read chunk dir: %w", err)
	}

	cutoff := s.now().Add(-olderThan)
	removed := 0

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !e.IsDir() {
			continue
		}

		dir := filepath.Join(s.root, e.Name())
		newest, err := newestModTime(dir)
		if err != nil {
			s.logger.Warn(ctx, "stale scan failed", "upload_id", e.Name(), "error", err)
			continue
		}
		if newest.After(cutoff) {
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn(ctx, "stale purge failed", "upload_id", e.Name(), "error", err)
			continue
		}
		removed++
		s.logger.Info(ctx, "stale upload purged", "upload_id", e.Name(), "last_write", newest)
	}

	return removed, nil
}

func newestModTime(dir string) (time.Time, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, err
	}
	newest := fi.ModTime()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return time.Time{}, err
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// removed concurrently
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, nil
}

func parsePartName(name string) (int, bool) {
	if !strings.HasPrefix(name, partPrefix) || filex.IsTemp(name) {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(name, partPrefix))
	if err != nil || idx < 1 {
		return 0, false
	}
	return idx, true
}

type sequentialReader struct {
	ctx   context.Context
	paths []string
	cur   *os.File
	next  int
}

func (r *sequentialReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if r.next >= len(r.paths) {
				return 0, io.EOF
			}
			if err := r.ctx.Err(); err != nil {
				return 0, err
			}
			f, err := os.Open(r.paths[r.next])
			if err != nil {
				return 0, fmt.Errorf("open chunk %d: %w", r.next+1, err)
			}
			r.cur = f
			r.next++
		}

		n, err := r.cur.Read(p)
		if errors.Is(err, io.EOF) {
			cerr := r.cur.Close()
			r.cur = nil
			if cerr != nil {
				return n, cerr
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *sequentialReader) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	r.next = len(r.paths)
	return err
}

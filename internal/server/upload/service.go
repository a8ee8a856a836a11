package upload

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/asyncupload/internal/logging"
)

// ChunkStore is the transient chunk storage (see chunks.FileStore).
type ChunkStore interface {
	Write(ctx context.Context, id string, index int, r io.Reader) (int64, error)
	Exists(ctx context.Context, id string, index int, expectedSize int64) (bool, error)
	AllPresent(ctx context.Context, id string, totalChunks int, totalSize int64) (bool, error)
	ReadInOrder(ctx context.Context, id string, totalChunks int) (io.ReadCloser, error)
	Purge(ctx context.Context, id string) error
	List(ctx context.Context, id string) ([]int, error)
}

// BlobStore is the part of the persistent store reassembly needs.
type BlobStore interface {
	Save(ctx context.Context, name string, r io.Reader, size int64) error
	Exists(ctx context.Context, name string) (bool, error)
	URL(ctx context.Context, name string) (string, error)
}

// Tracker is the per-session ledger of uploaded artifacts (see ledger.Ledger).
// An existing artifact is reused only when the owning session tracks it.
type Tracker interface {
	Track(ctx context.Context, sid, path string) error
	IsTracked(ctx context.Context, sid, path string) (bool, error)
}

type Options struct {
	// ArtifactPrefix is the directory (or key prefix) of assembled files.
	ArtifactPrefix string
	// MaxChunkSize caps a single chunk payload; 0 disables the cap.
	MaxChunkSize int64
}

// Service admits chunks and assembles completed uploads.
type Service struct {
	chunks ChunkStore
	blobs  BlobStore
	ledger Tracker
	opts   Options
	group  singleflight.Group
	logger logging.Logger
}

func NewService(chunks ChunkStore, blobs BlobStore, ledger Tracker, opts Options, logger logging.Logger) *Service {
	return &Service{
		chunks: chunks,
		blobs:  blobs,
		ledger: ledger,
		opts:   opts,
		logger: logger.With("module", "upload"),
	}
}

// maxGenerations bounds how many committed copies of one file a session can
// upload before names run out.
const maxGenerations = 64

// resolve returns d's artifact name: the first generation that is either
// tracked by d's session (reused is true) or absent from storage. Present but
// untracked artifacts belong to saved records and are never handed out again.
func (s *Service) resolve(ctx context.Context, d Descriptor) (name string, reused bool, err error) {
	for gen := 0; gen < maxGenerations; gen++ {
		name = d.ArtifactName(s.opts.ArtifactPrefix, gen)

		exists, err := s.blobs.Exists(ctx, name)
		if err != nil {
			return "", false, fmt.Errorf("artifact exists: %w", err)
		}
		if !exists {
			return name, false, nil
		}

		tracked, err := s.ledger.IsTracked(ctx, d.Session, name)
		if err != nil {
			return "", false, fmt.Errorf("ledger lookup: %w", err)
		}
		if tracked {
			return name, true, nil
		}
	}
	return "", false, fmt.Errorf("%s: %d generations in use", d.Identifier, maxGenerations)
}

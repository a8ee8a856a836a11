package upload

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/asyncupload/internal/common"
)

// Artifact is an assembled upload.
type Artifact struct {
	Path string
	URL  string
	Size int64
	// Fresh is true only for the call that assembled it.
	Fresh bool
}

// Collect assembles the chunks of d into the artifact and purges them.
//
// An artifact the session already tracks is returned as is, without reading
// chunk state. A new artifact is tracked in the session's ledger before it is
// saved, so a published file always has an owner. Concurrent calls for the
// same upload in this process share one assembly. A failed save leaves the
// chunks in place; a failed purge is only logged.
func (s *Service) Collect(ctx context.Context, d Descriptor) (Artifact, error) {
	if err := d.Validate(); err != nil {
		return Artifact{}, err
	}

	id := d.ChunkSet()
	log := s.logger.With("upload_id", id)

	name, reused, err := s.resolve(ctx, d)
	if err != nil {
		return Artifact{}, err
	}
	if reused {
		log.Debug(ctx, "artifact already assembled", "path", name)
		return s.artifact(ctx, d, name, false), nil
	}

	v, err, shared := s.group.Do(id, func() (any, error) {
		return s.assemble(ctx, d)
	})
	if err != nil {
		return Artifact{}, err
	}
	if shared {
		log.Debug(ctx, "assembly shared with concurrent request")
	}

	res := v.(assembled)
	return s.artifact(ctx, d, res.name, res.fresh), nil
}

type assembled struct {
	name  string
	fresh bool
}

func (s *Service) assemble(ctx context.Context, d Descriptor) (assembled, error) {
	id := d.ChunkSet()

	// another request may have finished between the first lookup and Do
	name, reused, err := s.resolve(ctx, d)
	if err != nil {
		return assembled{}, err
	}
	if reused {
		return assembled{name: name}, nil
	}

	log := s.logger.With("upload_id", id, "path", name)

	complete, err := s.chunks.AllPresent(ctx, id, d.TotalChunks, d.TotalSize)
	if err != nil {
		return assembled{}, fmt.Errorf("completeness: %w", err)
	}
	if !complete {
		return assembled{}, fmt.Errorf("%s: %w", id, common.ErrIncompleteUpload)
	}

	if err := s.ledger.Track(ctx, d.Session, name); err != nil {
		return assembled{}, fmt.Errorf("track artifact: %w", err)
	}

	rc, err := s.chunks.ReadInOrder(ctx, id, d.TotalChunks)
	if err != nil {
		return assembled{}, fmt.Errorf("read chunks: %w", err)
	}
	defer rc.Close()

	if err := s.blobs.Save(ctx, name, rc, d.TotalSize); err != nil {
		log.Error(ctx, "artifact save failed", "error", err)
		return assembled{}, fmt.Errorf("save artifact: %w", err)
	}

	log.Info(ctx, "upload assembled", "session_id", d.Session, "size", d.TotalSize, "chunks", d.TotalChunks)

	if err := s.chunks.Purge(ctx, id); err != nil {
		log.Warn(ctx, "chunk purge failed", "error", err)
	}

	return assembled{name: name, fresh: true}, nil
}

func (s *Service) artifact(ctx context.Context, d Descriptor, name string, fresh bool) Artifact {
	a := Artifact{Path: name, Size: d.TotalSize, Fresh: fresh}

	u, err := s.blobs.URL(ctx, name)
	if err != nil {
		s.logger.Warn(ctx, "artifact url failed", "path", name, "error", err)
	} else {
		a.URL = u
	}
	return a
}

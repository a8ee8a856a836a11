package upload

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/asyncupload/internal/common"
)

type Status int

const (
	// ChunkMissing: status check for a chunk the server does not have.
	ChunkMissing Status = iota
	// ChunkExists: the chunk was already stored; nothing written.
	ChunkExists
	// ChunkStored: the chunk was written; the upload is still incomplete.
	ChunkStored
	// UploadComplete: every chunk is present, or the artifact is already assembled.
	UploadComplete
)

func (s Status) String() string {
	switch s {
	case ChunkMissing:
		return "chunk missing"
	case ChunkExists:
		return "chunk exists"
	case ChunkStored:
		return "chunk stored"
	case UploadComplete:
		return "upload complete"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type Result struct {
	Status Status
	// Written is the number of payload bytes stored by this call.
	Written int64
}

var errChunkTooLarge = fmt.Errorf("chunk exceeds size limit: %w", common.ErrInvalidDescriptor)

// Admit handles one chunk request. A nil payload is a status check.
//
// A chunk already stored with the declared size is never rewritten. A payload
// whose length differs from CurrentChunkSize, or exceeds MaxChunkSize, is not
// kept. When the chunk set is empty and the session already tracks the
// assembled artifact (a retry after completion), the upload is reported
// complete without writing.
func (s *Service) Admit(ctx context.Context, d Descriptor, payload io.Reader) (Result, error) {
	if err := d.Validate(); err != nil {
		return Result{}, err
	}
	if s.opts.MaxChunkSize > 0 && d.CurrentChunkSize > s.opts.MaxChunkSize {
		return Result{}, errChunkTooLarge
	}

	id := d.ChunkSet()
	log := s.logger.With("upload_id", id, "chunk", d.ChunkIndex)

	present, err := s.chunks.Exists(ctx, id, d.ChunkIndex, d.CurrentChunkSize)
	if err != nil {
		return Result{}, fmt.Errorf("chunk exists: %w", err)
	}

	if !present {
		done, err := s.alreadyAssembled(ctx, d)
		if err != nil {
			return Result{}, err
		}
		if done {
			log.Debug(ctx, "artifact already assembled")
			return Result{Status: UploadComplete}, nil
		}
	}

	var written int64
	switch {
	case payload == nil && !present:
		return Result{Status: ChunkMissing}, nil
	case payload != nil && !present:
		written, err = s.chunks.Write(ctx, id, d.ChunkIndex, &checkedReader{
			r:      payload,
			limit:  s.opts.MaxChunkSize,
			expect: d.CurrentChunkSize,
		})
		if err != nil {
			switch {
			case errors.Is(err, common.ErrChunkSizeMismatch):
				log.Warn(ctx, "chunk discarded", "reason", "size mismatch", "declared", d.CurrentChunkSize)
			case errors.Is(err, common.ErrInvalidDescriptor):
				log.Warn(ctx, "chunk discarded", "reason", "too large", "limit", s.opts.MaxChunkSize)
			default:
				log.Error(ctx, "chunk write failed", "error", err)
			}
			return Result{}, err
		}
	default:
		log.Debug(ctx, "chunk already stored")
	}

	complete, err := s.chunks.AllPresent(ctx, id, d.TotalChunks, d.TotalSize)
	if err != nil {
		return Result{}, fmt.Errorf("completeness: %w", err)
	}

	res := Result{Written: written}
	switch {
	case complete:
		res.Status = UploadComplete
	case present:
		res.Status = ChunkExists
	default:
		res.Status = ChunkStored
	}
	return res, nil
}

// alreadyAssembled reports whether the chunk set is gone because the artifact
// was published for this session. It touches the blob store only when no
// chunk is stored.
func (s *Service) alreadyAssembled(ctx context.Context, d Descriptor) (bool, error) {
	stored, err := s.chunks.List(ctx, d.ChunkSet())
	if err != nil {
		return false, fmt.Errorf("list chunks: %w", err)
	}
	if len(stored) > 0 {
		return false, nil
	}

	_, reused, err := s.resolve(ctx, d)
	return reused, err
}

// checkedReader fails the copy instead of returning io.EOF when the payload
// length is wrong, so the chunk store never publishes it.
type checkedReader struct {
	r      io.Reader
	n      int64
	limit  int64
	expect int64
}

func (c *checkedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)

	if c.limit > 0 && c.n > c.limit {
		return n, errChunkTooLarge
	}
	if errors.Is(err, io.EOF) && c.expect >= 0 && c.n != c.expect {
		return n, fmt.Errorf("got %d bytes, declared %d: %w", c.n, c.expect, common.ErrChunkSizeMismatch)
	}
	return n, err
}

package common

import "errors"

var (
	// Storage-level errors.
	ErrorNotFound  = errors.New("not found")
	ErrInvalidPath = errors.New("invalid path")

	// Optimistic concurrency.
	ErrVersionConflict = errors.New("version conflict")

	// Upload protocol errors.
	ErrInvalidDescriptor = errors.New("invalid chunk descriptor")
	ErrChunkSizeMismatch = errors.New("chunk size mismatch")
	ErrIncompleteUpload  = errors.New("upload is incomplete")

	// Ledger errors.
	ErrMissingSession = errors.New("missing session id")
	ErrNotTracked     = errors.New("path is not tracked")

	// Configuration errors.
	ErrUnsupportedBackend = errors.New("unsupported backend")
)

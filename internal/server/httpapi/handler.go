// Package httpapi exposes the chunk upload endpoints, the delete endpoint and
// the reverse proxy to the administrative application. Every response passes
// through the cleanup hook that reconciles the orphan ledger when the user
// leaves a form.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/dmitrijs2005/asyncupload/internal/common"
	"github.com/dmitrijs2005/asyncupload/internal/logging"
	"github.com/dmitrijs2005/asyncupload/internal/server/ledger"
	"github.com/dmitrijs2005/asyncupload/internal/server/navigation"
	"github.com/dmitrijs2005/asyncupload/internal/server/sessions"
	"github.com/dmitrijs2005/asyncupload/internal/server/upload"
)

const (
	// multipartMemory is how much of a multipart body is kept in memory before
	// spilling to temp files.
	multipartMemory = 8 << 20
	// multipartOverhead allows for form fields and boundaries around a chunk.
	multipartOverhead = 1 << 20

	fileField = "file"
)

// Uploads admits chunks and assembles completed uploads (see upload.Service).
type Uploads interface {
	Admit(ctx context.Context, d upload.Descriptor, payload io.Reader) (upload.Result, error)
	Collect(ctx context.Context, d upload.Descriptor) (upload.Artifact, error)
}

// Ledger is the per-session orphan ledger (see ledger.Ledger). Completed
// uploads are tracked by the upload service itself.
type Ledger interface {
	Untrack(ctx context.Context, sid, path string) error
	IsTracked(ctx context.Context, sid, path string) (bool, error)
	List(ctx context.Context, sid string) ([]string, error)
	Reconcile(ctx context.Context, sid string, remover ledger.Remover) (ledger.Report, error)
}

// Artifacts is the persistent store the delete endpoint and the cleanup hook
// remove files from.
type Artifacts interface {
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
}

type Handler struct {
	uploads      Uploads
	ledger       Ledger
	artifacts    Artifacts
	policy       *navigation.Policy
	maxChunkSize int64
	logger       logging.Logger
}

func NewHandler(u Uploads, l Ledger, a Artifacts, p *navigation.Policy, maxChunkSize int64, logger logging.Logger) *Handler {
	return &Handler{
		uploads:      u,
		ledger:       l,
		artifacts:    a,
		policy:       p,
		maxChunkSize: maxChunkSize,
		logger:       logger.With("module", "http_api"),
	}
}

// Upload stores one chunk sent as multipart form data. The response body is
// the artifact path once the upload is complete.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.maxChunkSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkSize+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeError(ctx, w, fmt.Errorf("parse form: %w: %w", common.ErrInvalidDescriptor, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	d, err := h.descriptor(ctx, r.Form)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	file, _, err := r.FormFile(fileField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			http.Error(w, "missing file part", http.StatusBadRequest)
			return
		}
		h.writeError(ctx, w, fmt.Errorf("file part: %w: %w", common.ErrInvalidDescriptor, err))
		return
	}
	defer func(f multipart.File) { _ = f.Close() }(file)

	res, err := h.uploads.Admit(ctx, d, file)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	if res.Status != upload.UploadComplete {
		writeText(w, http.StatusOK, "chunk uploaded")
		return
	}

	a, err := h.uploads.Collect(ctx, d)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	writeText(w, http.StatusOK, a.Path)
}

// CheckChunk answers the client's test request for one chunk.
func (h *Handler) CheckChunk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	d, err := h.descriptor(ctx, r.URL.Query())
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	res, err := h.uploads.Admit(ctx, d, nil)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	switch res.Status {
	case upload.ChunkMissing:
		// a 204 carries no body, the client only looks at the status
		w.WriteHeader(http.StatusNoContent)
	case upload.UploadComplete:
		a, err := h.uploads.Collect(ctx, d)
		if err != nil {
			h.writeError(ctx, w, err)
			return
		}
		writeText(w, http.StatusOK, a.Path)
	default:
		writeText(w, http.StatusOK, "chunk exists")
	}
}

type deleteRequest struct {
	FilePath string `json:"file_path"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Delete removes an artifact the user discarded on the form.
//
// Only paths tracked by the caller's session are deleted. Any other path
// answers 404 and is left in storage even when the file exists, since it may
// belong to a saved record or to another session. A tracked path whose file is
// already gone is untracked and answers 200.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req deleteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil || req.FilePath == "" {
		writeJSON(w, http.StatusBadRequest, deleteResponse{Error: "file_path is required"})
		return
	}

	sid, ok := sessions.IDFromContext(ctx)
	if !ok {
		h.writeError(ctx, w, common.ErrMissingSession)
		return
	}
	log := h.logger.With("session_id", sid, "path", req.FilePath)

	tracked, err := h.ledger.IsTracked(ctx, sid, req.FilePath)
	if err != nil {
		log.Error(ctx, "ledger lookup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, deleteResponse{Error: err.Error()})
		return
	}
	if !tracked {
		writeJSON(w, http.StatusNotFound, deleteResponse{Error: common.ErrNotTracked.Error()})
		return
	}

	if err := h.artifacts.Delete(ctx, req.FilePath); err != nil && !errors.Is(err, common.ErrorNotFound) {
		log.Error(ctx, "artifact delete failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, deleteResponse{Error: err.Error()})
		return
	}

	if err := h.ledger.Untrack(ctx, sid, req.FilePath); err != nil {
		log.Error(ctx, "untrack failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, deleteResponse{Error: err.Error()})
		return
	}

	log.Info(ctx, "artifact deleted")
	writeJSON(w, http.StatusOK, deleteResponse{Success: true})
}

// descriptor parses the chunk parameters and binds them to the caller's session.
func (h *Handler) descriptor(ctx context.Context, v url.Values) (upload.Descriptor, error) {
	sid, ok := sessions.IDFromContext(ctx)
	if !ok {
		return upload.Descriptor{}, common.ErrMissingSession
	}
	d, err := upload.DescriptorFromValues(v)
	if err != nil {
		return upload.Descriptor{}, err
	}
	d.Session = sid
	return d, nil
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(ctx, "request failed", "error", err)
	} else {
		h.logger.Debug(ctx, "request rejected", "status", code, "error", err)
	}
	http.Error(w, err.Error(), code)
}

func statusFor(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, common.ErrInvalidDescriptor),
		errors.Is(err, common.ErrChunkSizeMismatch),
		errors.Is(err, common.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrIncompleteUpload):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

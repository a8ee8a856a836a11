package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/asyncupload/internal/server/navigation"
	"github.com/dmitrijs2005/asyncupload/internal/server/sessions"
)

// cleanupTimeout bounds one reconcile pass run after a response.
const cleanupTimeout = 30 * time.Second

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		h.logger.Info(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration", time.Since(start),
		)
	})
}

// cleanupOrphans runs after the wrapped handler. When the finished request
// means the user left a form, the session's tracked artifacts are deleted.
// Failures are logged; the response is already written.
func (h *Handler) cleanupOrphans(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		sid, ok := sessions.IDFromContext(r.Context())
		if !ok {
			return
		}

		// skip the ledger read for requests that can never trigger cleanup
		if !h.policy.ShouldCleanup(navigation.RequestFrom(r, true)) {
			return
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), cleanupTimeout)
		defer cancel()
		h.reconcile(ctx, r, sid)
	})
}

func (h *Handler) reconcile(ctx context.Context, r *http.Request, sid string) {
	log := h.logger.With("session_id", sid)

	paths, err := h.ledger.List(ctx, sid)
	if err != nil {
		log.Warn(ctx, "ledger read failed", "error", err)
		return
	}

	d := h.policy.Decide(navigation.RequestFrom(r, len(paths) > 0))
	if !d.Cleanup {
		return
	}
	log.Debug(ctx, "leaving form", "path", r.URL.Path, "referrer", r.Referer())

	rep, err := h.ledger.Reconcile(ctx, sid, h.artifacts)
	if err != nil {
		log.Error(ctx, "orphan cleanup failed", "error", err)
		return
	}
	if len(rep.Failed) > 0 {
		log.Warn(ctx, "orphans retained", "paths", rep.Failed)
	}
}

package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/dmitrijs2005/asyncupload/internal/server/sessions"
)

type RouterOptions struct {
	// UploadPathPrefix is where the upload and delete endpoints are mounted,
	// for example "/admin_resumable/".
	UploadPathPrefix  string
	SessionCookieName string
	SessionTTL        time.Duration
	// Upstream serves every other path; nil answers 404.
	Upstream http.Handler
}

// NewRouter mounts the endpoints of h and wraps everything, the upstream
// included, in request logging, the session cookie and the cleanup hook.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	prefix := opts.UploadPathPrefix
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	r := mux.NewRouter()
	r.HandleFunc(prefix+"upload/", h.Upload).Methods(http.MethodPost)
	r.HandleFunc(prefix+"upload/", h.CheckChunk).Methods(http.MethodGet)
	r.HandleFunc(prefix+"delete/", h.Delete).Methods(http.MethodDelete, http.MethodPost)

	upstream := opts.Upstream
	if upstream == nil {
		upstream = http.NotFoundHandler()
	}
	// a catch-all route, not NotFoundHandler, so middleware runs for it
	r.PathPrefix("/").Handler(upstream)

	r.Use(
		h.logRequests,
		sessions.Middleware(opts.SessionCookieName, opts.SessionTTL),
		h.cleanupOrphans,
	)
	return r
}

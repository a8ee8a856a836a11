package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/dmitrijs2005/asyncupload/internal/logging"
)

// NewUpstreamProxy forwards requests to the administrative application at
// rawURL. An empty rawURL returns a nil handler.
func NewUpstreamProxy(rawURL string, logger logging.Logger) (http.Handler, error) {
	if rawURL == "" {
		return nil, nil
	}

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream url %q: scheme and host are required", rawURL)
	}

	log := logger.With("module", "upstream_proxy", "upstream", target.Host)

	p := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(r.Context().Err(), context.Canceled) {
				return
			}
			log.Error(r.Context(), "upstream request failed", "path", r.URL.Path, "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return p, nil
}

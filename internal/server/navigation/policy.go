// Package navigation decides whether a finished request means the user left
// an edit form behind, so the session's orphaned uploads can be removed.
//
// The decision is pure: it looks only at the request shape and the referrer,
// and errs on the side of keeping files.
package navigation

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
)

type State int

const (
	Unrelated State = iota
	OnForm
	LeavingForm
)

func (s State) String() string {
	switch s {
	case OnForm:
		return "on-form"
	case LeavingForm:
		return "leaving-form"
	default:
		return "unrelated"
	}
}

// Rules configures the classifier. Empty fields take the defaults of
// DefaultRules.
type Rules struct {
	UploadPathPrefix    string
	SafeMethods         []string
	FormPathPatterns    []string
	UtilityPathPatterns []string
	PopupParams         []string
	AsyncHeaders        map[string]string
}

// DefaultRules matches the Django admin URL layout.
func DefaultRules() Rules {
	return Rules{
		UploadPathPrefix: "/admin_resumable/",
		SafeMethods:      []string{http.MethodGet},
		FormPathPatterns: []string{
			`^/admin/[^/]+/[^/]+/add/?$`,
			`^/admin/[^/]+/[^/]+/[^/]+/change/?$`,
		},
		UtilityPathPatterns: []string{
			`^/admin/jsi18n/`,
			`^/admin/autocomplete/`,
			`^/static/`,
			`^/media/`,
			`^/favicon\.ico$`,
		},
		PopupParams:  []string{"_popup", "_to_field"},
		AsyncHeaders: map[string]string{"X-Requested-With": "XMLHttpRequest"},
	}
}

// Request is what the classifier sees of a finished request. Host is the
// host the browser addressed; an absolute referrer must name the same host.
type Request struct {
	Method         string
	Host           string
	Path           string
	Header         http.Header
	Query          url.Values
	Referrer       string
	LedgerNonEmpty bool
}

// RequestFrom extracts the classifier input from r.
func RequestFrom(r *http.Request, ledgerNonEmpty bool) Request {
	return Request{
		Method:         r.Method,
		Host:           r.Host,
		Path:           r.URL.Path,
		Header:         r.Header,
		Query:          r.URL.Query(),
		Referrer:       r.Referer(),
		LedgerNonEmpty: ledgerNonEmpty,
	}
}

type Decision struct {
	Cleanup bool
	State   State
	Reason  string
}

type Policy struct {
	uploadPrefix string
	safeMethods  []string
	forms        []*regexp.Regexp
	utilities    []*regexp.Regexp
	popupParams  []string
	asyncHeaders map[string]string
}

// NewPolicy compiles r. An invalid pattern is an error.
func NewPolicy(r Rules) (*Policy, error) {
	def := DefaultRules()

	if r.UploadPathPrefix == "" {
		r.UploadPathPrefix = def.UploadPathPrefix
	}
	if len(r.SafeMethods) == 0 {
		r.SafeMethods = def.SafeMethods
	}
	if len(r.FormPathPatterns) == 0 {
		r.FormPathPatterns = def.FormPathPatterns
	}
	if len(r.UtilityPathPatterns) == 0 {
		r.UtilityPathPatterns = def.UtilityPathPatterns
	}
	if len(r.PopupParams) == 0 {
		r.PopupParams = def.PopupParams
	}
	if len(r.AsyncHeaders) == 0 {
		r.AsyncHeaders = def.AsyncHeaders
	}

	forms, err := compile(r.FormPathPatterns)
	if err != nil {
		return nil, fmt.Errorf("form pattern: %w", err)
	}
	utilities, err := compile(r.UtilityPathPatterns)
	if err != nil {
		return nil, fmt.Errorf("utility pattern: %w", err)
	}

	methods := make([]string, len(r.SafeMethods))
	for i, m := range r.SafeMethods {
		methods[i] = strings.ToUpper(m)
	}

	return &Policy{
		uploadPrefix: r.UploadPathPrefix,
		safeMethods:  methods,
		forms:        forms,
		utilities:    utilities,
		popupParams:  slices.Clone(r.PopupParams),
		asyncHeaders: r.AsyncHeaders,
	}, nil
}

// MustPolicy is NewPolicy for rules known to be valid.
func MustPolicy(r Rules) *Policy {
	p, err := NewPolicy(r)
	if err != nil {
		panic(err)
	}
	return p
}

func compile(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// ShouldCleanup reports Decide(r).Cleanup.
func (p *Policy) ShouldCleanup(r Request) bool {
	return p.Decide(r).Cleanup
}

// Decide classifies r. Cleanup is true only for a safe-method navigation,
// outside the upload endpoints, not an async helper call, with a non-empty
// ledger, to a non-utility page, outside any popup, coming from a form page
// of this host and landing on a page that is not a form.
func (p *Policy) Decide(r Request) Decision {
	ref, refOK := parseReferrer(r.Referrer)
	foreign := refOK && !sameHost(ref, r.Host)

	d := Decision{State: Unrelated}
	switch {
	case p.isForm(r.Path):
		d.State = OnForm
	case refOK && !foreign && p.isForm(ref.Path):
		d.State = LeavingForm
	}

	switch {
	case !slices.Contains(p.safeMethods, strings.ToUpper(r.Method)):
		d.Reason = "method"
	case strings.HasPrefix(r.Path, p.uploadPrefix):
		d.Reason = "upload endpoint"
	case p.isAsync(r.Header):
		d.Reason = "async request"
	case !r.LedgerNonEmpty:
		d.Reason = "ledger empty"
	case p.isUtility(r.Path):
		d.Reason = "utility path"
	case p.hasPopup(r.Query) || (refOK && p.hasPopup(ref.Query())):
		d.Reason = "popup"
	case !refOK:
		d.Reason = "no referrer"
	case foreign:
		d.Reason = "foreign referrer"
	case d.State != LeavingForm:
		d.Reason = "not leaving form"
	default:
		d.Cleanup = true
		d.Reason = "left form"
	}
	return d
}

func parseReferrer(s string) (*url.URL, bool) {
	if strings.TrimSpace(s) == "" {
		return nil, false
	}
	u, err := url.Parse(s)
	if err != nil || u.Path == "" {
		return nil, false
	}
	return u, true
}

// sameHost accepts a relative referrer, or an absolute one naming host. The
// scheme is not compared since TLS may end in front of this server.
func sameHost(ref *url.URL, host string) bool {
	if ref.Host == "" {
		return true
	}
	return host != "" && strings.EqualFold(ref.Host, host)
}

func (p *Policy) isForm(path string) bool {
	return matchAny(p.forms, path)
}

func (p *Policy) isUtility(path string) bool {
	return matchAny(p.utilities, path)
}

func (p *Policy) isAsync(h http.Header) bool {
	for k, v := range p.asyncHeaders {
		if got := h.Get(k); got != "" && strings.EqualFold(got, v) {
			return true
		}
	}
	return false
}

func (p *Policy) hasPopup(q url.Values) bool {
	for _, name := range p.popupParams {
		if q.Has(name) {
			return true
		}
	}
	return false
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

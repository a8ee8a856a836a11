package sessions

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := IDFromContext(r.Context())
		_, _ = w.Write([]byte(id))
	})
}

func TestMiddleware_IssuesCookie(t *testing.T) {
	h := Middleware("sid", time.Hour)(sessionEcho())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/", nil))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "sid", c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, 3600, c.MaxAge)
	assert.Equal(t, "/", c.Path)

	_, err := uuid.Parse(c.Value)
	require.NoError(t, err)
	assert.Equal(t, c.Value, rec.Body.String())
}

func TestMiddleware_ReusesAndRefreshesValidCookie(t *testing.T) {
	h := Middleware("sid", time.Hour)(sessionEcho())
	id := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/admin/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, id, rec.Body.String())

	// same id, expiry pushed forward by the activity
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, id, cookies[0].Value)
	assert.Equal(t, 3600, cookies[0].MaxAge)
	assert.True(t, cookies[0].HttpOnly)
}

func TestMiddleware_ReplacesInvalidCookie(t *testing.T) {
	h := Middleware("sid", time.Hour)(sessionEcho())

	req := httptest.NewRequest(http.MethodGet, "/admin/", nil)
	req.AddCookie(&http.Cookie{Name: "sid", Value: "../../evil"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.NotEqual(t, "../../evil", cookies[0].Value)
	assert.Equal(t, cookies[0].Value, rec.Body.String())
}

func TestIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := IDFromContext(req.Context())
	assert.False(t, ok)

	_, ok = IDFromContext(WithID(req.Context(), ""))
	assert.False(t, ok)
}

package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, req *http.Request) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var seen string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = ThreadIDFromContext(r.Context())
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return seen, w
}

func TestMiddlewarePrefersHeader(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/chat?thread_id=from-query", nil)
	req.Header.Set(ThreadHeaderName, "from-header")
	req.AddCookie(&http.Cookie{Name: ThreadCookieName, Value: "from-cookie"})

	id, w := serve(t, req)
	assert.Equal(t, "from-header", id)
	assert.Equal(t, "from-header", w.Header().Get(ThreadHeaderName))
}

func TestMiddlewareFallsBackToCookie(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(ThreadHeaderName, "has spaces and / slashes")
	req.AddCookie(&http.Cookie{Name: ThreadCookieName, Value: "from-cookie"})

	id, _ := serve(t, req)
	assert.Equal(t, "from-cookie", id)
}

func TestMiddlewareMintsThreadID(t *testing.T) {
	t.Parallel()

	id, w := serve(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, id)
	assert.True(t, ValidThreadID(id))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, ThreadCookieName, cookies[0].Name)
	assert.Equal(t, id, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestIPFromRequest(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:52311"
	assert.Equal(t, "10.0.0.7", IPFromRequest(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", IPFromRequest(req))
}

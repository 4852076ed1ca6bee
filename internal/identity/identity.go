// Package identity assigns every request a conversation thread id.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ThreadCookieName = "catalyze_thread_id"
	ThreadHeaderName = "X-Thread-ID"
	threadCookieAge  = 30 * 24 * time.Hour
)

type contextKey int

const threadIDKey contextKey = iota

var threadIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ThreadIDFromContext extracts the thread id from the request context.
func ThreadIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(threadIDKey).(string); ok {
		return v
	}
	return ""
}

// WithThreadID returns a copy of ctx carrying id.
func WithThreadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, threadIDKey, id)
}

// ValidThreadID reports whether id is acceptable as a thread id.
func ValidThreadID(id string) bool {
	return threadIDPattern.MatchString(id)
}

func threadIDFromRequest(r *http.Request) (string, bool) {
	if id := strings.TrimSpace(r.Header.Get(ThreadHeaderName)); ValidThreadID(id) {
		return id, true
	}
	if id := strings.TrimSpace(r.URL.Query().Get("thread_id")); ValidThreadID(id) {
		return id, true
	}
	if c, err := r.Cookie(ThreadCookieName); err == nil && ValidThreadID(c.Value) {
		return c.Value, true
	}
	return "", false
}

// Middleware resolves the thread id from the X-Thread-ID header, the
// thread_id query parameter, or the thread cookie, minting a new one when
// none is present. The id is echoed in the response header and cookie.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := threadIDFromRequest(r)
			if !ok {
				id = uuid.NewString()
			}

			w.Header().Set(ThreadHeaderName, id)
			http.SetCookie(w, &http.Cookie{
				Name:     ThreadCookieName,
				Value:    id,
				Path:     "/",
				MaxAge:   int(threadCookieAge.Seconds()),
				Expires:  time.Now().Add(threadCookieAge),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Secure:   !isDev,
			})
			next.ServeHTTP(w, r.WithContext(WithThreadID(r.Context(), id)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for rate limiting.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

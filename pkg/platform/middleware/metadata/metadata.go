package metadata

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"storefront/pkg/platform/middleware/auth"
	"storefront/pkg/requestcontext"
)

// DefaultSessionCookie is the storefront session cookie name.
const DefaultSessionCookie = "storefront_session"

// RequestIDHeader carries the correlation ID in and out of the service.
const RequestIDHeader = "X-Request-ID"

// Establish builds the request context once, at the HTTP boundary, from the request's transport
// metadata and the identity resolved by the auth middleware. It must run after auth.Identify.
// An empty cookie name selects DefaultSessionCookie.
func Establish(sessionCookie string) func(http.Handler) http.Handler {
	if sessionCookie == "" {
		sessionCookie = DefaultSessionCookie
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t := TransportFromRequest(r, sessionCookie)
			if t.RequestID == "" {
				t.RequestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, t.RequestID)

			info := requestcontext.Establish(t, auth.Identity(r.Context()))
			ctx := requestcontext.WithInfo(r.Context(), info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TransportFromRequest extracts the raw transport metadata from an HTTP request.
func TransportFromRequest(r *http.Request, sessionCookie string) requestcontext.Transport {
	t := requestcontext.Transport{
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RealIP:       r.Header.Get("X-Real-IP"),
		RemoteAddr:   r.RemoteAddr,
		UserAgent:    r.Header.Get("User-Agent"),
		RequestID:    strings.TrimSpace(r.Header.Get(RequestIDHeader)),
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		t.SessionToken = c.Value
	}
	return t
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	return requestcontext.ClientAddress(requestcontext.Transport{
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RealIP:       r.Header.Get("X-Real-IP"),
		RemoteAddr:   r.RemoteAddr,
	})
}

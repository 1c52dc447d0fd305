package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"storefront/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID string
	Role   string
	Email  string
}

// Context key for the resolved identity.
type contextKeyIdentity struct{}

// ContextKeyIdentity is exported for tests that inject an identity directly.
var ContextKeyIdentity = contextKeyIdentity{}

// Identity returns the identity resolved by Identify, or nil for anonymous requests.
func Identity(ctx context.Context) *requestcontext.Identity {
	identity, ok := ctx.Value(ContextKeyIdentity).(*requestcontext.Identity)
	if !ok {
		return nil
	}
	return identity
}

// WithIdentity injects an identity into the context.
func WithIdentity(ctx context.Context, identity *requestcontext.Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, identity)
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// Identify resolves the bearer token, when present, into an identity. Requests without an
// Authorization header continue anonymously; storefront browsing and login are legal without
// one. A present but invalid token is rejected.
func Identify(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok {
				logger.WarnContext(r.Context(), "unauthorized access - malformed authorization header",
					"remote_addr", r.RemoteAddr,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "unauthorized access - invalid token",
					"error", err,
					"remote_addr", r.RemoteAddr,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx := WithIdentity(r.Context(), &requestcontext.Identity{
				ID:    claims.UserID,
				Role:  claims.Role,
				Email: claims.Email,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects anonymous requests. It must run after Identify.
func RequireAuth(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Identity(r.Context()) == nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

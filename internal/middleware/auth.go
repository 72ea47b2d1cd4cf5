// Package middleware holds HTTP middleware and connect interceptors shared by
// the backend's REST, websocket and RPC surfaces.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/eventlist/internal/auth"
)

type contextKey string

const (
	// identityKey stores the authenticated identity (normalized email).
	identityKey contextKey = "identity"
	// userIDKey stores the authenticated account id.
	userIDKey contextKey = "user_id"
)

// WithClaims returns ctx carrying the token's identity.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, identityKey, claims.Identity)
	return context.WithValue(ctx, userIDKey, claims.UserID)
}

// GetIdentity returns the authenticated identity, or "" when the request is
// unauthenticated.
func GetIdentity(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey).(string)
	return identity
}

// GetUserID returns the authenticated account id, or "".
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", auth.ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", auth.ErrInvalidToken
	}
	return token, nil
}

// TokenFromRequest reads the bearer token, falling back to the token query
// parameter used by websocket clients that cannot set headers.
func TokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		return bearerToken(h)
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", auth.ErrMissingToken
}

// RequireAuth returns a connect interceptor that validates the bearer token
// and adds the caller's identity to the context.
func RequireAuth(jwtManager *auth.JWTManager) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			token, err := bearerToken(req.Header().Get("Authorization"))
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			claims, err := jwtManager.Validate(token)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			return next(WithClaims(ctx, claims), req)
		}
	}
}

// Authenticate is the HTTP counterpart of RequireAuth. Requests without a
// valid token are answered with 401.
func Authenticate(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := TokenFromRequest(r)
			if err == nil {
				var claims *auth.Claims
				if claims, err = jwtManager.Validate(token); err == nil {
					next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
					return
				}
			}
			status := http.StatusUnauthorized
			if !errors.Is(err, auth.ErrMissingToken) && !errors.Is(err, auth.ErrInvalidToken) {
				status = http.StatusInternalServerError
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		})
	}
}

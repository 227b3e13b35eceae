package myMiddleware

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Context keys, exported so other packages can read them.
type contextKey string

const (
	UserKey    contextKey = "user_id"
	NameKey    contextKey = "display_name"
	ExpiresKey contextKey = "expires_at"
)

// TokenValidator is what we need from the user service.
type TokenValidator interface {
	ValidateToken(tokenString string) (userID, name string, expiresAt time.Time, err error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle accepts a bearer token, or a "token" query parameter for browser
// websockets, and injects the identity into the request context.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenString = strings.TrimSpace(parts[1])
			}
		}

		// Fallback: Check Query Param
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, name, expiresAt, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, NameKey, name)
		ctx = context.WithValue(ctx, ExpiresKey, expiresAt)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated identity of a request.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserKey).(string)
	return id, ok && id != ""
}

// ExpiresAt returns the expiry of the request's access token.
func ExpiresAt(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(ExpiresKey).(time.Time)
	return t, ok
}

// WithIdentity builds a context as Handle would; handlers tests use it.
func WithIdentity(ctx context.Context, userID, name string, expiresAt time.Time) context.Context {
	ctx = context.WithValue(ctx, UserKey, userID)
	ctx = context.WithValue(ctx, NameKey, name)
	return context.WithValue(ctx, ExpiresKey, expiresAt)
}

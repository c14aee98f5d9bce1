package middleware

import (
	"context"
	"net/http"
	"strings"

	"photorestore/internal/util"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	UserContextKey  = contextKey("user")
	EmailContextKey = contextKey("email")
)

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func withClaims(r *http.Request, claims *util.Claims) *http.Request {
	ctx := context.WithValue(r.Context(), UserContextKey, claims.Subject)
	ctx = context.WithValue(ctx, EmailContextKey, claims.Email)
	return r.WithContext(ctx)
}

// AuthMiddleware rejects requests without a valid session token and puts the
// user id and email into the request context.
func AuthMiddleware(jwtSecret string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				logger.Debug().Str("path", r.URL.Path).Msg("Authorization header missing")
				http.Error(w, "Authorization header missing", http.StatusUnauthorized)
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				logger.Warn().Msg("Invalid authorization header")
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}
			claims, err := util.ValidateJWT(token, jwtSecret)
			if err != nil {
				logger.Warn().Err(err).Msg("Invalid token")
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, withClaims(r, claims))
		})
	}
}

// OptionalAuthMiddleware attaches the user when a valid token is present and
// lets anonymous requests through untouched.
func OptionalAuthMiddleware(jwtSecret string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearerToken(r); ok {
				if claims, err := util.ValidateJWT(token, jwtSecret); err == nil {
					r = withClaims(r, claims)
				} else {
					logger.Debug().Err(err).Msg("Ignoring invalid token on optional-auth route")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserID returns the authenticated user id, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserContextKey).(string)
	return id, ok && id != ""
}

// Email returns the authenticated user's email, if the token carried one.
func Email(ctx context.Context) string {
	email, _ := ctx.Value(EmailContextKey).(string)
	return email
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// contextKey is an unexported type used for context keys in this package.
//
// Only this package can create a key of type contextKey, so only this
// package can read or write the account ID in the context.
type contextKey string

const accountIDKey contextKey = "accountID"

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads the JWT from the "Authorization: Bearer <token>" header,
// validates it, and stores the account ID in the request context. If the
// token is missing or invalid, it returns 401 Unauthorized and stops the
// request chain.
//
// WHY A HEADER AND NOT A COOKIE?
// The client is a Telegram WebApp embedded in the Telegram app. It keeps the
// token in memory for the session and sends it explicitly; there is no
// browser login page that could set a cookie.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, err := extractAccountID(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="contact-tracker"`)
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
				return
			}

			ctx := WithAccountID(r.Context(), accountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithAccountID stores the authenticated account in ctx. Handler tests use
// it to skip the middleware.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

// AccountIDFromContext retrieves the authenticated account's ID.
//
// Returns ("", false) outside RequireAuth.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDKey).(string)
	return id, ok && id != ""
}

var errNoBearer = errors.New("auth: missing bearer token")

// extractAccountID reads the bearer token and validates it. The scheme is
// matched case-insensitively, as RFC 6750 allows.
func extractAccountID(r *http.Request, tokens *TokenService) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errNoBearer
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errNoBearer
	}

	return tokens.Validate(token)
}

package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SessionCookie is read when no Authorization header is present.
const SessionCookie = "moonitor_session"

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	sessionKey   contextKey = "session"
	apiKeyKey    contextKey = "api_key"
	requestIDKey contextKey = "request_id"
)

// NewSessionMiddleware attaches the caller's session when one is presented.
// Requests without credentials pass through unauthenticated; a token that
// fails validation is rejected.
func NewSessionMiddleware(secret string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			if key := r.Header.Get("x-api-key"); key != "" {
				ctx = context.WithValue(ctx, apiKeyKey, key)
			}

			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			session, err := ParseToken(token, secret)
			if err != nil {
				log.Debug().Err(err).Str("request_id", requestID).Msg("rejected session token")
				writeUnauthorized(w)
				return
			}

			ctx = context.WithValue(ctx, sessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession rejects requests that carry no valid session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetSession(r.Context()) == nil {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "message": "unauthorized"})
}

// Helpers to extract from context
func GetSession(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey).(*Session); ok {
		return s
	}
	return nil
}

func GetAPIKey(ctx context.Context) string {
	if k, ok := ctx.Value(apiKeyKey).(string); ok {
		return k
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

func WithAPIKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, apiKeyKey, key)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserKey   contextKey = "user_id"
	DeviceKey contextKey = "device_id"
)

// TokenVerifier decouples this package from the identity service.
type TokenVerifier interface {
	VerifyToken(tokenString string) (int64, string, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(v TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: v}
}

// Handle validates the session token and injects (userID, deviceID) into the
// request context. Membership checks downstream never trust anything else.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 {
				tokenString = parts[1]
			}
		}

		// Browsers cannot set headers on websocket dials; fall back to
		// a query parameter for /ws.
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, deviceID, err := am.verifier.VerifyToken(tokenString)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, DeviceKey, deviceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerID extracts the trusted caller id injected by Handle.
func CallerID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(UserKey).(int64)
	return id, ok
}

// CallerDevice extracts the caller's device id.
func CallerDevice(ctx context.Context) string {
	device, _ := ctx.Value(DeviceKey).(string)
	return device
}

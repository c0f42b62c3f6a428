package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/storage"
)

// SessionAuth resolves the caller through the session store. The token comes
// from X-Session-Token, an Authorization bearer, or (for the WebSocket
// handshake, where browsers cannot set headers) the token query parameter.
// Sessions are issued by the account service; this service only validates.
func SessionAuth(store storage.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Session-Token")
			if token == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					token = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			userID, err := store.GetSession(r.Context(), token)
			if err != nil {
				logger.Errorf("session lookup token=%s: %v", MaskToken(token), err)
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if userID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

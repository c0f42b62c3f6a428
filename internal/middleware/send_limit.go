package middleware

import (
	"net/http"

	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/storage"
)

// SendRateLimit caps message sends per user through the session store's
// counter. Runs after SessionAuth. On store failure the send goes through;
// losing rate limiting beats losing messages.
func SendRateLimit(store storage.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := GetUserID(r.Context())
			if userID != "" {
				allowed, err := store.CheckSendRateLimit(r.Context(), userID)
				if err != nil {
					logger.Errorf("send rate limit user=%s: %v", userID, err)
				} else if !allowed {
					w.Header().Set("Content-Type", "application/json; charset=utf-8")
					w.WriteHeader(http.StatusTooManyRequests)
					w.Write([]byte(`{"error":"too many messages, slow down"}`))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

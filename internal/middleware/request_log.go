package middleware

import (
	"net/http"
	"time"

	"github.com/chatrelay/internal/logger"
)

// RequestLog logs every HTTP request: request id, method, path and duration
// (asynchronously, never blocking the handler).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		label := "http " + r.Method + " " + r.URL.Path
		if id := GetRequestID(r.Context()); id != "" {
			label += " rid=" + id
		}
		defer logger.DeferLogDuration(label, start)()
		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chatrelay/internal/storage/memory"
)

func TestSendRateLimit(t *testing.T) {
	store := memory.New()
	var hits int
	h := SendRateLimit(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/chats/1/messages", nil)
		req = req.WithContext(context.WithValue(req.Context(), UserIDKey, "user-1"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// 120 sends per minute pass, the 121st is rejected
	for i := 0; i < 120; i++ {
		assert.Equal(t, http.StatusOK, send())
	}
	assert.Equal(t, http.StatusTooManyRequests, send())
	assert.Equal(t, 120, hits)
}

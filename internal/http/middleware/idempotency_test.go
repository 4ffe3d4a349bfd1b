package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct {
	scope   string
	account int64
	key     string
}

func TestIdempotencyValidator(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var calls []lookupCall
	lookup := func(_ context.Context, scope string, account int64, key string, _ time.Time) (bool, error) {
		calls = append(calls, lookupCall{scope, account, key})
		return key == "seen", nil
	}
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{MaxLen: 16}, lookup))
	handler := func(c *gin.Context) {
		key, _ := GetIdempotencyKey(c)
		if IsReplay(c) {
			c.String(http.StatusOK, "replay:"+key)
			return
		}
		c.String(http.StatusOK, "fresh:"+key)
	}
	r.POST("/api/v1/notifications", handler)
	r.POST("/api/v1/accounts/:id/link", handler)

	cases := []struct {
		name   string
		path   string
		key    string
		status int
		body   string
		call   *lookupCall
	}{
		{"no header", "/api/v1/notifications", "", http.StatusOK, "fresh:", nil},
		{"fresh key", "/api/v1/notifications", "k-1", http.StatusOK, "fresh:k-1",
			&lookupCall{"/api/v1/notifications", 0, "k-1"}},
		{"replay", "/api/v1/notifications", "seen", http.StatusOK, "replay:seen",
			&lookupCall{"/api/v1/notifications", 0, "seen"}},
		{"account scope", "/api/v1/accounts/42/link", "k-2", http.StatusOK, "fresh:k-2",
			&lookupCall{"/api/v1/accounts/:id/link", 42, "k-2"}},
		{"bad chars", "/api/v1/notifications", "a b", http.StatusBadRequest, "bad_idempotency_key", nil},
		{"too long", "/api/v1/notifications", strings.Repeat("a", 17), http.StatusBadRequest, "bad_idempotency_key", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls = nil
			req := httptest.NewRequest(http.MethodPost, tc.path, nil)
			if tc.key != "" {
				req.Header.Set(HeaderIdempotencyKey, tc.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status || !strings.Contains(w.Body.String(), tc.body) {
				t.Fatalf("got %d %q, want %d %q", w.Code, w.Body.String(), tc.status, tc.body)
			}
			switch {
			case tc.call == nil && len(calls) != 0:
				t.Fatalf("unexpected lookup %v", calls)
			case tc.call != nil && (len(calls) != 1 || calls[0] != *tc.call):
				t.Fatalf("lookup calls = %v, want %v", calls, *tc.call)
			}
		})
	}
}

func TestIdempotencyReplayBypassesRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(context.Context, string, int64, string, time.Time) (bool, error) {
		return true, nil
	}))
	r.Use(NewRateLimiter(0, 1, KeyByClientOrIP()).Handler())
	r.POST("/n", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/n", nil)
		req.Header.Set(HeaderIdempotencyKey, "k")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusAccepted {
			t.Fatalf("replay %d limited: %d", i, w.Code)
		}
	}
}

package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/services"
)

// withLogger installs a request id and a request-scoped logger writing to buf.
func withLogger(buf *bytes.Buffer, rid string) gin.HandlerFunc {
	lg := zerolog.New(buf)
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Set("logger", &lg)
		c.Next()
	}
}

func Test_fail_500_LogsAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var buf bytes.Buffer
	r.Use(withLogger(&buf, "rid-500"))
	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, ErrCodeDrainFailed, "spool unreadable")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.RequestID != "rid-500" || er.Code != ErrCodeDrainFailed || er.Message != "spool unreadable" {
		t.Fatalf("body = %+v", er)
	}
	logs := buf.String()
	if !strings.Contains(logs, `"status":500`) || !strings.Contains(logs, "api error") {
		t.Fatalf("expected error log, got %q", logs)
	}
}

func Test_fail_4xx_NotLogged(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var buf bytes.Buffer
	r.Use(withLogger(&buf, "rid-404"))
	r.GET("/missing", func(c *gin.Context) {
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "route not found")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound || buf.Len() != 0 {
		t.Fatalf("status=%d logs=%q", w.Code, buf.String())
	}
}

func Test_failErr_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"forbidden", services.ErrForbidden, http.StatusForbidden, ErrCodeForbidden},
		{"no token", services.ErrNotConfigured, http.StatusConflict, ErrCodeNotConfigured},
		{"no url", services.ErrNoWebhookURL, http.StatusConflict, ErrCodeNotConfigured},
		{"poll in webhook mode", services.ErrPollUnavailable, http.StatusConflict, ErrCodeNotConfigured},
		{"client unconfigured", fmt.Errorf("send: %w", maxapi.ErrNotConfigured), http.StatusConflict, ErrCodeNotConfigured},
		{"empty message", services.ErrEmptyMessage, http.StatusBadRequest, ErrCodeBadRequest},
		{"provider rejection", fmt.Errorf("subscribe: %w", &maxapi.APIError{Status: 403, Code: "access.denied"}), http.StatusBadGateway, ErrCodeUpstream},
		{"transport", fmt.Errorf("%w: dial tcp: refused", maxapi.ErrTransport), http.StatusBadGateway, ErrCodeUpstream},
		{"decode", maxapi.ErrDecode, http.StatusBadGateway, ErrCodeUpstream},
		{"other", errors.New("disk full"), http.StatusInternalServerError, ErrCodeLinkFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/x", nil)
			failErr(c, tc.err, ErrCodeLinkFailed)

			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			var er ErrorResponse
			_ = json.Unmarshal(w.Body.Bytes(), &er)
			if er.Code != tc.code || er.Message == "" {
				t.Fatalf("body = %+v, want code %s", er, tc.code)
			}
			if !c.IsAborted() {
				t.Fatal("context not aborted")
			}
		})
	}
}

func Test_ok_and_noContent(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	ok(c, http.StatusCreated, gin.H{"secret": "abc123"})
	if w.Code != http.StatusCreated || !strings.Contains(w.Body.String(), `"secret":"abc123"`) {
		t.Fatalf("ok -> %d %s", w.Code, w.Body.String())
	}

	r := gin.New()
	r.DELETE("/link", func(c *gin.Context) { noContent(c) })
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/link", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("noContent -> %d %q", w.Code, w.Body.String())
	}
}

// Notification HTTP handlers.
//
//   - POST /api/v1/notifications   deliver a message to linked accounts
//
// Idempotency:
// When the client supplies an Idempotency-Key and a recorded outcome exists
// for the same route and key, the recorded response is returned with
// `Idempotency-Replayed: true` and nothing is delivered again.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/max-bridge/internal/events"
	"github.com/tbourn/max-bridge/internal/http/middleware"
	"github.com/tbourn/max-bridge/internal/repo"
	"github.com/tbourn/max-bridge/internal/services"
)

// NotificationResult is the delivery result for one account.
type NotificationResult struct {
	AccountID int64            `json:"account_id"`
	Outcome   services.Outcome `json:"outcome"`
	Error     string           `json:"error,omitempty"`
}

// NotificationResponse lists per-account results and their tally.
type NotificationResponse struct {
	Results []NotificationResult     `json:"results"`
	Counts  map[services.Outcome]int `json:"counts"`
}

// PostNotification delivers the message to every recipient. One failing
// account does not stop the others; the response is 200 with per-account
// outcomes unless every recipient failed, which answers 502.
func (h *Handlers) PostNotification(c *gin.Context) {
	ctx := c.Request.Context()

	var req events.Notification
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	scope, account := middleware.IdempotencyScope(c)
	if key != "" && h.d.DB != nil {
		if rec, err := repo.GetIdempotency(ctx, h.d.DB, scope, account, key, time.Now().UTC()); err == nil {
			c.Header(middleware.HeaderIdempotencyReplayed, "true")
			c.Data(rec.Status, "application/json; charset=utf-8", []byte(rec.Outcome))
			return
		}
	}

	resp := NotificationResponse{Counts: make(map[services.Outcome]int)}
	failed := 0
	for _, id := range req.Recipients() {
		out, err := h.d.Notifier.Deliver(ctx, id, req.Message)
		r := NotificationResult{AccountID: id, Outcome: out}
		if err != nil {
			r.Error = err.Error()
			failed++
		}
		resp.Results = append(resp.Results, r)
		resp.Counts[out]++
	}

	status := http.StatusOK
	if failed == len(resp.Results) {
		status = http.StatusBadGateway
	}
	if key != "" && h.d.DB != nil && status == http.StatusOK {
		body, _ := json.Marshal(resp)
		if _, err := repo.CreateIdempotency(ctx, h.d.DB, scope, account, key, string(body), status, h.d.IdempotencyTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("store idempotency record")
		}
	}
	if status != http.StatusOK {
		middleware.LoggerFrom(c).Error().Int("recipients", failed).Msg("notification failed for every recipient")
	}
	ok(c, status, resp)
}

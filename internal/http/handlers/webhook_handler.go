// Webhook HTTP handlers.
//
//   - POST   /webhook/max          inbound bot updates
//   - POST   /api/v1/webhook       register the webhook with the bot network
//   - DELETE /api/v1/webhook       remove it
//   - GET    /api/v1/bot           bot profile
//
// The inbound endpoint answers 200 "OK" to everything it receives. The bot
// network retries non-200 answers, and a retried update would be applied
// twice; failures are logged instead.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/max-bridge/internal/http/middleware"
	"github.com/tbourn/max-bridge/internal/maxapi"
)

// HeaderBotSecret carries the webhook secret on inbound updates.
const HeaderBotSecret = "X-Max-Bot-Api-Secret"

// WebhookResponse reports a registered webhook.
type WebhookResponse struct {
	Registered bool `json:"registered"`
}

// MaxWebhook receives one update. A missing or wrong secret is dropped
// without processing.
func (h *Handlers) MaxWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)
	defer c.String(http.StatusOK, "OK")

	if h.d.Webhooks == nil || !h.d.Webhooks.Verify(ctx, c.GetHeader(HeaderBotSecret)) {
		lg.Warn().Msg("webhook secret mismatch, update ignored")
		return
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		lg.Warn().Err(err).Msg("read webhook body")
		return
	}
	if h.d.Dumper != nil {
		h.d.Dumper.DumpUpdate(raw)
	}
	var u maxapi.Update
	if err := json.Unmarshal(raw, &u); err != nil {
		lg.Warn().Err(err).Msg("malformed update")
		return
	}
	if h.d.Bot == nil {
		return
	}
	if err := h.d.Bot.Handle(ctx, &u); err != nil {
		lg.Error().Err(err).Str("update_type", u.UpdateType).Msg("handle update")
	}
}

// RegisterWebhook subscribes the configured URL. The secret is generated
// and stored when none exists; it is never echoed back.
func (h *Handlers) RegisterWebhook(c *gin.Context) {
	if _, err := h.d.Webhooks.Register(c.Request.Context()); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, WebhookResponse{Registered: true})
}

// RemoveWebhook deletes the subscription.
func (h *Handlers) RemoveWebhook(c *gin.Context) {
	if err := h.d.Webhooks.Remove(c.Request.Context()); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// BotInfo returns the bot profile as reported by the bot network.
func (h *Handlers) BotInfo(c *gin.Context) {
	info, err := h.d.Webhooks.BotInfo(c.Request.Context())
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, info)
}

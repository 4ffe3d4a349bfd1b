// Admin HTTP handlers.
//
//   - POST /api/v1/spool/drain   run the spool drainer now
//   - GET  /api/v1/stats         binding and dialogue counters (weak ETag)
package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/max-bridge/internal/repo"
	"github.com/tbourn/max-bridge/internal/services"
)

// StatsResponse summarizes the bridge state.
type StatsResponse struct {
	LinkedAccounts int64  `json:"linked_accounts"`
	PendingLinks   int64  `json:"pending_links"`
	DialogueChats  int64  `json:"dialogue_chats"`
	LastDialogueAt *int64 `json:"last_dialogue_at,omitempty"`
}

// DrainSpool runs one drain pass synchronously and returns its report. It
// is safe to call while the scheduled drain runs; entries are claimed.
func (h *Handlers) DrainSpool(c *gin.Context) {
	rep, err := h.d.Drainer.Run(c.Request.Context())
	if err != nil {
		failErr(c, err, ErrCodeDrainFailed)
		return
	}
	ok(c, http.StatusOK, rep)
}

// Stats returns counters with a weak ETag so pollers can use If-None-Match.
func (h *Handlers) Stats(c *gin.Context) {
	if h.d.DB == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeStatsFailed, "store not available")
		return
	}
	ctx := c.Request.Context()
	linked, pending, err := repo.BindingStats(ctx, h.d.DB, services.PrefChatID, h.d.LinkSentinel)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		return
	}
	chats, last, err := repo.DialogueStats(ctx, h.d.DB)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		return
	}

	resp := StatsResponse{LinkedAccounts: linked, PendingLinks: pending, DialogueChats: chats}
	var ts int64
	if last != nil {
		ts = last.Unix()
		resp.LastDialogueAt = &ts
	}
	etag := fmt.Sprintf(`W/"stats:%d:%d:%d:%d"`, linked, pending, chats, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}
	ok(c, http.StatusOK, resp)
}

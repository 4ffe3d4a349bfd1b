// Account link HTTP handlers.
//
//   - POST   /api/v1/accounts/{id}/link   issue a link secret and deep link
//   - GET    /api/v1/accounts/{id}/link   binding status
//   - DELETE /api/v1/accounts/{id}/link   unlink
//   - POST   /api/v1/accounts/{id}/link/poll   complete a poll-mode link
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/max-bridge/internal/services"
)

// IssueLinkRequest is the optional body of IssueLink. SessionKey is the
// account's platform session; it becomes the secret in poll mode.
type IssueLinkRequest struct {
	SessionKey string `json:"session_key"`
}

// IssueLinkResponse carries the secret the user must send to the bot.
type IssueLinkResponse struct {
	AccountID int64  `json:"account_id"`
	Secret    string `json:"secret"`
	DeepLink  string `json:"deep_link,omitempty"`
}

// LinkStatusResponse describes an account binding.
type LinkStatusResponse struct {
	AccountID int64 `json:"account_id"`
	Linked    bool  `json:"linked"`
	ChatID    int64 `json:"chat_id,omitempty"`
}

// IssueLink replaces any binding of the account with a fresh pending secret.
func (h *Handlers) IssueLink(c *gin.Context) {
	account, valid := accountParam(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "account id must be a positive integer")
		return
	}
	var req IssueLinkRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	caller := admin
	caller.AccountID, caller.SessionKey = account, req.SessionKey
	secret, err := h.d.Links.IssueSecret(c.Request.Context(), caller, account)
	if err != nil {
		failErr(c, err, ErrCodeLinkFailed)
		return
	}
	resp := IssueLinkResponse{AccountID: account, Secret: secret}
	if h.d.BotUsername != "" {
		resp.DeepLink = services.DeepLink(h.d.BotUsername, secret)
	}
	ok(c, http.StatusCreated, resp)
}

// LinkStatus reports whether the account is linked. A pending secret counts
// as not linked.
func (h *Handlers) LinkStatus(c *gin.Context) {
	account, valid := accountParam(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "account id must be a positive integer")
		return
	}
	chatID, linked, err := h.d.Links.ChatIDFor(c.Request.Context(), account)
	if err != nil {
		failErr(c, err, ErrCodeLinkFailed)
		return
	}
	ok(c, http.StatusOK, LinkStatusResponse{AccountID: account, Linked: linked, ChatID: chatID})
}

// PollLink looks for the account's session key among pending bot updates
// and binds the sender when found. Linked is false when nothing matched.
func (h *Handlers) PollLink(c *gin.Context) {
	account, valid := accountParam(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "account id must be a positive integer")
		return
	}
	caller := admin
	caller.AccountID = account
	chatID, err := h.d.Links.PollLink(c.Request.Context(), caller)
	if err != nil {
		failErr(c, err, ErrCodeLinkFailed)
		return
	}
	ok(c, http.StatusOK, LinkStatusResponse{AccountID: account, Linked: chatID != 0, ChatID: chatID})
}

// Unlink removes the binding. Unlinking an unlinked account succeeds.
func (h *Handlers) Unlink(c *gin.Context) {
	account, valid := accountParam(c)
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "account id must be a positive integer")
		return
	}
	if err := h.d.Links.Unlink(c.Request.Context(), admin, account); err != nil {
		failErr(c, err, ErrCodeLinkFailed)
		return
	}
	noContent(c)
}

package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/services"
)

//
// Service contracts
//

// UpdateHandler processes one inbound bot update.
type UpdateHandler interface {
	Handle(ctx context.Context, u *maxapi.Update) error
}

// Webhooks authenticates inbound updates and manages the subscription.
type Webhooks interface {
	Verify(ctx context.Context, header string) bool
	Register(ctx context.Context) (string, error)
	Remove(ctx context.Context) error
	BotInfo(ctx context.Context) (maxapi.BotInfo, error)
}

// Notifier delivers a notification to one account.
type Notifier interface {
	Deliver(ctx context.Context, account int64, message string) (services.Outcome, error)
}

// AccountLinker manages account to chat bindings.
type AccountLinker interface {
	IssueSecret(ctx context.Context, caller services.Caller, account int64) (string, error)
	ChatIDFor(ctx context.Context, account int64) (int64, bool, error)
	Unlink(ctx context.Context, caller services.Caller, account int64) error
	PollLink(ctx context.Context, caller services.Caller) (int64, error)
}

// Drainer retries spooled messages.
type Drainer interface {
	Run(ctx context.Context) (services.DrainReport, error)
}

// UpdateDumper records raw webhook bodies.
type UpdateDumper interface {
	DumpUpdate(raw []byte)
}

// Deps lists what the handlers need. Nil optional members disable the
// feature that uses them: DB turns off idempotency and stats, Dumper the
// webhook dump.
type Deps struct {
	DB       *gorm.DB
	Bot      UpdateHandler
	Webhooks Webhooks
	Notifier Notifier
	Links    AccountLinker
	Drainer  Drainer
	Dumper   UpdateDumper

	BotUsername    string
	LinkSentinel   string
	IdempotencyTTL time.Duration
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	d Deps
}

// New constructs Handlers bound to the given dependencies.
func New(d Deps) *Handlers {
	if d.IdempotencyTTL <= 0 {
		d.IdempotencyTTL = 24 * time.Hour
	}
	return &Handlers{d: d}
}

// admin is the caller identity of every admin API request.
var admin = services.Caller{Admin: true}

// accountParam parses the positive :id path parameter.
func accountParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

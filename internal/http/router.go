// Package httpapi mounts the bridge's Gin middleware chain and routes.
//
// Surfaces:
//   - POST /webhook/max              inbound bot updates (bot secret header)
//   - GET  /health, GET /metrics
//   - {APIBasePath}/...              admin API, mounted only with an API key
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/max-bridge/internal/config"
	"github.com/tbourn/max-bridge/internal/http/handlers"
	"github.com/tbourn/max-bridge/internal/http/middleware"
	"github.com/tbourn/max-bridge/internal/repo"
)

// WebhookPath is where the bot network posts updates.
const WebhookPath = "/webhook/max"

// RegisterRoutes attaches all middleware and endpoints to r.
//
// The idempotency validator runs before the rate limiter so replays are
// served without spending tokens. The admin API is mounted only when an
// API key is configured.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps handlers.Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName), middleware.RequestID())

	// Secrets travel in headers and Moodle tokens in query strings.
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{handlers.HeaderBotSecret, middleware.HeaderAPIKey},
		MaskQuery:   []string{"wstoken", "token"},
	}))

	r.Use(middleware.Recovery(), limitBody(1<<20), middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var lookup middleware.IdempotencyLookup
	if db != nil {
		lookup = func(ctx context.Context, scope string, accountID int64, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, scope, accountID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		}
	}
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup))

	// The bot network posts from a few shared addresses; its webhook is not
	// throttled.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientOrIP()).Exempt(WebhookPath)
	r.Use(rl.Handler())

	r.Use(corsPolicy(cfg.CORS), middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if deps.DB == nil {
		deps.DB = db
	}
	if deps.IdempotencyTTL <= 0 {
		deps.IdempotencyTTL = cfg.IdempotencyTTL
	}
	h := handlers.New(deps)

	// Bot network
	r.POST(WebhookPath, h.MaxWebhook)

	// Admin API
	if cfg.APIKey == "" {
		return
	}
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.APIKey(cfg.APIKey), middleware.NoStore(), gzip.Gzip(gzip.DefaultCompression))
	{
		// Notifications
		api.POST("/notifications", h.PostNotification)

		// Account links
		api.POST("/accounts/:id/link", h.IssueLink)
		api.GET("/accounts/:id/link", h.LinkStatus)
		api.DELETE("/accounts/:id/link", h.Unlink)
		api.POST("/accounts/:id/link/poll", h.PollLink)

		// Operations
		api.POST("/spool/drain", h.DrainSpool)
		api.GET("/stats", h.Stats)
		api.POST("/webhook", h.RegisterWebhook)
		api.DELETE("/webhook", h.RemoveWebhook)
		api.GET("/bot", h.BotInfo)
	}
}

// corsPolicy builds the CORS middleware. Credentials are never allowed, so
// the wildcard form stays valid.
func corsPolicy(c config.CORSConfig) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			middleware.HeaderAPIKey, middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders: []string{"X-Request-ID", "ETag", middleware.HeaderIdempotencyReplayed},
		MaxAge:        6 * time.Hour,
	}
	if len(c.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = c.AllowedOrigins
	}
	return cors.New(cc)
}

// limitBody caps every request body at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix; "" and "/" mean the root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	return r.Group(strings.TrimSuffix(prefix, "/"))
}

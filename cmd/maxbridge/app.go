package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/max-bridge/internal/bot"
	"github.com/tbourn/max-bridge/internal/config"
	"github.com/tbourn/max-bridge/internal/http/handlers"
	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/platform"
	"github.com/tbourn/max-bridge/internal/repo"
	"github.com/tbourn/max-bridge/internal/services"
	"github.com/tbourn/max-bridge/internal/spool"
)

// app is the object graph shared by the commands.
type app struct {
	cfg config.Config
	log zerolog.Logger

	db       *gorm.DB
	client   *maxapi.Client
	queue    spool.Queue
	links    *services.LinkService
	delivery *services.DeliveryService
	drainer  *services.DrainService
	hooks    *services.WebhookService
	dispatch *bot.Dispatcher

	closers []io.Closer
}

func newApp(cfg config.Config, lg zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: lg}

	db, err := repo.OpenSQLite(cfg.DBPath, repo.Options{Tracing: cfg.OTEL.Enabled})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB)
	}
	if err := repo.AutoMigrate(db); err != nil {
		_ = a.close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.client = maxapi.New(cfg.Bot)
	if !a.client.Configured() {
		lg.Warn().Msg("MAX_BOT_TOKEN is empty; outbound bot calls are disabled")
	}

	var dir platform.Directory
	if cfg.Platform.BaseURL != "" {
		dir = platform.NewClient(cfg.Platform)
	} else {
		lg.Warn().Msg("PLATFORM_URL is empty; bot commands that need the platform answer \"None\"")
	}

	if a.queue, err = a.openQueue(); err != nil {
		_ = a.close()
		return nil, err
	}

	a.links = services.NewLinkService(db, repo.Preferences{}, cfg.Bot, dir, lg)
	if !cfg.Bot.WebhookMode {
		a.links.Updates = a.client
	}

	a.delivery = services.NewDeliveryService(cfg.Bot, a.client, a.links, a.queue, lg)
	if cfg.Bot.LogEnabled {
		dl, c, err := services.OpenDeliveryLog(cfg.Bot.LogPath)
		if err != nil {
			_ = a.close()
			return nil, fmt.Errorf("open delivery log: %w", err)
		}
		a.delivery.DeliveryLog = dl
		a.closers = append(a.closers, c)
	}

	var format string
	if cfg.Bot.ParseMode == config.ParseModeHTML {
		format = maxapi.FormatHTML
	}
	a.drainer = &services.DrainService{
		Bot:    a.client,
		Queue:  a.queue,
		Links:  a.links,
		Format: format,
		Pause:  cfg.Bot.DrainPause,
		Log:    lg.With().Str("component", "drain").Logger(),
	}

	a.hooks = services.NewWebhookService(db, repo.Preferences{}, a.client, cfg.Bot, lg)

	a.dispatch = &bot.Dispatcher{
		DB:        db,
		States:    repo.DialogueStates{},
		API:       a.client,
		Links:     a.links,
		Directory: dir,
		Delivery:  a.delivery,
		Config:    cfg.Bot,
		Catalog:   bot.NewCatalog(),
		Log:       lg.With().Str("component", "bot").Logger(),
	}
	return a, nil
}

func (a *app) openQueue() (spool.Queue, error) {
	switch a.cfg.Bot.SpoolBackend {
	case config.SpoolBackendRedis:
		cli := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, cli)
		return spool.NewRedisQueue(cli, a.cfg.Redis.Prefix), nil
	default:
		q, err := spool.NewFileQueue(a.cfg.Bot.SpoolDir)
		if err != nil {
			return nil, fmt.Errorf("open spool: %w", err)
		}
		return q, nil
	}
}

// handlerDeps exposes the graph to the HTTP layer.
func (a *app) handlerDeps() handlers.Deps {
	d := handlers.Deps{
		DB:             a.db,
		Bot:            a.dispatch,
		Webhooks:       a.hooks,
		Notifier:       a.delivery,
		Links:          a.links,
		Drainer:        a.drainer,
		BotUsername:    a.cfg.Bot.Username,
		LinkSentinel:   a.links.Sentinel,
		IdempotencyTTL: a.cfg.IdempotencyTTL,
	}
	if a.cfg.Bot.WebhookDump {
		d.Dumper = a.delivery
	}
	return d
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

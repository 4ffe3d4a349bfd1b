package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbourn/max-bridge/internal/events"
	httpapi "github.com/tbourn/max-bridge/internal/http"
	"github.com/tbourn/max-bridge/internal/observability"
	"github.com/tbourn/max-bridge/internal/repo"
	"github.com/tbourn/max-bridge/internal/services"
)

const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook and admin API, drain the spool on schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, lg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			otelShutdown, err := observability.Setup(ctx, cfg.OTEL, version, lg)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := otelShutdown(sctx); err != nil {
					lg.Warn().Err(err).Msg("otel shutdown")
				}
			}()

			a, err := newApp(cfg, lg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.close(); err != nil {
					lg.Warn().Err(err).Msg("close resources")
				}
			}()

			sched, err := a.schedule(ctx)
			if err != nil {
				return err
			}
			sched.Start()
			defer func() { <-sched.Stop().Done() }()

			if cfg.AMQP.Enabled {
				consumer := events.NewConsumer(cfg.AMQP, a.delivery, lg)
				go func() {
					if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						lg.Error().Err(err).Msg("amqp consumer stopped")
					}
				}()
			}

			gin.SetMode(cfg.GinMode)
			r := gin.New()
			httpapi.RegisterRoutes(r, a.db, a.handlerDeps(), cfg)

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           r,
				ReadTimeout:       cfg.ReadTimeout,
				ReadHeaderTimeout: cfg.ReadHeaderTimeout,
				WriteTimeout:      cfg.WriteTimeout,
				IdleTimeout:       cfg.IdleTimeout,
				MaxHeaderBytes:    cfg.MaxHeaderBytes,
			}
			return run(ctx, srv, lg)
		},
	}
}

// run serves until ctx ends, then drains in-flight requests.
func run(ctx context.Context, srv *http.Server, lg zerolog.Logger) error {
	errc := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", srv.Addr).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	lg.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(sctx)
}

// schedule registers the periodic jobs: the spool drain and the purge of
// expired idempotency records. Overlapping runs of a job are skipped.
func (a *app) schedule(ctx context.Context) (*cron.Cron, error) {
	cl := cronLogger{a.log.With().Str("component", "cron").Logger()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	if _, err := c.AddFunc(a.cfg.Bot.DrainSchedule, func() {
		rep, err := a.drainer.Run(ctx)
		if err != nil {
			a.log.Error().Err(err).Msg("scheduled drain")
			return
		}
		if rep != (services.DrainReport{}) {
			a.log.Info().Interface("report", rep).Msg("scheduled drain")
		}
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc("@hourly", func() {
		n, err := repo.PurgeExpiredIdempotency(ctx, a.db, time.Now().UTC())
		if err != nil {
			a.log.Warn().Err(err).Msg("purge idempotency records")
			return
		}
		if n > 0 {
			a.log.Debug().Int64("purged", n).Msg("idempotency records expired")
		}
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug().Fields(kv).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error().Err(err).Fields(kv).Msg(msg)
}

// Package services – DrainService
//
// DrainService retries spooled messages. Each entry is claimed without
// blocking, so concurrent runs (cron tick, admin trigger, CLI) never send the
// same entry twice. A confirmed send or a permanently unreachable chat
// removes the entry; anything else leaves it for the next run.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/spool"
)

// DefaultDrainPause is the pause between two sends of a drain run.
const DefaultDrainPause = 50 * time.Millisecond

// ChatForgetter drops the bindings of a chat that can no longer be reached.
type ChatForgetter interface {
	ForgetChat(ctx context.Context, chatID int64) (int64, error)
}

// DrainReport summarizes one drain run.
type DrainReport struct {
	Sent    int `json:"sent"`
	Dropped int `json:"dropped"`
	Kept    int `json:"kept"`
	Skipped int `json:"skipped"`
}

// DrainService empties the spool.
type DrainService struct {
	Bot    Messenger
	Queue  spool.Queue
	Links  ChatForgetter
	Format string
	Pause  time.Duration
	Log    zerolog.Logger
}

// Run processes every entry currently listed. Per-entry failures are logged
// and counted; only a failure to list the spool is returned.
func (s *DrainService) Run(ctx context.Context) (DrainReport, error) {
	tr := otel.Tracer("services/DrainService")
	ctx, span := tr.Start(ctx, "Run")
	defer span.End()

	var rep DrainReport
	if s.Bot == nil || !s.Bot.Configured() || s.Queue == nil {
		return rep, nil
	}

	start := time.Now()
	defer func() { drainDuration.Observe(time.Since(start).Seconds()) }()

	ids, err := s.Queue.List(ctx)
	if err != nil {
		return rep, err
	}

	pause := s.Pause
	if pause <= 0 {
		pause = DefaultDrainPause
	}
	lim := rate.NewLimiter(rate.Every(pause), 1)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			break
		}
		result := s.one(ctx, lim, id)
		drained.WithLabelValues(result).Inc()
		switch result {
		case "sent":
			rep.Sent++
		case "dropped":
			rep.Dropped++
		case "kept":
			rep.Kept++
		default:
			rep.Skipped++
		}
	}

	span.SetAttributes(
		attribute.Int("spool.sent", rep.Sent),
		attribute.Int("spool.dropped", rep.Dropped),
		attribute.Int("spool.kept", rep.Kept),
		attribute.Int("spool.skipped", rep.Skipped),
	)
	if len(ids) > 0 {
		s.Log.Info().Int("sent", rep.Sent).Int("dropped", rep.Dropped).Int("kept", rep.Kept).Int("skipped", rep.Skipped).Msg("spool drained")
	}
	return rep, nil
}

func (s *DrainService) one(ctx context.Context, lim *rate.Limiter, id string) string {
	log := s.Log.With().Str("spool_id", id).Logger()

	claim, err := s.Queue.Claim(ctx, id)
	switch {
	case errors.Is(err, spool.ErrClaimed):
		log.Debug().Msg("entry claimed by another worker")
		return "skipped"
	case errors.Is(err, spool.ErrGone):
		return "skipped"
	case err != nil:
		log.Error().Err(err).Msg("claim entry")
		return "skipped"
	}

	e := claim.Entry()
	if !e.Valid() {
		log.Warn().Msg("malformed entry removed")
		if err := claim.Complete(ctx); err != nil {
			log.Error().Err(err).Msg("remove entry")
		}
		return "dropped"
	}

	if err := lim.Wait(ctx); err != nil {
		_ = claim.Release(context.WithoutCancel(ctx))
		return "kept"
	}

	res, err := s.Bot.SendMessage(ctx, e.ChatID, maxapi.NewMessage{Text: e.Text, Format: s.Format})
	switch {
	case err == nil && res.OK() && res.Value.Confirmed():
		if err := claim.Complete(ctx); err != nil {
			log.Error().Err(err).Msg("remove sent entry")
		}
		return "sent"

	case err == nil && res.Err.Forbidden():
		if s.Links != nil {
			if _, ferr := s.Links.ForgetChat(ctx, e.ChatID); ferr != nil {
				log.Error().Err(ferr).Int64("chat_id", e.ChatID).Msg("forget chat")
			}
		}
		if err := claim.Complete(ctx); err != nil {
			log.Error().Err(err).Msg("remove undeliverable entry")
		}
		log.Info().Int64("chat_id", e.ChatID).Str("reason", res.Err.Description()).Msg("recipient unreachable, entry dropped")
		return "dropped"

	default:
		if err == nil && res.Err != nil {
			err = res.Err
		}
		if err == nil {
			err = errors.New("unconfirmed send")
		}
		log.Warn().AnErr("error", err).Int64("chat_id", e.ChatID).Msg("send failed, entry kept")
		if rerr := claim.Release(ctx); rerr != nil {
			log.Error().Err(rerr).Msg("release entry")
		}
		return "kept"
	}
}

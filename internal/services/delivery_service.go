// Package services – DeliveryService
//
// DeliveryService turns a platform notification into a MAX message for one
// account. The message is formatted for the configured parse mode, clipped
// to the provider limit, then either handed to an external sender program or
// posted through the bot API. A send the provider does not confirm is written
// to the spool for DrainService to retry.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/max-bridge/internal/config"
	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/spool"
	"github.com/tbourn/max-bridge/internal/textfmt"
)

// Outcome is the result of a single Deliver call.
type Outcome string

const (
	// OutcomeSkipped: the bot is not configured or the account has no
	// completed binding. Not an error.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeSent: the provider confirmed the message.
	OutcomeSent Outcome = "sent"
	// OutcomeExternal: the external sender accepted the message.
	OutcomeExternal Outcome = "external"
	// OutcomeSpooled: the send was not confirmed and the message waits in
	// the spool.
	OutcomeSpooled Outcome = "spooled"
	// OutcomeFailed: the message was neither sent nor spooled.
	OutcomeFailed Outcome = "failed"
)

// Delivered reports whether the message left the bridge.
func (o Outcome) Delivered() bool { return o == OutcomeSent || o == OutcomeExternal }

// Messenger is the part of the MAX client DeliveryService needs.
type Messenger interface {
	Configured() bool
	SendMessage(ctx context.Context, userID int64, m maxapi.NewMessage) (maxapi.Result[maxapi.SentMessage], error)
}

// ChatResolver maps an account to its bound chat.
type ChatResolver interface {
	ChatIDFor(ctx context.Context, account int64) (int64, bool, error)
}

// DeliveryService delivers notifications to linked accounts.
type DeliveryService struct {
	Bot   Messenger
	Links ChatResolver
	Spool spool.Queue

	ParseMode      string
	StripTags      bool
	ExternalSender string
	ApprovedRoots  []string

	// DeliveryLog receives one line per delivery; a disabled logger
	// (zerolog.Nop) turns it off. LogDump adds the message body.
	DeliveryLog zerolog.Logger
	LogDump     bool

	Log zerolog.Logger

	plain *textfmt.PlainText
}

// NewDeliveryService wires a DeliveryService from the bot configuration.
func NewDeliveryService(cfg config.BotConfig, bot Messenger, links ChatResolver, q spool.Queue, log zerolog.Logger) *DeliveryService {
	return &DeliveryService{
		Bot:            bot,
		Links:          links,
		Spool:          q,
		ParseMode:      cfg.ParseMode,
		StripTags:      cfg.StripTags,
		ExternalSender: cfg.ExternalSender,
		ApprovedRoots:  cfg.ApprovedRoots,
		DeliveryLog:    zerolog.Nop(),
		LogDump:        cfg.LogDump,
		Log:            log,
		plain:          textfmt.NewPlainText(),
	}
}

// OpenDeliveryLog opens (appending) the JSON delivery log at path. The
// returned closer must be closed on shutdown.
func OpenDeliveryLog(path string) (zerolog.Logger, io.Closer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return zerolog.Nop(), nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	return zerolog.New(f).With().Timestamp().Logger(), f, nil
}

// Format renders message for the configured parse mode and clips it to the
// provider limit.
func (s *DeliveryService) Format(message string) string {
	switch {
	case s.ParseMode == config.ParseModeHTML:
		message = textfmt.StripTags(message)
	case s.StripTags:
		if s.plain == nil {
			s.plain = textfmt.NewPlainText()
		}
		message = s.plain.Convert(message)
	}
	return textfmt.Truncate(message, textfmt.MaxMessageRunes)
}

func (s *DeliveryService) format() string {
	if s.ParseMode == config.ParseModeHTML {
		return maxapi.FormatHTML
	}
	return ""
}

// Deliver sends message to the chat bound to account.
//
// Configuration gaps and unlinked accounts yield OutcomeSkipped with a nil
// error. An unconfirmed send yields OutcomeSpooled with a nil error.
// OutcomeFailed always comes with an error.
func (s *DeliveryService) Deliver(ctx context.Context, account int64, message string) (out Outcome, err error) {
	tr := otel.Tracer("services/DeliveryService")
	ctx, span := tr.Start(ctx, "Deliver", trace.WithAttributes(attribute.Int64("account.id", account)))
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(out)))
		deliveries.WithLabelValues(string(out)).Inc()
		span.End()
	}()

	if s.Bot == nil || !s.Bot.Configured() {
		return OutcomeSkipped, nil
	}
	chatID, ok, err := s.Links.ChatIDFor(ctx, account)
	if err != nil {
		return OutcomeFailed, err
	}
	if !ok {
		return OutcomeSkipped, nil
	}
	if strings.TrimSpace(message) == "" {
		return OutcomeFailed, ErrEmptyMessage
	}
	text := s.Format(message)

	if s.ExternalSender != "" {
		return s.external(ctx, account, chatID, text)
	}

	res, err := s.Bot.SendMessage(ctx, chatID, maxapi.NewMessage{Text: text, Format: s.format()})
	if err == nil && res.OK() && res.Value.Confirmed() {
		s.record(account, chatID, text, res.Value.MID(), nil)
		return OutcomeSent, nil
	}

	cause := err
	if cause == nil && res.Err != nil {
		cause = res.Err
	}
	if cause == nil {
		cause = errors.New("unconfirmed send")
	}
	s.record(account, chatID, text, "", cause)

	if s.Spool == nil {
		return OutcomeFailed, fmt.Errorf("%w: %w", ErrDeliveryFailed, cause)
	}
	id, serr := s.Spool.Enqueue(ctx, chatID, text)
	if serr != nil {
		return OutcomeFailed, fmt.Errorf("%w: spool: %w", ErrDeliveryFailed, serr)
	}
	s.Log.Warn().Err(cause).Int64("account_id", account).Int64("chat_id", chatID).Str("spool_id", id).Msg("send not confirmed, spooled")
	return OutcomeSpooled, nil
}

// DeliverMany delivers message to every account and tallies the outcomes.
// Errors are logged; one account never stops the rest.
func (s *DeliveryService) DeliverMany(ctx context.Context, accounts []int64, message string) map[Outcome]int {
	tally := make(map[Outcome]int)
	for _, a := range accounts {
		out, err := s.Deliver(ctx, a, message)
		if err != nil {
			s.Log.Error().Err(err).Int64("account_id", a).Msg("delivery failed")
		}
		tally[out]++
	}
	return tally
}

func (s *DeliveryService) external(ctx context.Context, account, chatID int64, text string) (Outcome, error) {
	path, err := s.checkExternal()
	if err != nil {
		return OutcomeFailed, err
	}
	cmd := exec.CommandContext(ctx, path)
	cmd.Stdin = strings.NewReader(strconv.FormatInt(chatID, 10) + "\n" + text)
	if err := cmd.Run(); err != nil {
		s.record(account, chatID, text, "", err)
		return OutcomeFailed, fmt.Errorf("%w: external sender: %w", ErrDeliveryFailed, err)
	}
	s.record(account, chatID, text, "external", nil)
	return OutcomeExternal, nil
}

// checkExternal accepts only a regular executable file that resolves inside
// one of the approved roots.
func (s *DeliveryService) checkExternal() (string, error) {
	reject := func(reason string) (string, error) {
		return "", &ExternalSenderError{Path: s.ExternalSender, Reason: reason}
	}
	if !filepath.IsAbs(s.ExternalSender) {
		return reject("path is not absolute")
	}
	path, err := filepath.EvalSymlinks(s.ExternalSender)
	if err != nil {
		return reject("cannot resolve path")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return reject("cannot stat file")
	}
	if !fi.Mode().IsRegular() {
		return reject("not a regular file")
	}
	if fi.Mode().Perm()&0o111 == 0 {
		return reject("not executable")
	}
	for _, root := range s.ApprovedRoots {
		r, err := filepath.EvalSymlinks(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(r, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return path, nil
		}
	}
	return reject("outside approved roots")
}

func (s *DeliveryService) record(account, chatID int64, text, mid string, err error) {
	ev := s.DeliveryLog.Info().
		Time("at", time.Now().UTC()).
		Int64("account_id", account).
		Int64("chat_id", chatID).
		Int("length", textfmt.RuneLen(text))
	if err != nil {
		ev = ev.Str("mid", "-").AnErr("error", err)
	} else {
		ev = ev.Str("mid", mid)
	}
	if s.LogDump {
		ev = ev.Str("message", text)
	}
	ev.Msg("delivery")
}

// DumpUpdate writes a raw inbound webhook body to the delivery log.
func (s *DeliveryService) DumpUpdate(raw []byte) {
	ev := s.DeliveryLog.Info().Time("at", time.Now().UTC())
	if json.Valid(raw) {
		ev = ev.RawJSON("update", raw)
	} else {
		ev = ev.Bytes("update", raw)
	}
	ev.Msg("webhook")
}

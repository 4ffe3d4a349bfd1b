// Package bot interprets inbound MAX updates: deep-link account linking,
// slash commands, button callbacks and multi-step wizards. Conversations
// survive across webhook requests through one persisted DialogueState per
// chat, read at the start and written at the end of every update.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/message"
	"gorm.io/gorm"

	"github.com/tbourn/max-bridge/internal/config"
	"github.com/tbourn/max-bridge/internal/domain"
	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/platform"
	"github.com/tbourn/max-bridge/internal/repo"
	"github.com/tbourn/max-bridge/internal/services"
)

// API is the part of the MAX client the bot talks through.
type API interface {
	SendMessage(ctx context.Context, userID int64, m maxapi.NewMessage) (maxapi.Result[maxapi.SentMessage], error)
	EditMessage(ctx context.Context, mid string, m maxapi.NewMessage) (maxapi.Result[maxapi.SimpleResult], error)
	DeleteMessage(ctx context.Context, mid string) (maxapi.Result[maxapi.SimpleResult], error)
	AnswerCallback(ctx context.Context, callbackID, notification string) (maxapi.Result[maxapi.SimpleResult], error)
	AddMembers(ctx context.Context, chatID int64, userIDs ...int64) (maxapi.Result[maxapi.SimpleResult], error)
}

// Linker resolves and manages chat to account bindings.
type Linker interface {
	CompleteLink(ctx context.Context, caller services.Caller, chatID int64, secret, displayName string) (int64, error)
	ResolveAccount(ctx context.Context, chatID int64) (int64, []int64, error)
	SetPreferredAccount(ctx context.Context, chatID, account int64) error
	Language(ctx context.Context, account int64) (string, error)
	SetLanguage(ctx context.Context, account int64, lang string) error
}

// Broadcaster delivers a notification to many accounts.
type Broadcaster interface {
	DeliverMany(ctx context.Context, accounts []int64, message string) map[services.Outcome]int
}

// StateRepo persists dialogue state.
type StateRepo interface {
	GetDialogueState(ctx context.Context, db *gorm.DB, chatID int64) (*domain.DialogueState, error)
	UpsertDialogueState(ctx context.Context, db *gorm.DB, st *domain.DialogueState) error
}

// Dispatcher routes updates to handlers.
type Dispatcher struct {
	DB        *gorm.DB
	States    StateRepo
	API       API
	Links     Linker
	Directory platform.Directory
	Delivery  Broadcaster
	Config    config.BotConfig
	Catalog   *Catalog
	Log       zerolog.Logger

	// Now is the clock; time.Now when nil.
	Now func() time.Time
	// Location renders and parses wall-clock times; time.Local when nil.
	Location *time.Location
}

// turn carries one update through its handlers.
type turn struct {
	ev       Event
	account  int64
	accounts []int64
	p        *message.Printer
	lang     string
	prev     domain.DialogueState
	next     domain.DialogueState
	// replay keeps prev as the state written at the end.
	replay bool
}

func (t *turn) linked() bool { return t.account != 0 }

// transition handles input that continues a wizard.
type transition func(d *Dispatcher, ctx context.Context, t *turn, input string) error

// transitions route input by the step the chat is in. Commands take
// precedence; input no step claims falls through to the idle reply.
var transitions = map[domain.Step]map[EventKind]transition{
	domain.StepGetTime:     {EventMessage: (*Dispatcher).inputTime},
	domain.StepGetDuration: {EventMessage: (*Dispatcher).inputDuration},
	domain.StepGetName:     {EventMessage: (*Dispatcher).inputName},
	domain.StepGetText:     {EventMessage: (*Dispatcher).inputText},
}

// commandHandler is an entry of the command and callback tables.
type commandHandler struct {
	run func(d *Dispatcher, ctx context.Context, t *turn, cmd Command) error
	// anonymous handlers also serve chats without a linked account.
	anonymous bool
	when      func(cfg config.BotConfig) bool
}

func (h commandHandler) enabled(d *Dispatcher) bool { return h.when == nil || h.when(d.Config) }

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// dir is the platform directory, or platform.Unavailable when the bridge
// runs without one.
func (d *Dispatcher) dir() platform.Directory {
	if d.Directory == nil {
		return platform.Unavailable{}
	}
	return d.Directory
}

func (d *Dispatcher) loc() *time.Location {
	if d.Location != nil {
		return d.Location
	}
	return time.Local
}

// Handle processes one update. Handler failures are logged and do not
// prevent the state write; only a failed state write is returned.
func (d *Dispatcher) Handle(ctx context.Context, u *maxapi.Update) error {
	ev := Classify(u)
	eventsTotal.WithLabelValues(ev.Kind.String()).Inc()

	tr := otel.Tracer("bot/Dispatcher")
	ctx, span := tr.Start(ctx, "Handle", trace.WithAttributes(
		attribute.String("event.kind", ev.Kind.String()),
		attribute.Int64("chat.id", ev.ChatID),
	))
	defer span.End()

	if ev.Kind == EventUnknown || ev.ChatID == 0 {
		return nil
	}
	log := d.Log.With().Str("event", ev.Kind.String()).Int64("chat_id", ev.ChatID).Logger()

	t := &turn{ev: ev}
	prev, err := d.States.GetDialogueState(ctx, d.DB, ev.ChatID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		t.prev = domain.DialogueState{ChatID: ev.ChatID, LastStep: domain.StepCommand}
	case err != nil:
		return err
	default:
		t.prev = *prev
	}
	t.next = t.prev

	if ev.Kind != EventLink {
		t.account, t.accounts, err = d.Links.ResolveAccount(ctx, ev.ChatID)
		if err != nil {
			log.Error().Err(err).Msg("resolve account")
		}
	}
	d.localize(ctx, t)

	if herr := d.safeRoute(ctx, t); herr != nil {
		log.Error().Err(herr).Msg("handle update")
	}

	st := t.next
	if t.replay {
		st = t.prev
	}
	st.ID = 0
	st.ChatID = ev.ChatID
	return d.States.UpsertDialogueState(ctx, d.DB, &st)
}

func (d *Dispatcher) localize(ctx context.Context, t *turn) {
	var prefs []string
	if t.linked() {
		if l, err := d.Links.Language(ctx, t.account); err == nil && l != "" {
			prefs = append(prefs, l)
		}
	}
	if t.ev.Locale != "" {
		prefs = append(prefs, t.ev.Locale)
	}
	prefs = append(prefs, d.Config.Locales...)
	if len(prefs) > 0 {
		t.lang = prefs[0]
	}
	cat := d.Catalog
	if cat == nil {
		cat = defaultCatalog
	}
	t.p = cat.Printer(prefs...)
}

// safeRoute runs route and turns a handler panic into an error.
func (d *Dispatcher) safeRoute(ctx context.Context, t *turn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bot: handler panic: %v", r)
		}
	}()
	return d.route(ctx, t)
}

func (d *Dispatcher) route(ctx context.Context, t *turn) error {
	switch t.ev.Kind {
	case EventLink:
		t.replay = true
		return d.onLink(ctx, t)

	case EventPayment:
		t.replay = true
		return nil

	case EventContact:
		t.next = domain.DialogueState{LastStep: domain.StepCommand, LastMessageID: t.ev.MessageID}
		return d.unavailable(ctx, t, d.onContact(ctx, t))

	case EventMessage:
		t.next = domain.DialogueState{LastStep: domain.StepCommand, LastMessageID: t.ev.MessageID, LastData: t.ev.Text}
		return d.onMessage(ctx, t)

	case EventCallback:
		t.next = domain.DialogueState{LastStep: domain.StepCallback, LastMessageID: t.ev.MessageID, LastData: t.ev.Payload}
		return d.onCallback(ctx, t)
	}
	return nil
}

func (d *Dispatcher) onMessage(ctx context.Context, t *turn) error {
	cmd := ParseCommand(t.ev.Text)
	if h, ok := commands[cmd.Kind]; ok && (t.linked() || h.anonymous) && h.enabled(d) {
		return d.unavailable(ctx, t, h.run(d, ctx, t, cmd))
	}

	text := strings.TrimSpace(t.ev.Text)
	if text != "" && t.linked() {
		if h, ok := transitions[t.prev.LastStep][EventMessage]; ok {
			return d.unavailable(ctx, t, h(d, ctx, t, text))
		}
		_, err := d.send(ctx, t, t.p.Sprintf(msgIDontKnow))
		return err
	}
	if text != "" {
		t.replay = true
		_, err := d.send(ctx, t, t.p.Sprintf(msgFirstRegister, d.Config.SiteURL))
		return err
	}
	return nil
}

func (d *Dispatcher) onCallback(ctx context.Context, t *turn) error {
	cmd := ParseCommand(t.ev.Payload)
	if h, ok := callbacks[cmd.Kind]; ok && (t.linked() || h.anonymous) && h.enabled(d) {
		return d.unavailable(ctx, t, h.run(d, ctx, t, cmd))
	}
	if t.ev.CallbackID != "" {
		_, err := d.API.AnswerCallback(ctx, t.ev.CallbackID, t.p.Sprintf(msgIDontKnow))
		return err
	}
	return nil
}

// unavailable answers "None" for handlers that needed the platform while
// none is configured. Other errors pass through.
func (d *Dispatcher) unavailable(ctx context.Context, t *turn, err error) error {
	if !errors.Is(err, platform.ErrUnavailable) {
		return err
	}
	_, serr := d.send(ctx, t, t.p.Sprintf(msgNone))
	return serr
}

// send posts a reply to the chat and returns its message id. A provider
// rejection is echoed to the chat so the user sees why nothing happened.
func (d *Dispatcher) send(ctx context.Context, t *turn, text string, attachments ...maxapi.OutAttachment) (string, error) {
	m := maxapi.NewMessage{Text: text, Format: maxapi.FormatHTML, Attachments: attachments}
	res, err := d.API.SendMessage(ctx, t.ev.ChatID, m)
	if err != nil {
		return "", err
	}
	if res.Err != nil {
		d.echo(ctx, t.ev.ChatID, res.Err)
		return "", res.Err
	}
	return res.Value.MID(), nil
}

// edit replaces the callback's message, falling back to a new message
// when there is nothing to edit.
func (d *Dispatcher) edit(ctx context.Context, t *turn, text string, attachments ...maxapi.OutAttachment) error {
	if t.ev.MessageID == "" {
		_, err := d.send(ctx, t, text, attachments...)
		return err
	}
	m := maxapi.NewMessage{Text: text, Format: maxapi.FormatHTML, Attachments: attachments}
	res, err := d.API.EditMessage(ctx, t.ev.MessageID, m)
	if err != nil {
		return err
	}
	if res.Err != nil {
		d.echo(ctx, t.ev.ChatID, res.Err)
		return res.Err
	}
	return nil
}

func (d *Dispatcher) remove(ctx context.Context, mid string) {
	if mid == "" {
		return
	}
	if _, err := d.API.DeleteMessage(ctx, mid); err != nil {
		d.Log.Debug().Err(err).Str("mid", mid).Msg("delete message")
	}
}

func (d *Dispatcher) echo(ctx context.Context, chatID int64, apiErr *maxapi.APIError) {
	d.Log.Warn().Err(apiErr).Int64("chat_id", chatID).Msg("reply rejected")
	if _, err := d.API.SendMessage(ctx, chatID, maxapi.NewMessage{Text: apiErr.Description()}); err != nil {
		d.Log.Debug().Err(err).Msg("echo provider error")
	}
}

// Package services – LinkService
//
// LinkService binds platform accounts to MAX chat identities. A binding
// lives in the account's max_chatid preference and goes through two states:
//
//	<sentinel><secret>   pending: the secret was handed to the user
//	<chat id>            linked: the bot saw the secret come back
//
// In webhook mode the secret travels as the deep-link payload and comes back
// in the bot start event; in poll mode the secret is the caller's session key
// and PollLink looks for it in GET /updates.
package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/max-bridge/internal/config"
	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/platform"
	"github.com/tbourn/max-bridge/internal/repo"
)

// Preference names owned by the bridge.
const (
	PrefChatID           = "max_chatid"
	PrefPreferredAccount = "max_prefid"
	PrefLang             = "max_lang"
)

// PreferenceRepo defines the repository contract required by LinkService.
type PreferenceRepo interface {
	GetPreference(ctx context.Context, db *gorm.DB, accountID int64, name string) (string, error)
	SetPreference(ctx context.Context, db *gorm.DB, accountID int64, name, value string) error
	UnsetPreference(ctx context.Context, db *gorm.DB, accountID int64, name string) error
	FindAccountsByPreference(ctx context.Context, db *gorm.DB, name, value string) ([]int64, error)
	DeletePreferencesByValue(ctx context.Context, db *gorm.DB, name, value string) (int64, error)
}

// UpdateSource pulls pending bot updates (poll mode).
type UpdateSource interface {
	Updates(ctx context.Context, marker *int64) (maxapi.Result[maxapi.UpdateList], error)
}

// Caller is the identity on whose behalf a linking operation runs. The zero
// value is the anonymous webhook caller.
type Caller struct {
	AccountID  int64
	Admin      bool
	SessionKey string
}

// LinkService manages account to chat bindings.
type LinkService struct {
	DB   *gorm.DB
	Repo PreferenceRepo

	// Directory receives the display-name mirror; nil disables it.
	Directory platform.Directory
	// Updates serves PollLink; nil disables poll linking.
	Updates UpdateSource

	Sentinel      string
	WebhookMode   bool
	UsernameField string

	Log  zerolog.Logger
	rand io.Reader
}

// NewLinkService constructs a LinkService from the bot configuration.
func NewLinkService(db *gorm.DB, r PreferenceRepo, cfg config.BotConfig, dir platform.Directory, log zerolog.Logger) *LinkService {
	sentinel := cfg.LinkSentinel
	if sentinel == "" {
		sentinel = "usersecret::"
	}
	return &LinkService{
		DB:            db,
		Repo:          r,
		Directory:     dir,
		Sentinel:      sentinel,
		WebhookMode:   cfg.WebhookMode,
		UsernameField: cfg.UsernameField,
		Log:           log,
		rand:          rand.Reader,
	}
}

func (s *LinkService) tracer() trace.Tracer { return otel.Tracer("services/LinkService") }

// target resolves the account an operation applies to and enforces the
// cross-account rule.
func (s *LinkService) target(caller Caller, account int64, allowTrusted bool) (int64, error) {
	if account == 0 {
		account = caller.AccountID
	}
	if account != caller.AccountID && !caller.Admin && !(allowTrusted && s.WebhookMode) {
		return 0, ErrForbidden
	}
	return account, nil
}

// GenerateSecret returns 16 hex characters in webhook mode, or the caller's
// session key in poll mode.
func (s *LinkService) GenerateSecret(caller Caller) (string, error) {
	if !s.WebhookMode {
		if caller.SessionKey == "" {
			return "", ErrNoSession
		}
		return caller.SessionKey, nil
	}
	r := s.rand
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, 8)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IssueSecret stores a fresh pending secret for account (0 means the caller)
// and returns it. Any previous binding of the account is replaced.
func (s *LinkService) IssueSecret(ctx context.Context, caller Caller, account int64) (string, error) {
	ctx, span := s.tracer().Start(ctx, "IssueSecret")
	defer span.End()

	account, err := s.target(caller, account, false)
	if err != nil {
		return "", err
	}
	secret, err := s.GenerateSecret(caller)
	if err != nil {
		return "", err
	}
	if err := s.Repo.SetPreference(ctx, s.DB, account, PrefChatID, s.Sentinel+secret); err != nil {
		return "", err
	}
	span.SetAttributes(attribute.Int64("account.id", account))
	links.WithLabelValues("issue").Inc()
	return secret, nil
}

// VerifySecret reports whether account holds exactly the pending secret
// received. Checking another account needs admin, except in webhook mode
// where the shared webhook secret already authenticated the request.
func (s *LinkService) VerifySecret(ctx context.Context, caller Caller, received string, account int64) (bool, error) {
	account, err := s.target(caller, account, true)
	if err != nil {
		return false, err
	}
	if received == "" {
		return false, nil
	}
	stored, err := s.Repo.GetPreference(ctx, s.DB, account, PrefChatID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !strings.HasPrefix(stored, s.Sentinel) {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(stored[len(s.Sentinel):]), []byte(received)) == 1, nil
}

// IsLinked reports whether account has a binding that is not a pending
// secret. The stored value need not be a valid chat id.
func (s *LinkService) IsLinked(ctx context.Context, account int64) (bool, error) {
	v, err := s.Repo.GetPreference(ctx, s.DB, account, PrefChatID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v != "" && !strings.HasPrefix(v, s.Sentinel), nil
}

// ChatIDFor returns the chat bound to account; ok is false while the
// binding is missing or pending.
func (s *LinkService) ChatIDFor(ctx context.Context, account int64) (chatID int64, ok bool, err error) {
	v, err := s.Repo.GetPreference(ctx, s.DB, account, PrefChatID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if v == "" || strings.HasPrefix(v, s.Sentinel) {
		return 0, false, nil
	}
	chatID, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		return 0, false, nil
	}
	return chatID, true, nil
}

// CompleteLink consumes secret: the account holding it is bound to chatID
// and its id returned. displayName is mirrored into the configured profile
// field on a best-effort basis. Presenting the same secret again fails with
// ErrLinkNotFound.
func (s *LinkService) CompleteLink(ctx context.Context, caller Caller, chatID int64, secret, displayName string) (int64, error) {
	ctx, span := s.tracer().Start(ctx, "CompleteLink", trace.WithAttributes(attribute.Int64("chat.id", chatID)))
	defer span.End()

	secret = strings.TrimSpace(secret)
	if secret == "" || chatID == 0 {
		return 0, ErrLinkNotFound
	}
	ids, err := s.Repo.FindAccountsByPreference(ctx, s.DB, PrefChatID, s.Sentinel+secret)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, ErrLinkNotFound
	}
	account := ids[0]

	ok, err := s.VerifySecret(ctx, caller, secret, account)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrLinkNotFound
	}
	if err := s.bind(ctx, account, chatID, displayName); err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("account.id", account))
	return account, nil
}

func (s *LinkService) bind(ctx context.Context, account, chatID int64, displayName string) error {
	if err := s.Repo.SetPreference(ctx, s.DB, account, PrefChatID, strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	s.Log.Info().Int64("account_id", account).Int64("chat_id", chatID).Msg("account linked")
	links.WithLabelValues("complete").Inc()

	if s.Directory == nil || s.UsernameField == "" || displayName == "" {
		return nil
	}
	upd := platform.UserUpdate{Custom: map[string]string{s.UsernameField: displayName}}
	if err := s.Directory.UpdateUser(ctx, account, upd); err != nil {
		s.Log.Warn().Err(err).Int64("account_id", account).Msg("mirror display name failed")
	}
	return nil
}

// PollLink completes a poll-mode link for the caller by scanning pending
// updates for a start event carrying the caller's session key. It returns
// the bound chat, or 0 when no matching update was found.
func (s *LinkService) PollLink(ctx context.Context, caller Caller) (int64, error) {
	if s.WebhookMode || s.Updates == nil {
		return 0, ErrPollUnavailable
	}
	res, err := s.Updates.Updates(ctx, nil)
	if err != nil {
		return 0, err
	}
	if res.Err != nil {
		return 0, res.Err
	}
	for _, u := range res.Value.Updates {
		if u.User == nil || u.Payload == "" {
			continue
		}
		ok, err := s.VerifySecret(ctx, caller, u.Payload, caller.AccountID)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if err := s.bind(ctx, caller.AccountID, u.User.UserID, u.User.Name); err != nil {
			return 0, err
		}
		return u.User.UserID, nil
	}
	return 0, nil
}

// Unlink removes the binding of account (0 means the caller).
func (s *LinkService) Unlink(ctx context.Context, caller Caller, account int64) error {
	account, err := s.target(caller, account, false)
	if err != nil {
		return err
	}
	links.WithLabelValues("unlink").Inc()
	return s.Repo.UnsetPreference(ctx, s.DB, account, PrefChatID)
}

// LookupAccounts lists every account bound to chatID.
func (s *LinkService) LookupAccounts(ctx context.Context, chatID int64) ([]int64, error) {
	if chatID == 0 {
		return nil, nil
	}
	return s.Repo.FindAccountsByPreference(ctx, s.DB, PrefChatID, strconv.FormatInt(chatID, 10))
}

// ResolveAccount picks the account a chat acts as. With several bound
// accounts the preferred-account selection of the first one wins when it
// names one of them. account is 0 when the chat is not linked.
func (s *LinkService) ResolveAccount(ctx context.Context, chatID int64) (account int64, all []int64, err error) {
	all, err = s.LookupAccounts(ctx, chatID)
	if err != nil || len(all) == 0 {
		return 0, all, err
	}
	if len(all) == 1 {
		return all[0], all, nil
	}
	pref, err := s.Repo.GetPreference(ctx, s.DB, all[0], PrefPreferredAccount)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return 0, all, err
	}
	if id, perr := strconv.ParseInt(pref, 10, 64); perr == nil {
		for _, a := range all {
			if a == id {
				return a, all, nil
			}
		}
	}
	return all[0], all, nil
}

// SetPreferredAccount records which of the chat's accounts it acts as.
func (s *LinkService) SetPreferredAccount(ctx context.Context, chatID, account int64) error {
	all, err := s.LookupAccounts(ctx, chatID)
	if err != nil {
		return err
	}
	found := false
	for _, a := range all {
		if a == account {
			found = true
			break
		}
	}
	if !found {
		return ErrForbidden
	}
	return s.Repo.SetPreference(ctx, s.DB, all[0], PrefPreferredAccount, strconv.FormatInt(account, 10))
}

// ForgetChat drops every binding to chatID and reports how many were removed.
func (s *LinkService) ForgetChat(ctx context.Context, chatID int64) (int64, error) {
	n, err := s.Repo.DeletePreferencesByValue(ctx, s.DB, PrefChatID, strconv.FormatInt(chatID, 10))
	if err == nil && n > 0 {
		s.Log.Info().Int64("chat_id", chatID).Int64("bindings", n).Msg("chat unreachable, bindings removed")
		links.WithLabelValues("forget").Add(float64(n))
	}
	return n, err
}

// Language returns the account's chosen bot language, or "".
func (s *LinkService) Language(ctx context.Context, account int64) (string, error) {
	v, err := s.Repo.GetPreference(ctx, s.DB, account, PrefLang)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// SetLanguage stores the account's bot language.
func (s *LinkService) SetLanguage(ctx context.Context, account int64, lang string) error {
	return s.Repo.SetPreference(ctx, s.DB, account, PrefLang, lang)
}

// DeepLink is the bot start link that carries secret back to the bridge.
func DeepLink(botUsername, secret string) string {
	u := "https://max.ru/" + url.PathEscape(strings.TrimPrefix(botUsername, "@"))
	if secret == "" {
		return u
	}
	return u + "?start=" + url.QueryEscape(secret)
}

// Package services – WebhookService
//
// WebhookService registers the bridge's webhook with the bot network and
// owns the shared secret that authenticates inbound updates. A secret set in
// the configuration wins; otherwise one is generated on first registration
// and kept as a site-level preference so every instance agrees on it.
package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/tbourn/max-bridge/internal/config"
	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/repo"
)

// PrefWebhookSecret holds the generated webhook secret on the site account.
const PrefWebhookSecret = "max_webhook_secret"

// SiteAccount is the preference owner for site-wide values.
const SiteAccount int64 = 0

// WebhookAPI is the part of the MAX client used for subscriptions.
type WebhookAPI interface {
	Configured() bool
	Me(ctx context.Context) (maxapi.Result[maxapi.BotInfo], error)
	Subscribe(ctx context.Context, s maxapi.Subscription) (maxapi.Result[maxapi.SimpleResult], error)
	Unsubscribe(ctx context.Context, hookURL string) (maxapi.Result[maxapi.SimpleResult], error)
}

// WebhookService manages the webhook subscription and its secret.
type WebhookService struct {
	DB   *gorm.DB
	Repo PreferenceRepo
	Bot  WebhookAPI

	URL    string
	Secret string

	Log  zerolog.Logger
	rand io.Reader

	mu     sync.RWMutex
	stored string
}

// NewWebhookService wires a WebhookService from the bot configuration.
func NewWebhookService(db *gorm.DB, r PreferenceRepo, bot WebhookAPI, cfg config.BotConfig, log zerolog.Logger) *WebhookService {
	return &WebhookService{
		DB:     db,
		Repo:   r,
		Bot:    bot,
		URL:    cfg.WebhookURL,
		Secret: cfg.WebhookSecret,
		Log:    log,
		rand:   rand.Reader,
	}
}

// CurrentSecret returns the secret inbound updates must carry, or "" when
// none was configured or generated yet.
func (s *WebhookService) CurrentSecret(ctx context.Context) (string, error) {
	if s.Secret != "" {
		return s.Secret, nil
	}
	s.mu.RLock()
	v := s.stored
	s.mu.RUnlock()
	if v != "" || s.DB == nil {
		return v, nil
	}
	v, err := s.Repo.GetPreference(ctx, s.DB, SiteAccount, PrefWebhookSecret)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.stored = v
	s.mu.Unlock()
	return v, nil
}

// Verify reports whether header carries the current secret. Without a
// secret nothing verifies.
func (s *WebhookService) Verify(ctx context.Context, header string) bool {
	secret, err := s.CurrentSecret(ctx)
	if err != nil {
		s.Log.Error().Err(err).Msg("load webhook secret")
		return false
	}
	if secret == "" || header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(header)) == 1
}

// Register subscribes URL for updates and returns the secret in use,
// generating and storing one when needed.
func (s *WebhookService) Register(ctx context.Context) (string, error) {
	ctx, span := otel.Tracer("services/WebhookService").Start(ctx, "Register")
	defer span.End()

	if s.Bot == nil || !s.Bot.Configured() {
		return "", ErrNotConfigured
	}
	if s.URL == "" {
		return "", ErrNoWebhookURL
	}
	secret, err := s.CurrentSecret(ctx)
	if err != nil {
		return "", err
	}
	if secret == "" {
		if secret, err = s.generate(ctx); err != nil {
			return "", err
		}
	}
	res, err := s.Bot.Subscribe(ctx, maxapi.Subscription{URL: s.URL, Secret: secret})
	if err != nil {
		return "", err
	}
	if res.Err != nil {
		return "", res.Err
	}
	s.Log.Info().Str("url", s.URL).Msg("webhook registered")
	return secret, nil
}

func (s *WebhookService) generate(ctx context.Context) (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(s.rand, b); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(b)
	if err := s.Repo.SetPreference(ctx, s.DB, SiteAccount, PrefWebhookSecret, secret); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.stored = secret
	s.mu.Unlock()
	return secret, nil
}

// Remove deletes the subscription for URL.
func (s *WebhookService) Remove(ctx context.Context) error {
	if s.Bot == nil || !s.Bot.Configured() {
		return ErrNotConfigured
	}
	if s.URL == "" {
		return ErrNoWebhookURL
	}
	res, err := s.Bot.Unsubscribe(ctx, s.URL)
	if err != nil {
		return err
	}
	if res.Err != nil {
		return res.Err
	}
	s.Log.Info().Str("url", s.URL).Msg("webhook removed")
	return nil
}

// BotInfo fetches the bot's own profile; its username builds deep links.
func (s *WebhookService) BotInfo(ctx context.Context) (maxapi.BotInfo, error) {
	if s.Bot == nil || !s.Bot.Configured() {
		return maxapi.BotInfo{}, ErrNotConfigured
	}
	res, err := s.Bot.Me(ctx)
	if err != nil {
		return maxapi.BotInfo{}, err
	}
	if res.Err != nil {
		return maxapi.BotInfo{}, res.Err
	}
	return res.Value, nil
}

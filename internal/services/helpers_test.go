package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/max-bridge/internal/config"
	"github.com/tbourn/max-bridge/internal/domain"
	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Preference{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// prefRepo adapts the repo free functions to PreferenceRepo.
type prefRepo struct{}

func (prefRepo) GetPreference(ctx context.Context, db *gorm.DB, id int64, name string) (string, error) {
	return repo.GetPreference(ctx, db, id, name)
}
func (prefRepo) SetPreference(ctx context.Context, db *gorm.DB, id int64, name, value string) error {
	return repo.SetPreference(ctx, db, id, name, value)
}
func (prefRepo) UnsetPreference(ctx context.Context, db *gorm.DB, id int64, name string) error {
	return repo.UnsetPreference(ctx, db, id, name)
}
func (prefRepo) FindAccountsByPreference(ctx context.Context, db *gorm.DB, name, value string) ([]int64, error) {
	return repo.FindAccountsByPreference(ctx, db, name, value)
}
func (prefRepo) DeletePreferencesByValue(ctx context.Context, db *gorm.DB, name, value string) (int64, error) {
	return repo.DeletePreferencesByValue(ctx, db, name, value)
}

func newLinkService(t *testing.T, webhook bool) *LinkService {
	t.Helper()
	cfg := config.BotConfig{LinkSentinel: "usersecret::", WebhookMode: webhook}
	return NewLinkService(newTestDB(t), prefRepo{}, cfg, nil, zerolog.Nop())
}

// fakeMax is a MAX API stand-in. reply decides the status and body for each
// POST /messages by recipient user id.
type fakeMax struct {
	mu    sync.Mutex
	sent  []sentCall
	reply func(userID string) (int, string)
}

type sentCall struct {
	UserID string
	Body   maxapi.NewMessage
}

func (f *fakeMax) calls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.sent...)
}

func newFakeMax(t *testing.T, reply func(userID string) (int, string)) (*fakeMax, *maxapi.Client) {
	t.Helper()
	f := &fakeMax{reply: reply}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			http.NotFound(w, r)
			return
		}
		var m maxapi.NewMessage
		_ = json.NewDecoder(r.Body).Decode(&m)
		uid := r.URL.Query().Get("user_id")
		f.mu.Lock()
		f.sent = append(f.sent, sentCall{UserID: uid, Body: m})
		f.mu.Unlock()
		status, body := f.reply(uid)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	c := maxapi.New(config.BotConfig{Token: "tok"}, maxapi.WithBase(srv.URL+"/"), maxapi.WithHTTPClient(srv.Client()))
	return f, c
}

func confirmed(userID string) (int, string) {
	return http.StatusOK, `{"message":{"recipient":{"user_id":` + userID + `},"body":{"mid":"mid.` + userID + `","text":"x"}}}`
}

package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/max-bridge/internal/config"
	"github.com/tbourn/max-bridge/internal/domain"
	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/platform"
	"github.com/tbourn/max-bridge/internal/repo"
	"github.com/tbourn/max-bridge/internal/services"
)

type sent struct {
	chat int64
	msg  maxapi.NewMessage
}

type edited struct {
	mid string
	msg maxapi.NewMessage
}

// fakeAPI records outbound calls and confirms every send.
type fakeAPI struct {
	mu      sync.Mutex
	seq     int
	sent    []sent
	edited  []edited
	deleted []string
	answers []string
	invited []int64
}

func (f *fakeAPI) SendMessage(_ context.Context, userID int64, m maxapi.NewMessage) (maxapi.Result[maxapi.SentMessage], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.sent = append(f.sent, sent{chat: userID, msg: m})
	var out maxapi.SentMessage
	out.Message.Recipient.UserID = userID
	out.Message.Body.MID = fmt.Sprintf("mid.%d", f.seq)
	return maxapi.Result[maxapi.SentMessage]{Value: out}, nil
}

func (f *fakeAPI) EditMessage(_ context.Context, mid string, m maxapi.NewMessage) (maxapi.Result[maxapi.SimpleResult], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, edited{mid: mid, msg: m})
	return maxapi.Result[maxapi.SimpleResult]{Value: maxapi.SimpleResult{Success: true}}, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, mid string) (maxapi.Result[maxapi.SimpleResult], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, mid)
	return maxapi.Result[maxapi.SimpleResult]{Value: maxapi.SimpleResult{Success: true}}, nil
}

func (f *fakeAPI) AnswerCallback(_ context.Context, _ string, notification string) (maxapi.Result[maxapi.SimpleResult], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, notification)
	return maxapi.Result[maxapi.SimpleResult]{Value: maxapi.SimpleResult{Success: true}}, nil
}

func (f *fakeAPI) AddMembers(_ context.Context, _ int64, userIDs ...int64) (maxapi.Result[maxapi.SimpleResult], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invited = append(f.invited, userIDs...)
	return maxapi.Result[maxapi.SimpleResult]{Value: maxapi.SimpleResult{Success: true}}, nil
}

func (f *fakeAPI) last(t *testing.T) maxapi.NewMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "nothing was sent")
	return f.sent[len(f.sent)-1].msg
}

func (f *fakeAPI) lastEdit(t *testing.T) edited {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.edited, "nothing was edited")
	return f.edited[len(f.edited)-1]
}

// buttons flattens the inline keyboards of m.
func buttons(m maxapi.NewMessage) []maxapi.Button {
	var out []maxapi.Button
	for _, a := range m.Attachments {
		kb, ok := a.Payload.(maxapi.Keyboard)
		if !ok {
			continue
		}
		for _, row := range kb.Buttons {
			out = append(out, row...)
		}
	}
	return out
}

func payloads(m maxapi.NewMessage) []string {
	var out []string
	for _, b := range buttons(m) {
		out = append(out, b.Payload)
	}
	return out
}

// fakeDir is a platform with one teacher course.
type fakeDir struct {
	platform.Directory

	mu       sync.Mutex
	users    map[int64]*platform.User
	updates  []platform.UserUpdate
	courses  []platform.Course
	groups   []platform.Group
	people   []platform.Participant
	teachers map[int64]bool
	caps     map[string]bool
	created  []platform.NewEvent
}

func newFakeDir() *fakeDir {
	return &fakeDir{
		users:    map[int64]*platform.User{},
		courses:  []platform.Course{{ID: 5, FullName: "Go 101", URL: "https://lms.example/course/5", Progress: 40}},
		groups:   []platform.Group{{ID: 7, Name: "A"}},
		teachers: map[int64]bool{},
		caps:     map[string]bool{},
	}
}

func (f *fakeDir) User(_ context.Context, id int64) (*platform.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, platform.ErrNotFound
}

func (f *fakeDir) UpdateUser(_ context.Context, _ int64, u platform.UserUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakeDir) Courses(context.Context) ([]platform.Course, error) { return f.courses, nil }

func (f *fakeDir) UserCourses(context.Context, int64) ([]platform.Course, error) {
	return f.courses, nil
}

func (f *fakeDir) Groups(context.Context, int64, int64) ([]platform.Group, error) {
	return f.groups, nil
}

func (f *fakeDir) Participants(context.Context, int64, int64) ([]platform.Participant, error) {
	return f.people, nil
}

func (f *fakeDir) HasRole(_ context.Context, userID, _ int64, _ []string) (bool, error) {
	return f.teachers[userID], nil
}

func (f *fakeDir) HasCapability(_ context.Context, _, _ int64, capability string) (bool, error) {
	return f.caps[capability], nil
}

func (f *fakeDir) CreateEvent(_ context.Context, e platform.NewEvent) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, e)
	return int64(len(f.created)), nil
}

func (f *fakeDir) Completion(context.Context, int64, int64) ([]platform.ActivityState, error) {
	return []platform.ActivityState{
		{Name: "Intro", State: platform.CompletionComplete},
		{Name: "Quiz", State: platform.CompletionFail},
		{Name: "Essay", State: platform.CompletionIncomplete},
	}, nil
}

func (f *fakeDir) CourseProgress(context.Context, int64, int64) (float64, error) { return 33.3, nil }

type fakeBroadcast struct {
	accounts []int64
	message  string
}

func (f *fakeBroadcast) DeliverMany(_ context.Context, accounts []int64, message string) map[services.Outcome]int {
	f.accounts = append(f.accounts, accounts...)
	f.message = message
	return map[services.Outcome]int{services.OutcomeSent: len(accounts)}
}

type harness struct {
	d     *Dispatcher
	api   *fakeAPI
	dir   *fakeDir
	links *services.LinkService
	cast  *fakeBroadcast
	db    *gorm.DB
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Preference{}, &domain.DialogueState{}))

	cfg := config.BotConfig{
		Token:          "t",
		WebhookMode:    true,
		LinkSentinel:   "usersecret::",
		UsernameField:  "max_username",
		PhoneField:     "phone2",
		MsgRoles:       []string{"teacher"},
		ReportsEnabled: true,
		WarnReport:     true,
		ReportFields:   []string{"email"},
		Locales:        []string{"en", "ru", "be", "uk"},
		SiteURL:        "https://lms.example",
	}
	dir := newFakeDir()
	links := services.NewLinkService(db, repo.Preferences{}, cfg, dir, zerolog.Nop())
	api := &fakeAPI{}
	cast := &fakeBroadcast{}
	d := &Dispatcher{
		DB:        db,
		States:    repo.DialogueStates{},
		API:       api,
		Links:     links,
		Directory: dir,
		Delivery:  cast,
		Config:    cfg,
		Log:       zerolog.Nop(),
		Now:       func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) },
		Location:  time.UTC,
	}
	return &harness{d: d, api: api, dir: dir, links: links, cast: cast, db: db}
}

// link binds account to chat directly.
func (h *harness) link(t *testing.T, account, chat int64) {
	t.Helper()
	require.NoError(t, repo.SetPreference(context.Background(), h.db, account, services.PrefChatID, fmt.Sprint(chat)))
}

func (h *harness) state(t *testing.T, chat int64) domain.DialogueState {
	t.Helper()
	st, err := repo.GetDialogueState(context.Background(), h.db, chat)
	require.NoError(t, err)
	return *st
}

func (h *harness) seed(t *testing.T, st domain.DialogueState) {
	t.Helper()
	require.NoError(t, repo.UpsertDialogueState(context.Background(), h.db, &st))
}

func textUpdate(chat int64, text string) *maxapi.Update {
	return &maxapi.Update{
		UpdateType: maxapi.UpdateMessageCreated,
		Message: &maxapi.Message{
			Sender: &maxapi.User{UserID: chat, Name: "Ann"},
			Body:   maxapi.MessageBody{MID: "in." + text, Text: text},
		},
	}
}

func callbackUpdate(chat int64, payload, mid, body string) *maxapi.Update {
	return &maxapi.Update{
		UpdateType: maxapi.UpdateMessageCallback,
		Callback:   &maxapi.Callback{CallbackID: "cb1", Payload: payload, User: maxapi.User{UserID: chat}},
		Message:    &maxapi.Message{Body: maxapi.MessageBody{MID: mid, Text: body}},
	}
}

package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/tbourn/max-bridge/internal/maxapi"
	"github.com/tbourn/max-bridge/internal/platform"
)

func TestLinkService_GenerateSecret(t *testing.T) {
	s := newLinkService(t, true)
	s.rand = bytes.NewReader([]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01, 0x02, 0x03})
	got, err := s.GenerateSecret(Caller{AccountID: 1})
	if err != nil || got != "deadbeef00010203" {
		t.Fatalf("GenerateSecret = %q err=%v", got, err)
	}

	poll := newLinkService(t, false)
	if got, _ := poll.GenerateSecret(Caller{AccountID: 1, SessionKey: "sess1"}); got != "sess1" {
		t.Fatalf("poll secret = %q", got)
	}
	if _, err := poll.GenerateSecret(Caller{AccountID: 1}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestLinkService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newLinkService(t, true)
	user := Caller{AccountID: 42}

	secret, err := s.IssueSecret(ctx, user, 0)
	if err != nil || len(secret) != 16 {
		t.Fatalf("IssueSecret = %q err=%v", secret, err)
	}
	if linked, _ := s.IsLinked(ctx, 42); linked {
		t.Fatalf("pending secret must not count as linked")
	}
	if ok, _ := s.VerifySecret(ctx, user, secret, 0); !ok {
		t.Fatalf("VerifySecret rejected the issued secret")
	}
	if ok, _ := s.VerifySecret(ctx, user, secret+"x", 0); ok {
		t.Fatalf("VerifySecret accepted a wrong secret")
	}

	account, err := s.CompleteLink(ctx, Caller{}, 555, secret, "Ann")
	if err != nil || account != 42 {
		t.Fatalf("CompleteLink = %d err=%v", account, err)
	}
	if linked, _ := s.IsLinked(ctx, 42); !linked {
		t.Fatalf("account should be linked")
	}
	chat, ok, _ := s.ChatIDFor(ctx, 42)
	if !ok || chat != 555 {
		t.Fatalf("ChatIDFor = %d %v", chat, ok)
	}
	ids, _ := s.LookupAccounts(ctx, 555)
	if len(ids) != 1 || ids[0] != 42 {
		t.Fatalf("LookupAccounts = %v", ids)
	}

	// the secret is consumed
	if _, err := s.CompleteLink(ctx, Caller{}, 555, secret, "Ann"); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("replay: expected ErrLinkNotFound, got %v", err)
	}

	if err := s.Unlink(ctx, user, 0); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if linked, _ := s.IsLinked(ctx, 42); linked {
		t.Fatalf("account still linked after Unlink")
	}
}

func TestLinkService_CompleteLinkKnownSecret(t *testing.T) {
	ctx := context.Background()
	s := newLinkService(t, true)
	if err := s.Repo.SetPreference(ctx, s.DB, 42, PrefChatID, "usersecret::abc123"); err != nil {
		t.Fatal(err)
	}
	account, err := s.CompleteLink(ctx, Caller{}, 1001, "abc123", "")
	if err != nil || account != 42 {
		t.Fatalf("CompleteLink = %d err=%v", account, err)
	}
	v, _ := s.Repo.GetPreference(ctx, s.DB, 42, PrefChatID)
	if v != "1001" {
		t.Fatalf("stored value = %q", v)
	}
}

func TestLinkService_CrossAccountNeedsAdmin(t *testing.T) {
	ctx := context.Background()
	s := newLinkService(t, false)
	user := Caller{AccountID: 1, SessionKey: "k"}

	if _, err := s.IssueSecret(ctx, user, 2); !errors.Is(err, ErrForbidden) {
		t.Fatalf("IssueSecret cross-account: %v", err)
	}
	if err := s.Unlink(ctx, user, 2); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Unlink cross-account: %v", err)
	}
	if _, err := s.VerifySecret(ctx, user, "k", 2); !errors.Is(err, ErrForbidden) {
		t.Fatalf("VerifySecret cross-account in poll mode: %v", err)
	}
	admin := Caller{AccountID: 1, Admin: true, SessionKey: "adm"}
	if _, err := s.IssueSecret(ctx, admin, 2); err != nil {
		t.Fatalf("admin IssueSecret: %v", err)
	}

	// webhook mode trusts the authenticated webhook caller for verification
	wh := newLinkService(t, true)
	if _, err := wh.VerifySecret(ctx, Caller{}, "x", 2); err != nil {
		t.Fatalf("webhook VerifySecret: %v", err)
	}
}

func TestLinkService_ResolveAccountPrefersSelection(t *testing.T) {
	ctx := context.Background()
	s := newLinkService(t, true)
	for _, a := range []int64{10, 20} {
		_ = s.Repo.SetPreference(ctx, s.DB, a, PrefChatID, "77")
	}

	a, all, err := s.ResolveAccount(ctx, 77)
	if err != nil || a != 10 || len(all) != 2 {
		t.Fatalf("ResolveAccount = %d %v err=%v", a, all, err)
	}
	if err := s.SetPreferredAccount(ctx, 77, 20); err != nil {
		t.Fatalf("SetPreferredAccount: %v", err)
	}
	if a, _, _ := s.ResolveAccount(ctx, 77); a != 20 {
		t.Fatalf("preferred account ignored: %d", a)
	}
	if err := s.SetPreferredAccount(ctx, 77, 99); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign account accepted: %v", err)
	}
	if a, _, _ := s.ResolveAccount(ctx, 12345); a != 0 {
		t.Fatalf("unlinked chat resolved to %d", a)
	}
}

func TestLinkService_ForgetChat(t *testing.T) {
	ctx := context.Background()
	s := newLinkService(t, true)
	_ = s.Repo.SetPreference(ctx, s.DB, 1, PrefChatID, "9")
	_ = s.Repo.SetPreference(ctx, s.DB, 2, PrefChatID, "9")
	_ = s.Repo.SetPreference(ctx, s.DB, 3, PrefChatID, "8")

	n, err := s.ForgetChat(ctx, 9)
	if err != nil || n != 2 {
		t.Fatalf("ForgetChat = %d err=%v", n, err)
	}
	if linked, _ := s.IsLinked(ctx, 3); !linked {
		t.Fatalf("unrelated binding removed")
	}
}

func TestLinkService_IsLinkedIgnoresValueFormat(t *testing.T) {
	ctx := context.Background()
	s := newLinkService(t, true)
	_ = s.Repo.SetPreference(ctx, s.DB, 1, PrefChatID, "chat-abc")
	_ = s.Repo.SetPreference(ctx, s.DB, 2, PrefChatID, "usersecret::abc123")

	if linked, err := s.IsLinked(ctx, 1); err != nil || !linked {
		t.Fatalf("IsLinked(non-numeric) = %v err=%v; want true", linked, err)
	}
	if _, ok, _ := s.ChatIDFor(ctx, 1); ok {
		t.Fatalf("ChatIDFor should not resolve a non-numeric binding")
	}
	if linked, _ := s.IsLinked(ctx, 2); linked {
		t.Fatalf("pending secret reported as linked")
	}
	if linked, err := s.IsLinked(ctx, 3); err != nil || linked {
		t.Fatalf("IsLinked(missing) = %v err=%v; want false", linked, err)
	}
}

type fakeUpdates struct{ list maxapi.UpdateList }

func (f fakeUpdates) Updates(context.Context, *int64) (maxapi.Result[maxapi.UpdateList], error) {
	return maxapi.Result[maxapi.UpdateList]{Value: f.list}, nil
}

func TestLinkService_PollLink(t *testing.T) {
	ctx := context.Background()
	s := newLinkService(t, false)
	s.Updates = fakeUpdates{list: maxapi.UpdateList{Updates: []maxapi.Update{
		{UpdateType: maxapi.UpdateBotStarted, User: &maxapi.User{UserID: 300, Name: "Other"}, Payload: "nope"},
		{UpdateType: maxapi.UpdateBotStarted, User: &maxapi.User{UserID: 301, Name: "Me"}, Payload: "sess-42"},
	}}}
	caller := Caller{AccountID: 42, SessionKey: "sess-42"}
	if _, err := s.IssueSecret(ctx, caller, 0); err != nil {
		t.Fatal(err)
	}
	chat, err := s.PollLink(ctx, caller)
	if err != nil || chat != 301 {
		t.Fatalf("PollLink = %d err=%v", chat, err)
	}

	wh := newLinkService(t, true)
	if _, err := wh.PollLink(ctx, caller); !errors.Is(err, ErrPollUnavailable) {
		t.Fatalf("expected ErrPollUnavailable, got %v", err)
	}
}

type mirrorDir struct {
	platform.Directory
	got platform.UserUpdate
	err error
}

func (m *mirrorDir) UpdateUser(_ context.Context, _ int64, u platform.UserUpdate) error {
	m.got = u
	return m.err
}

func TestLinkService_MirrorsDisplayName(t *testing.T) {
	ctx := context.Background()
	s := newLinkService(t, true)
	dir := &mirrorDir{err: errors.New("ws down")}
	s.Directory = dir
	s.UsernameField = "max_username"
	_ = s.Repo.SetPreference(ctx, s.DB, 5, PrefChatID, "usersecret::s1")

	// a failed mirror is logged, not returned
	if _, err := s.CompleteLink(ctx, Caller{}, 7, "s1", "Bob"); err != nil {
		t.Fatalf("CompleteLink: %v", err)
	}
	if dir.got.Custom["max_username"] != "Bob" {
		t.Fatalf("display name not mirrored: %+v", dir.got)
	}
}

func TestLinkService_Language(t *testing.T) {
	ctx := context.Background()
	s := newLinkService(t, true)
	if l, err := s.Language(ctx, 1); err != nil || l != "" {
		t.Fatalf("Language = %q err=%v", l, err)
	}
	_ = s.SetLanguage(ctx, 1, "be")
	if l, _ := s.Language(ctx, 1); l != "be" {
		t.Fatalf("Language = %q", l)
	}
}

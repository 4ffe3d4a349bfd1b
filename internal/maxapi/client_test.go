package maxapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/max-bridge/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(config.BotConfig{Token: "tok-123", APIBase: srv.URL, Timeout: 2 * time.Second},
		WithHTTPClient(srv.Client()))
	return c, srv
}

func TestCall_NotConfigured_NoNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := New(config.BotConfig{APIBase: srv.URL})
	if _, err := c.Call(context.Background(), http.MethodGet, "me", nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := c.SendMessage(context.Background(), 1, NewMessage{Text: "x"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured from typed call, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("no request must be sent without a token")
	}
}

func TestCall_GET_EncodesQueryAndAuth(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/updates" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "tok-123" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Query().Get("marker") != "7" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"raw":true}`))
	})

	res, err := c.Call(context.Background(), http.MethodGet, "updates?marker=7", url.Values{"limit": {"5"}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Status != http.StatusOK || string(res.Body) != `{"raw":true}` {
		t.Fatalf("body must be returned untouched, got %d %q", res.Status, res.Body)
	}
}

func TestCall_POST_SendsJSON_DELETE_NoBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch r.Method {
		case http.MethodPost:
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("POST content type = %q", r.Header.Get("Content-Type"))
			}
			var m map[string]any
			if err := json.Unmarshal(body, &m); err != nil || m["text"] != "hi" {
				t.Errorf("POST body = %s", body)
			}
		case http.MethodDelete:
			if len(body) != 0 {
				t.Errorf("DELETE must not send a body, got %q", body)
			}
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	if _, err := c.Call(context.Background(), http.MethodPost, "messages?user_id=1", map[string]string{"text": "hi"}); err != nil {
		t.Fatalf("POST: %v", err)
	}
	if _, err := c.Call(context.Background(), http.MethodDelete, "messages?message_id=m1", map[string]string{"ignored": "x"}); err != nil {
		t.Fatalf("DELETE: %v", err)
	}
}

func TestCall_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := New(config.BotConfig{Token: "t", APIBase: base, Timeout: time.Second})
	_, err := c.Call(context.Background(), http.MethodGet, "me", nil)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestCall_Timeout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	})
	c.http.Timeout = 50 * time.Millisecond
	if _, err := c.Call(context.Background(), http.MethodGet, "me", nil); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport on timeout, got %v", err)
	}
}

func TestCall_UnsupportedMethod(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	if _, err := c.Call(context.Background(), http.MethodPatch, "me", nil); err == nil {
		t.Fatalf("expected error for PATCH")
	}
}

func TestSendMessage_ConfirmedAndRejected(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if r.URL.Query().Get("user_id") != "555" || r.URL.Query().Get("disable_link_preview") != "true" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		if n == 1 {
			_, _ = w.Write([]byte(`{"message":{"recipient":{"user_id":555},"body":{"mid":"mid.1","text":"hi"}}}`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"chat.denied","message":"dialog is blocked"}`))
	})

	ok, err := c.SendMessage(context.Background(), 555, NewMessage{Text: "hi", Format: FormatHTML})
	if err != nil || !ok.OK() || !ok.Value.Confirmed() || ok.Value.MID() != "mid.1" {
		t.Fatalf("unexpected success result: %+v err=%v", ok, err)
	}

	rej, err := c.SendMessage(context.Background(), 555, NewMessage{Text: "hi"})
	if err != nil {
		t.Fatalf("a provider rejection is not a Go error: %v", err)
	}
	if rej.OK() || !rej.Err.Forbidden() || rej.Err.Description() != "dialog is blocked" {
		t.Fatalf("unexpected rejection: %+v", rej.Err)
	}
}

func TestSendMessage_UnconfirmedBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"body":{"mid":"mid.1"}}}`))
	})
	res, err := c.SendMessage(context.Background(), 1, NewMessage{Text: "x"})
	if err != nil || !res.OK() || res.Value.Confirmed() {
		t.Fatalf("expected OK but unconfirmed, got %+v err=%v", res, err)
	}
}

func TestDecode_MalformedSuccess(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	if _, err := c.Me(context.Background()); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestDecode_PlainTextError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	res, err := c.Me(context.Background())
	if err != nil || res.Err == nil || res.Err.Status != http.StatusBadGateway || res.Err.Message != "bad gateway" {
		t.Fatalf("unexpected: %+v err=%v", res.Err, err)
	}
	if res.Err.Forbidden() {
		t.Fatalf("502 must not be treated as forbidden")
	}
}

func TestAcknowledged_SuccessFalse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/subscriptions" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var s Subscription
		_ = json.NewDecoder(r.Body).Decode(&s)
		if s.URL != "https://bridge.example/webhook/max" || s.Secret != "s3cr3t" {
			t.Errorf("subscription body = %+v", s)
		}
		_, _ = w.Write([]byte(`{"success":false,"message":"url is not reachable"}`))
	})
	res, err := c.Subscribe(context.Background(), Subscription{URL: "https://bridge.example/webhook/max", Secret: "s3cr3t"})
	if err != nil || res.OK() || res.Err.Message != "url is not reachable" {
		t.Fatalf("expected unsuccessful result, got %+v err=%v", res, err)
	}
}

func TestEndpoints_Paths(t *testing.T) {
	type seen struct{ method, path, query string }
	var got []seen
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, seen{r.Method, r.URL.Path, r.URL.RawQuery})
		switch r.URL.Path {
		case "/chats/-100":
			_, _ = w.Write([]byte(`{"chat_id":-100,"type":"channel","title":"News","link":"https://max.ru/join/x"}`))
		case "/updates":
			_, _ = w.Write([]byte(`{"updates":[{"update_type":"bot_started","user_id":5,"payload":"abc","user":{"user_id":5,"name":"Ann"}}],"marker":9}`))
		default:
			_, _ = w.Write([]byte(`{"success":true}`))
		}
	})
	ctx := context.Background()

	if _, err := c.EditMessage(ctx, "mid.1", NewMessage{Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.DeleteMessage(ctx, "mid.1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AnswerCallback(ctx, "cb.1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Unsubscribe(ctx, "https://h/x"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AddMembers(ctx, -100, 5, 6); err != nil {
		t.Fatal(err)
	}
	chat, err := c.Chat(ctx, -100)
	if err != nil || chat.Value.Link != "https://max.ru/join/x" {
		t.Fatalf("chat: %+v err=%v", chat, err)
	}
	marker := int64(3)
	ups, err := c.Updates(ctx, &marker)
	if err != nil || len(ups.Value.Updates) != 1 || ups.Value.Updates[0].Payload != "abc" || *ups.Value.Marker != 9 {
		t.Fatalf("updates: %+v err=%v", ups, err)
	}

	want := []seen{
		{http.MethodPut, "/messages", "message_id=mid.1"},
		{http.MethodDelete, "/messages", "message_id=mid.1"},
		{http.MethodPost, "/answers", "callback_id=cb.1"},
		{http.MethodDelete, "/subscriptions", "url=https%3A%2F%2Fh%2Fx"},
		{http.MethodPost, "/chats/-100/members", ""},
		{http.MethodGet, "/chats/-100", ""},
		{http.MethodGet, "/updates", "marker=3&timeout=0"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d calls, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestForbidden(t *testing.T) {
	cases := []struct {
		err  *APIError
		want bool
	}{
		{nil, false},
		{&APIError{Status: 403}, true},
		{&APIError{Status: 400, Code: "chat.denied"}, true},
		{&APIError{Status: 400, Code: "access.denied"}, true},
		{&APIError{Status: 404, Code: "Forbidden"}, true},
		{&APIError{Status: 429, Code: "too.many.requests"}, false},
		{&APIError{Status: 500}, false},
	}
	for _, tc := range cases {
		if got := tc.err.Forbidden(); got != tc.want {
			t.Errorf("%+v.Forbidden() = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestContactPhone(t *testing.T) {
	raw := `{"sender":{"user_id":5},"body":{"mid":"m","text":"","attachments":[{"type":"contact","payload":{"vcf_info":"BEGIN:VCARD\r\nVERSION:3.0\r\nTEL;TYPE=cell:+7 (999) 123-\r\n 45-67\r\nEND:VCARD","max_info":{"user_id":5}}}]}}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	p, ok := m.Contact()
	if !ok {
		t.Fatalf("expected contact attachment")
	}
	if got := p.Phone(); got != "79991234567" {
		t.Fatalf("Phone() = %q", got)
	}
	if p.MaxInfo == nil || p.MaxInfo.UserID != 5 {
		t.Fatalf("max_info = %+v", p.MaxInfo)
	}
}

package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tbourn/max-bridge/internal/config"
)

// fakeWS serves canned bodies per wsfunction and records form params.
func fakeWS(t *testing.T, bodies map[string]string) (*Client, map[string]map[string]string) {
	t.Helper()
	seen := map[string]map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/webservice/rest/server.php" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("wstoken") != "ws-token" || q.Get("moodlewsrestformat") != "json" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		fn := q.Get("wsfunction")
		_ = r.ParseForm()
		params := map[string]string{}
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		seen[fn] = params
		body, ok := bodies[fn]
		if !ok {
			t.Errorf("unexpected wsfunction %s", fn)
			body = "null"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(config.PlatformConfig{BaseURL: srv.URL + "/", Token: "ws-token", Timeout: 2 * time.Second})
	c.http = srv.Client()
	return c, seen
}

func TestClient_User(t *testing.T) {
	c, seen := fakeWS(t, map[string]string{
		fnUsersByField: `[{"id":42,"firstname":"Ann","lastname":"Lee","email":"ann@example.com","lang":"ru","phone2":"","customfields":[{"shortname":"max_username","value":"ann"}]}]`,
	})
	u, err := c.User(context.Background(), 42)
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if u.FullName() != "Ann Lee" || u.Lang != "ru" || u.Field("max_username") != "ann" || u.Field("email") != "ann@example.com" {
		t.Fatalf("unexpected user %+v", u)
	}
	if seen[fnUsersByField]["field"] != "id" || seen[fnUsersByField]["values[0]"] != "42" {
		t.Fatalf("unexpected params %v", seen[fnUsersByField])
	}
}

func TestClient_User_NotFoundAndException(t *testing.T) {
	c, _ := fakeWS(t, map[string]string{fnUsersByField: `[]`})
	if _, err := c.User(context.Background(), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	c, _ = fakeWS(t, map[string]string{
		fnUsersByField: `{"exception":"webservice_access_exception","errorcode":"accessexception","message":"Access control exception"}`,
	})
	_, err := c.User(context.Background(), 1)
	var wsErr *WSError
	if !errors.As(err, &wsErr) || wsErr.ErrorCode != "accessexception" {
		t.Fatalf("expected WSError, got %v", err)
	}
}

func TestClient_UpdateUser(t *testing.T) {
	c, seen := fakeWS(t, map[string]string{fnUpdateUsers: `null`})
	err := c.UpdateUser(context.Background(), 7, UserUpdate{
		Lang:   "be",
		Custom: map[string]string{"profile_field_max_username": "bob"},
	})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	p := seen[fnUpdateUsers]
	if p["users[0][id]"] != "7" || p["users[0][lang]"] != "be" ||
		p["users[0][customfields][0][type]"] != "max_username" || p["users[0][customfields][0][value]"] != "bob" {
		t.Fatalf("unexpected params %v", p)
	}

	// nothing to write: no call at all
	c2, seen2 := fakeWS(t, map[string]string{})
	if err := c2.UpdateUser(context.Background(), 7, UserUpdate{}); err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if len(seen2) != 0 {
		t.Fatalf("expected no call, got %v", seen2)
	}
}

func TestClient_CoursesAndProgress(t *testing.T) {
	c, _ := fakeWS(t, map[string]string{
		fnCourses:     `[{"id":1,"fullname":"Site","visible":1},{"id":2,"fullname":"Go","visible":1},{"id":3,"fullname":"Hidden","visible":0}]`,
		fnUserCourses: `[{"id":2,"fullname":"Go","progress":62.5},{"id":4,"fullname":"Rust","progress":null}]`,
	})
	ctx := context.Background()

	courses, err := c.Courses(ctx)
	if err != nil || len(courses) != 1 || courses[0].FullName != "Go" {
		t.Fatalf("Courses = %+v err=%v", courses, err)
	}
	p, err := c.CourseProgress(ctx, 2, 42)
	if err != nil || p != 62.5 {
		t.Fatalf("CourseProgress = %v err=%v", p, err)
	}
	if _, err := c.CourseProgress(ctx, 9, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClient_ParticipantsMarksSuspended(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		calls++
		if r.PostForm.Get("options[0][name]") != "groupid" || r.PostForm.Get("options[0][value]") != "5" {
			t.Errorf("group option missing: %v", r.PostForm)
		}
		if r.PostForm.Get("options[1][name]") == "onlyactive" {
			_, _ = w.Write([]byte(`[{"id":1,"firstname":"A","roles":[{"shortname":"student"}]}]`))
			return
		}
		_, _ = w.Write([]byte(`[{"id":1,"firstname":"A","roles":[{"shortname":"student"}]},{"id":2,"firstname":"B","roles":[{"shortname":"student"}],"lastcourseaccess":1700000000}]`))
	}))
	defer srv.Close()
	c := NewClient(config.PlatformConfig{BaseURL: srv.URL, Token: "t"})

	ps, err := c.Participants(context.Background(), 10, 5)
	if err != nil || len(ps) != 2 || calls != 2 {
		t.Fatalf("Participants = %+v err=%v calls=%d", ps, err, calls)
	}
	if ps[0].Suspended || !ps[1].Suspended || !ps[0].HasRole("Student") {
		t.Fatalf("unexpected participants %+v", ps)
	}
	if ps[1].LastCourseAccess.Unix() != 1700000000 {
		t.Fatalf("last access = %v", ps[1].LastCourseAccess)
	}
}

func TestClient_CompletionJoinsModuleNames(t *testing.T) {
	c, _ := fakeWS(t, map[string]string{
		fnActivitiesStatus: `{"statuses":[{"cmid":11,"state":1,"tracking":1},{"cmid":12,"state":0,"tracking":1},{"cmid":13,"state":0,"tracking":0},{"cmid":14,"state":1,"tracking":1}]}`,
		fnCourseContents:   `[{"modules":[{"id":11,"name":"Quiz"},{"id":12,"name":"Essay"},{"id":13,"name":"Page"},{"id":14,"name":"Hidden","uservisible":false}]}]`,
	})
	got, err := c.Completion(context.Background(), 2, 42)
	if err != nil {
		t.Fatalf("Completion: %v", err)
	}
	want := []ActivityState{{Name: "Quiz", State: 1}, {Name: "Essay", State: 0}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Completion = %+v", got)
	}
}

func TestClient_CreateEvent(t *testing.T) {
	c, seen := fakeWS(t, map[string]string{fnCreateEvents: `{"events":[{"id":77}],"warnings":[]}`})
	start := time.Unix(1767225600, 0)
	id, err := c.CreateEvent(context.Background(), NewEvent{
		Name: "Consultation", Type: "group", CourseID: 2, GroupID: 5, UserID: 42,
		Start: start, Duration: 90 * time.Minute,
	})
	if err != nil || id != 77 {
		t.Fatalf("CreateEvent = %d err=%v", id, err)
	}
	p := seen[fnCreateEvents]
	if p["events[0][timeduration]"] != "5400" || p["events[0][eventtype]"] != "group" || p["events[0][groupid]"] != "5" {
		t.Fatalf("unexpected params %v", p)
	}

	c2, _ := fakeWS(t, map[string]string{fnCreateEvents: `{"events":[],"warnings":[{"message":"nopermission"}]}`})
	if _, err := c2.CreateEvent(context.Background(), NewEvent{Name: "x", Type: "user", Start: start}); err == nil {
		t.Fatalf("expected warning to surface as error")
	}
}

func TestClient_HasCapabilityAndRole(t *testing.T) {
	c, _ := fakeWS(t, map[string]string{
		fnUsersWithCapability: `[{"courseid":2,"capability":"moodle/calendar:manageentries","users":[{"id":42}]}]`,
		fnEnrolledUsers:       `[{"id":42,"roles":[{"shortname":"editingteacher"}]}]`,
	})
	ctx := context.Background()
	ok, err := c.HasCapability(ctx, 42, 2, CapManageEntries)
	if err != nil || !ok {
		t.Fatalf("HasCapability = %v err=%v", ok, err)
	}
	ok, _ = c.HasCapability(ctx, 7, 2, CapManageEntries)
	if ok {
		t.Fatalf("user 7 must not have the capability")
	}
	ok, err = c.HasRole(ctx, 42, 2, []string{"teacher", "editingteacher"})
	if err != nil || !ok {
		t.Fatalf("HasRole = %v err=%v", ok, err)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(config.PlatformConfig{})
	if _, err := c.User(context.Background(), 1); err == nil {
		t.Fatalf("expected error without base URL and token")
	}
}

func TestClient_ParticipantsWithoutGroup(t *testing.T) {
	c, _ := fakeWS(t, map[string]string{
		fnEnrolledUsers: `[{"id":1,"firstname":"A","groups":[{"id":5}]},{"id":2,"firstname":"B","groups":[]}]`,
	})
	ps, err := c.Participants(context.Background(), 10, -1)
	if err != nil || len(ps) != 1 || ps[0].ID != 2 {
		t.Fatalf("Participants = %+v err=%v", ps, err)
	}
}

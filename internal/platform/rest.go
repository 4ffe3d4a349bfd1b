package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tbourn/max-bridge/internal/config"
)

// Web-service functions. Certificates come from the companion plugin on the
// platform side; everything else is core.
const (
	fnUsersByField        = "core_user_get_users_by_field"
	fnUpdateUsers         = "core_user_update_users"
	fnCourses             = "core_course_get_courses"
	fnCourseContents      = "core_course_get_contents"
	fnUserCourses         = "core_enrol_get_users_courses"
	fnCourseGroups        = "core_group_get_course_groups"
	fnUserGroups          = "core_group_get_course_user_groups"
	fnEnrolledUsers       = "core_enrol_get_enrolled_users"
	fnUsersWithCapability = "core_enrol_get_enrolled_users_with_capability"
	fnActivitiesStatus    = "core_completion_get_activities_completion_status"
	fnCalendarEvents      = "core_calendar_get_calendar_events"
	fnCreateEvents        = "core_calendar_create_calendar_events"
	fnUserCertificates    = "local_maxbridge_get_user_certificates"
	fnCertificateByCode   = "local_maxbridge_get_certificate"
)

// upcomingWindow bounds UpcomingEvents.
const upcomingWindow = 30 * 24 * time.Hour

// WSError is an exception reported by the web-service.
type WSError struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

func (e *WSError) Error() string {
	return fmt.Sprintf("platform: %s: %s", e.ErrorCode, e.Message)
}

// Client implements Directory over the REST web-service endpoint
// <base>/webservice/rest/server.php.
type Client struct {
	endpoint string
	base     string
	token    string
	http     *http.Client
	now      func() time.Time
}

var _ Directory = (*Client)(nil)

// NewClient builds a client; outbound calls are traced with otelhttp.
func NewClient(cfg config.PlatformConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		endpoint: base + "/webservice/rest/server.php",
		base:     base,
		token:    cfg.Token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: time.Now,
	}
}

// call posts one web-service function and decodes the JSON result into out.
func (c *Client) call(ctx context.Context, fn string, params url.Values, out any) error {
	if c.token == "" || c.base == "" {
		return errors.New("platform: web-service not configured")
	}
	if params == nil {
		params = url.Values{}
	}
	q := url.Values{}
	q.Set("wstoken", c.token)
	q.Set("wsfunction", fn)
	q.Set("moodlewsrestformat", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?"+q.Encode(), strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform: %s: %w", fn, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("platform: %s: read: %w", fn, err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("platform: %s: http %d", fn, res.StatusCode)
	}

	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("{")) && bytes.Contains(trimmed, []byte(`"exception"`)) {
		var wsErr WSError
		if json.Unmarshal(trimmed, &wsErr) == nil && wsErr.Exception != "" {
			return &wsErr
		}
	}
	if out == nil || len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("platform: %s: decode: %w", fn, err)
	}
	return nil
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

type wsCustomField struct {
	ShortName string `json:"shortname"`
	Value     string `json:"value"`
}

type wsRole struct {
	ShortName string `json:"shortname"`
}

type wsUser struct {
	ID               int64           `json:"id"`
	FirstName        string          `json:"firstname"`
	LastName         string          `json:"lastname"`
	Email            string          `json:"email"`
	Lang             string          `json:"lang"`
	Phone1           string          `json:"phone1"`
	Phone2           string          `json:"phone2"`
	LastAccess       int64           `json:"lastaccess"`
	LastCourseAccess int64           `json:"lastcourseaccess"`
	CustomFields     []wsCustomField `json:"customfields"`
	Roles            []wsRole        `json:"roles"`
	Groups           []wsGroupRef    `json:"groups"`
}

type wsGroupRef struct {
	ID int64 `json:"id"`
}

func (w wsUser) user() User {
	u := User{
		ID:         w.ID,
		FirstName:  w.FirstName,
		LastName:   w.LastName,
		Email:      w.Email,
		Lang:       w.Lang,
		Phone1:     w.Phone1,
		Phone2:     w.Phone2,
		LastAccess: unix(w.LastAccess),
		Custom:     make(map[string]string, len(w.CustomFields)),
	}
	for _, f := range w.CustomFields {
		u.Custom[f.ShortName] = f.Value
	}
	return u
}

// User fetches one account by id.
func (c *Client) User(ctx context.Context, userID int64) (*User, error) {
	p := url.Values{}
	p.Set("field", "id")
	p.Set("values[0]", id(userID))
	var out []wsUser
	if err := c.call(ctx, fnUsersByField, p, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	u := out[0].user()
	return &u, nil
}

// UpdateUser writes the non-empty fields of upd.
func (c *Client) UpdateUser(ctx context.Context, userID int64, upd UserUpdate) error {
	p := url.Values{}
	p.Set("users[0][id]", id(userID))
	if upd.Lang != "" {
		p.Set("users[0][lang]", upd.Lang)
	}
	if upd.Phone1 != "" {
		p.Set("users[0][phone1]", upd.Phone1)
	}
	if upd.Phone2 != "" {
		p.Set("users[0][phone2]", upd.Phone2)
	}
	i := 0
	for name, value := range upd.Custom {
		key := fmt.Sprintf("users[0][customfields][%d]", i)
		p.Set(key+"[type]", strings.TrimPrefix(name, "profile_field_"))
		p.Set(key+"[value]", value)
		i++
	}
	if len(p) == 1 {
		return nil
	}
	return c.call(ctx, fnUpdateUsers, p, nil)
}

type wsCourse struct {
	ID        int64    `json:"id"`
	FullName  string   `json:"fullname"`
	ShortName string   `json:"shortname"`
	Summary   string   `json:"summary"`
	Visible   int      `json:"visible"`
	Hidden    bool     `json:"hidden"`
	Progress  *float64 `json:"progress"`
}

func (c *Client) course(w wsCourse) Course {
	out := Course{
		ID:        w.ID,
		FullName:  w.FullName,
		ShortName: w.ShortName,
		Summary:   w.Summary,
		Visible:   w.Visible != 0 && !w.Hidden,
		URL:       c.base + "/course/view.php?id=" + id(w.ID),
	}
	if w.Progress != nil {
		out.Progress = *w.Progress
	}
	return out
}

// Courses lists visible courses, skipping the site front page.
func (c *Client) Courses(ctx context.Context) ([]Course, error) {
	var out []wsCourse
	if err := c.call(ctx, fnCourses, nil, &out); err != nil {
		return nil, err
	}
	courses := make([]Course, 0, len(out))
	for _, w := range out {
		if w.ID == 1 || w.Visible == 0 {
			continue
		}
		courses = append(courses, c.course(w))
	}
	return courses, nil
}

// UserCourses lists the user's enrolments.
func (c *Client) UserCourses(ctx context.Context, userID int64) ([]Course, error) {
	p := url.Values{}
	p.Set("userid", id(userID))
	var out []wsCourse
	if err := c.call(ctx, fnUserCourses, p, &out); err != nil {
		return nil, err
	}
	courses := make([]Course, 0, len(out))
	for _, w := range out {
		w.Visible = 1
		courses = append(courses, c.course(w))
	}
	return courses, nil
}

type wsGroup struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Groups lists course groups, optionally only those userID belongs to.
func (c *Client) Groups(ctx context.Context, courseID, userID int64) ([]Group, error) {
	var raw []wsGroup
	if userID == 0 {
		p := url.Values{}
		p.Set("courseid", id(courseID))
		if err := c.call(ctx, fnCourseGroups, p, &raw); err != nil {
			return nil, err
		}
	} else {
		p := url.Values{}
		p.Set("courseid", id(courseID))
		p.Set("userid", id(userID))
		var out struct {
			Groups []wsGroup `json:"groups"`
		}
		if err := c.call(ctx, fnUserGroups, p, &out); err != nil {
			return nil, err
		}
		raw = out.Groups
	}
	groups := make([]Group, 0, len(raw))
	for _, g := range raw {
		groups = append(groups, Group{ID: g.ID, Name: g.Name, Description: stripParagraph(g.Description)})
	}
	return groups, nil
}

func stripParagraph(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<p>")
	s = strings.TrimSuffix(s, "</p>")
	return strings.TrimSpace(s)
}

func (c *Client) enrolled(ctx context.Context, courseID, groupID int64, onlyActive bool) ([]wsUser, error) {
	p := url.Values{}
	p.Set("courseid", id(courseID))
	i := 0
	if groupID > 0 {
		p.Set(fmt.Sprintf("options[%d][name]", i), "groupid")
		p.Set(fmt.Sprintf("options[%d][value]", i), id(groupID))
		i++
	}
	if onlyActive {
		p.Set(fmt.Sprintf("options[%d][name]", i), "onlyactive")
		p.Set(fmt.Sprintf("options[%d][value]", i), "1")
	}
	var out []wsUser
	if err := c.call(ctx, fnEnrolledUsers, p, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Participants lists enrolled users. Users missing from the active
// enrolment list are reported as suspended. A negative groupID keeps only
// users outside every group.
func (c *Client) Participants(ctx context.Context, courseID, groupID int64) ([]Participant, error) {
	all, err := c.enrolled(ctx, courseID, groupID, false)
	if err != nil {
		return nil, err
	}
	active, err := c.enrolled(ctx, courseID, groupID, true)
	if err != nil {
		return nil, err
	}
	isActive := make(map[int64]bool, len(active))
	for _, u := range active {
		isActive[u.ID] = true
	}

	out := make([]Participant, 0, len(all))
	for _, w := range all {
		if groupID < 0 && len(w.Groups) > 0 {
			continue
		}
		p := Participant{
			User:             w.user(),
			Suspended:        !isActive[w.ID],
			LastCourseAccess: unix(w.LastCourseAccess),
		}
		for _, r := range w.Roles {
			p.Roles = append(p.Roles, r.ShortName)
		}
		for _, g := range w.Groups {
			p.Groups = append(p.Groups, g.ID)
		}
		out = append(out, p)
	}
	return out, nil
}

type wsModule struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	UserVisible *bool  `json:"uservisible"`
}

// Completion lists the tracked, visible activities of a course with the
// user's completion state.
func (c *Client) Completion(ctx context.Context, courseID, userID int64) ([]ActivityState, error) {
	p := url.Values{}
	p.Set("courseid", id(courseID))
	p.Set("userid", id(userID))
	var status struct {
		Statuses []struct {
			CMID     int64 `json:"cmid"`
			State    int   `json:"state"`
			Tracking int   `json:"tracking"`
		} `json:"statuses"`
	}
	if err := c.call(ctx, fnActivitiesStatus, p, &status); err != nil {
		return nil, err
	}

	cp := url.Values{}
	cp.Set("courseid", id(courseID))
	var sections []struct {
		Modules []wsModule `json:"modules"`
	}
	if err := c.call(ctx, fnCourseContents, cp, &sections); err != nil {
		return nil, err
	}
	names := make(map[int64]string)
	for _, s := range sections {
		for _, m := range s.Modules {
			if m.UserVisible != nil && !*m.UserVisible {
				continue
			}
			names[m.ID] = m.Name
		}
	}

	out := make([]ActivityState, 0, len(status.Statuses))
	for _, s := range status.Statuses {
		name, ok := names[s.CMID]
		if !ok || s.Tracking == 0 {
			continue
		}
		out = append(out, ActivityState{Name: name, State: s.State})
	}
	return out, nil
}

// CourseProgress returns the user's completion percentage in a course.
func (c *Client) CourseProgress(ctx context.Context, courseID, userID int64) (float64, error) {
	courses, err := c.UserCourses(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, co := range courses {
		if co.ID == courseID {
			return co.Progress, nil
		}
	}
	return 0, ErrNotFound
}

// UpcomingEvents lists events in the next 30 days across the user's courses.
func (c *Client) UpcomingEvents(ctx context.Context, userID int64) ([]Event, error) {
	courses, err := c.UserCourses(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := c.now()
	p := url.Values{}
	for i, co := range courses {
		p.Set(fmt.Sprintf("events[courseids][%d]", i), id(co.ID))
	}
	p.Set("options[userevents]", "1")
	p.Set("options[siteevents]", "1")
	p.Set("options[timestart]", strconv.FormatInt(now.Unix(), 10))
	p.Set("options[timeend]", strconv.FormatInt(now.Add(upcomingWindow).Unix(), 10))

	var out struct {
		Events []struct {
			ID           int64  `json:"id"`
			Name         string `json:"name"`
			Description  string `json:"description"`
			EventType    string `json:"eventtype"`
			TimeStart    int64  `json:"timestart"`
			TimeDuration int64  `json:"timeduration"`
		} `json:"events"`
	}
	if err := c.call(ctx, fnCalendarEvents, p, &out); err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(out.Events))
	for _, e := range out.Events {
		events = append(events, Event{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			Type:        e.EventType,
			Start:       unix(e.TimeStart),
			Duration:    time.Duration(e.TimeDuration) * time.Second,
			URL:         c.base + "/calendar/view.php?view=day&time=" + strconv.FormatInt(e.TimeStart, 10),
		})
	}
	return events, nil
}

// CreateEvent adds a calendar event and returns its id.
func (c *Client) CreateEvent(ctx context.Context, e NewEvent) (int64, error) {
	p := url.Values{}
	p.Set("events[0][name]", e.Name)
	p.Set("events[0][eventtype]", e.Type)
	p.Set("events[0][timestart]", strconv.FormatInt(e.Start.Unix(), 10))
	p.Set("events[0][timeduration]", strconv.FormatInt(int64(e.Duration/time.Second), 10))
	p.Set("events[0][description]", "")
	p.Set("events[0][format]", "1")
	if e.CourseID > 0 {
		p.Set("events[0][courseid]", id(e.CourseID))
	}
	if e.GroupID > 0 {
		p.Set("events[0][groupid]", id(e.GroupID))
	}
	var out struct {
		Events []struct {
			ID int64 `json:"id"`
		} `json:"events"`
		Warnings []struct {
			Message string `json:"message"`
		} `json:"warnings"`
	}
	if err := c.call(ctx, fnCreateEvents, p, &out); err != nil {
		return 0, err
	}
	if len(out.Events) == 0 {
		if len(out.Warnings) > 0 {
			return 0, fmt.Errorf("platform: create event: %s", out.Warnings[0].Message)
		}
		return 0, errors.New("platform: create event: no event returned")
	}
	return out.Events[0].ID, nil
}

type wsCertificate struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	CourseID    int64  `json:"courseid"`
	TimeCreated int64  `json:"timecreated"`
	FileURL     string `json:"fileurl"`
}

func (c *Client) certificate(w wsCertificate) Certificate {
	return Certificate{
		Code:     w.Code,
		Name:     w.Name,
		CourseID: w.CourseID,
		Issued:   unix(w.TimeCreated),
		URL:      c.base + "/admin/tool/certificate/view.php?code=" + url.QueryEscape(w.Code),
		FileURL:  w.FileURL,
	}
}

// Certificates lists the user's issued certificates, newest first.
func (c *Client) Certificates(ctx context.Context, userID int64) ([]Certificate, error) {
	p := url.Values{}
	p.Set("userid", id(userID))
	var out []wsCertificate
	if err := c.call(ctx, fnUserCertificates, p, &out); err != nil {
		return nil, err
	}
	certs := make([]Certificate, 0, len(out))
	for _, w := range out {
		certs = append(certs, c.certificate(w))
	}
	return certs, nil
}

// Certificate looks an issue up by its verification code.
func (c *Client) Certificate(ctx context.Context, code string) (*Certificate, error) {
	p := url.Values{}
	p.Set("code", code)
	var out []wsCertificate
	if err := c.call(ctx, fnCertificateByCode, p, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	cert := c.certificate(out[0])
	return &cert, nil
}

// HasCapability checks a course-context capability for the user.
func (c *Client) HasCapability(ctx context.Context, userID, courseID int64, capability string) (bool, error) {
	p := url.Values{}
	p.Set("coursecapabilities[0][courseid]", id(courseID))
	p.Set("coursecapabilities[0][capabilities][0]", capability)
	var out []struct {
		Users []struct {
			ID int64 `json:"id"`
		} `json:"users"`
	}
	if err := c.call(ctx, fnUsersWithCapability, p, &out); err != nil {
		return false, err
	}
	for _, set := range out {
		for _, u := range set.Users {
			if u.ID == userID {
				return true, nil
			}
		}
	}
	return false, nil
}

// HasRole reports whether the user holds any of roles in the course.
func (c *Client) HasRole(ctx context.Context, userID, courseID int64, roles []string) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}
	people, err := c.enrolled(ctx, courseID, 0, false)
	if err != nil {
		return false, err
	}
	for _, w := range people {
		if w.ID != userID {
			continue
		}
		for _, r := range w.Roles {
			for _, want := range roles {
				if strings.EqualFold(r.ShortName, want) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

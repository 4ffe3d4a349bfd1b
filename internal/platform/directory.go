// Package platform describes the learning platform the bridge serves: its
// users, courses, groups, completion, calendar and certificates. The bridge
// only reads and writes these through Directory; Client implements it over
// the platform's REST web-service.
package platform

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("platform: not found")

// Capabilities checked by the bot.
const (
	CapViewParticipants   = "moodle/course:viewparticipants"
	CapAccessAllGroups    = "moodle/site:accessallgroups"
	CapManageEntries      = "moodle/calendar:manageentries"
	CapManageGroupEntries = "moodle/calendar:managegroupentries"
)

// Calendar event types, indexed by the wizard's numeric type.
var EventTypes = []string{"user", "course", "group"}

// User is a platform account.
type User struct {
	ID         int64
	FirstName  string
	LastName   string
	Email      string
	Lang       string
	Phone1     string
	Phone2     string
	LastAccess time.Time
	Custom     map[string]string
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Field returns a standard or custom profile field by short name.
func (u User) Field(name string) string {
	switch name {
	case "email":
		return u.Email
	case "phone1":
		return u.Phone1
	case "phone2":
		return u.Phone2
	case "lang":
		return u.Lang
	}
	return u.Custom[strings.TrimPrefix(name, "profile_field_")]
}

// UserUpdate lists the profile fields the bridge writes. Empty values are
// left untouched.
type UserUpdate struct {
	Lang   string
	Phone1 string
	Phone2 string
	Custom map[string]string
}

// Course is a course as listed in the catalogue or in a user's enrolments.
type Course struct {
	ID        int64
	FullName  string
	ShortName string
	Summary   string
	Visible   bool
	// Progress is the completion percentage of the enrolled user, when known.
	Progress float64
	URL      string
}

// Group is a course group.
type Group struct {
	ID          int64
	Name        string
	Description string
}

// Label is the text shown on group buttons.
func (g Group) Label() string {
	if g.Description == "" {
		return g.Name
	}
	return g.Name + " - " + g.Description
}

// Participant is an enrolled user with course-scoped details.
type Participant struct {
	User
	Roles            []string
	Groups           []int64
	Suspended        bool
	TimeStart        time.Time
	TimeEnd          time.Time
	LastCourseAccess time.Time
	Progress         float64
}

// HasRole reports whether the participant holds any of roles.
func (p Participant) HasRole(roles ...string) bool {
	for _, have := range p.Roles {
		for _, want := range roles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

// Activity completion states.
const (
	CompletionIncomplete = 0
	CompletionComplete   = 1
	CompletionPass       = 2
	CompletionFail       = 3
)

// ActivityState is the completion of one course module for one user.
type ActivityState struct {
	Name  string
	State int
}

// Event is a calendar entry.
type Event struct {
	ID          int64
	Name        string
	Description string
	Type        string
	Start       time.Time
	Duration    time.Duration
	URL         string
}

// NewEvent is a calendar entry to create.
type NewEvent struct {
	Name     string
	Type     string
	CourseID int64
	GroupID  int64
	UserID   int64
	Start    time.Time
	Duration time.Duration
}

// Certificate is an issued certificate.
type Certificate struct {
	Code     string
	Name     string
	CourseID int64
	Issued   time.Time
	URL      string
	FileURL  string
}

// Directory is the narrow view of the platform the bridge depends on.
type Directory interface {
	User(ctx context.Context, id int64) (*User, error)
	UpdateUser(ctx context.Context, id int64, u UserUpdate) error

	// Courses is the visible site catalogue.
	Courses(ctx context.Context) ([]Course, error)
	// UserCourses lists the user's enrolments with progress.
	UserCourses(ctx context.Context, userID int64) ([]Course, error)
	// Groups lists course groups; a non-zero userID limits the list to that
	// user's groups.
	Groups(ctx context.Context, courseID, userID int64) ([]Group, error)
	// Participants lists enrolled users; groupID 0 means everyone and a
	// negative groupID means users outside every group.
	Participants(ctx context.Context, courseID, groupID int64) ([]Participant, error)

	Completion(ctx context.Context, courseID, userID int64) ([]ActivityState, error)
	CourseProgress(ctx context.Context, courseID, userID int64) (float64, error)

	UpcomingEvents(ctx context.Context, userID int64) ([]Event, error)
	CreateEvent(ctx context.Context, e NewEvent) (int64, error)

	Certificates(ctx context.Context, userID int64) ([]Certificate, error)
	Certificate(ctx context.Context, code string) (*Certificate, error)

	HasCapability(ctx context.Context, userID, courseID int64, capability string) (bool, error)
	HasRole(ctx context.Context, userID, courseID int64, roles []string) (bool, error)
}

// ErrUnavailable is returned by Unavailable.
var ErrUnavailable = errors.New("platform: directory not configured")

// Unavailable stands in for a Directory when no platform endpoint is
// configured. Every method fails with ErrUnavailable.
type Unavailable struct{}

var _ Directory = Unavailable{}

func (Unavailable) User(context.Context, int64) (*User, error) { return nil, ErrUnavailable }
func (Unavailable) UpdateUser(context.Context, int64, UserUpdate) error { return ErrUnavailable }
func (Unavailable) Courses(context.Context) ([]Course, error) { return nil, ErrUnavailable }
func (Unavailable) UserCourses(context.Context, int64) ([]Course, error) {
	return nil, ErrUnavailable
}
func (Unavailable) Groups(context.Context, int64, int64) ([]Group, error) {
	return nil, ErrUnavailable
}
func (Unavailable) Participants(context.Context, int64, int64) ([]Participant, error) {
	return nil, ErrUnavailable
}
func (Unavailable) Completion(context.Context, int64, int64) ([]ActivityState, error) {
	return nil, ErrUnavailable
}
func (Unavailable) CourseProgress(context.Context, int64, int64) (float64, error) {
	return 0, ErrUnavailable
}
func (Unavailable) UpcomingEvents(context.Context, int64) ([]Event, error) {
	return nil, ErrUnavailable
}
func (Unavailable) CreateEvent(context.Context, NewEvent) (int64, error) { return 0, ErrUnavailable }
func (Unavailable) Certificates(context.Context, int64) ([]Certificate, error) {
	return nil, ErrUnavailable
}
func (Unavailable) Certificate(context.Context, string) (*Certificate, error) {
	return nil, ErrUnavailable
}
func (Unavailable) HasCapability(context.Context, int64, int64, string) (bool, error) {
	return false, ErrUnavailable
}
func (Unavailable) HasRole(context.Context, int64, int64, []string) (bool, error) {
	return false, ErrUnavailable
}

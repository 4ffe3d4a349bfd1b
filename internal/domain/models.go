// Package domain defines the persistence models owned by the bridge: the
// per-chat dialogue state that resumes multi-step bot conversations, and the
// per-account preferences that hold chat bindings, pending link secrets,
// language and preferred-account selections. These types are mapped with GORM
// and shared across the repository and service layers.
package domain

import "time"

// Step tags the last conversational step recorded for a chat. The idle state
// is StepCommand; wizard steps name the input the bot is waiting for next.
type Step string

const (
	StepCommand     Step = "command"
	StepCallback    Step = "callback"
	StepType        Step = "type"
	StepCourse      Step = "course"
	StepGroup       Step = "group"
	StepGetGroup    Step = "getgroup"
	StepGetTime     Step = "get_time"
	StepGetDuration Step = "get_duration"
	StepGetName     Step = "get_name"
	StepGetText     Step = "get_text"
	StepAccept      Step = "accept"
	StepDone        Step = "done"
	StepCancel      Step = "cancel"
)

// DialogueState is the single persisted record per chat identity used to
// resume wizards across independent webhook invocations.
//
// Fields:
//   - ChatID: MAX user id of the conversation; unique.
//   - LastStep: step recorded by the previous invocation.
//   - LastMessageID: id of the last prompt the bot emitted (deleted on the
//     next wizard step).
//   - LastData: opaque continuation data, usually the callback payload prefix
//     that the next input is appended to.
//   - UpdatedAt: modification time, maintained by GORM.
type DialogueState struct {
	ID            uint      `json:"-"               gorm:"primaryKey;autoIncrement"`
	ChatID        int64     `json:"chat_id"         gorm:"not null;uniqueIndex:ux_dialogue_chat"`
	LastStep      Step      `json:"last_step"       gorm:"type:varchar(32);not null;default:'command'"`
	LastMessageID string    `json:"last_message_id" gorm:"type:varchar(128);not null;default:''"`
	LastData      string    `json:"last_data"       gorm:"type:text;not null;default:''"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for DialogueState.
func (DialogueState) TableName() string { return "dialogue_states" }

// Preference is a name/value pair attached to a platform account.
// (AccountID, Name) is unique; Value is indexed so bindings can be looked up
// by chat identity or pending secret.
type Preference struct {
	ID        uint      `json:"-"          gorm:"primaryKey;autoIncrement"`
	AccountID int64     `json:"account_id" gorm:"not null;uniqueIndex:ux_pref_account_name,priority:1"`
	Name      string    `json:"name"       gorm:"type:varchar(64);not null;uniqueIndex:ux_pref_account_name,priority:2;index:idx_pref_name_value,priority:1"`
	Value     string    `json:"value"      gorm:"type:varchar(255);not null;index:idx_pref_name_value,priority:2"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Preference.
func (Preference) TableName() string { return "preferences" }

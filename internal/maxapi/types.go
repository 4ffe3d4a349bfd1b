package maxapi

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Update types delivered by the provider.
const (
	UpdateMessageCreated  = "message_created"
	UpdateMessageCallback = "message_callback"
	UpdateBotStarted      = "bot_started"
)

// Text formats accepted by NewMessage.Format.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

// Button kinds.
const (
	ButtonCallback       = "callback"
	ButtonMessage        = "message"
	ButtonLink           = "link"
	ButtonRequestContact = "request_contact"
)

// User is a MAX account as seen by the bot.
type User struct {
	UserID    int64  `json:"user_id"`
	Name      string `json:"name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	IsBot     bool   `json:"is_bot,omitempty"`
}

// DisplayName prefers the full name and falls back to first name, then
// username.
func (u User) DisplayName() string {
	switch {
	case u.Name != "":
		return u.Name
	case u.FirstName != "":
		return strings.TrimSpace(u.FirstName + " " + u.LastName)
	default:
		return u.Username
	}
}

// Recipient identifies where a message landed.
type Recipient struct {
	ChatID   int64  `json:"chat_id,omitempty"`
	ChatType string `json:"chat_type,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
}

// Attachment is an inbound attachment; Payload is decoded lazily.
type Attachment struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ContactPayload is the payload of a shared contact card.
type ContactPayload struct {
	VCFInfo string `json:"vcf_info"`
	MaxInfo *User  `json:"max_info,omitempty"`
}

// MessageBody carries the content of a message.
type MessageBody struct {
	MID         string       `json:"mid"`
	Seq         int64        `json:"seq,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Message is a message as returned by the provider or delivered in updates.
type Message struct {
	Sender            *User           `json:"sender,omitempty"`
	Recipient         Recipient       `json:"recipient"`
	Timestamp         int64           `json:"timestamp,omitempty"`
	Body              MessageBody     `json:"body"`
	SuccessfulPayment json.RawMessage `json:"successful_payment,omitempty"`
}

// Contact returns the first contact card attached to the message.
func (m *Message) Contact() (*ContactPayload, bool) {
	if m == nil {
		return nil, false
	}
	for _, a := range m.Body.Attachments {
		if a.Type != "contact" && !strings.Contains(string(a.Payload), "vcf_info") {
			continue
		}
		var p ContactPayload
		if err := json.Unmarshal(a.Payload, &p); err == nil && p.VCFInfo != "" {
			return &p, true
		}
	}
	return nil, false
}

var (
	vcfFold   = regexp.MustCompile("\r?\n[ \t]")
	nonDigits = regexp.MustCompile(`\D+`)
)

// Phone extracts the digits of the cell number from the vCard, or "".
func (p *ContactPayload) Phone() string {
	card := vcfFold.ReplaceAllString(p.VCFInfo, "")
	i := strings.Index(strings.ToLower(card), "cell:")
	if i < 0 {
		return ""
	}
	line := card[i:]
	if j := strings.IndexAny(line, "\r\n"); j >= 0 {
		line = line[:j]
	}
	return nonDigits.ReplaceAllString(line, "")
}

// Callback is the press of an inline callback button.
type Callback struct {
	CallbackID string `json:"callback_id"`
	Payload    string `json:"payload"`
	User       User   `json:"user"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// Update is a single webhook delivery or an element of GET /updates.
// Which fields are set depends on UpdateType; the bot start event carries
// User, UserID and Payload at the top level.
type Update struct {
	UpdateType string    `json:"update_type,omitempty"`
	Timestamp  int64     `json:"timestamp,omitempty"`
	Message    *Message  `json:"message,omitempty"`
	Callback   *Callback `json:"callback,omitempty"`
	User       *User     `json:"user,omitempty"`
	UserID     int64     `json:"user_id,omitempty"`
	ChatID     int64     `json:"chat_id,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	UserLocale string    `json:"user_locale,omitempty"`
}

// UpdateList is the body of GET /updates.
type UpdateList struct {
	Updates []Update `json:"updates"`
	Marker  *int64   `json:"marker,omitempty"`
}

// Button is one inline keyboard button.
type Button struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Payload string `json:"payload,omitempty"`
	URL     string `json:"url,omitempty"`
}

// CallbackButton returns a button that posts payload back as a callback.
func CallbackButton(text, payload string) Button {
	return Button{Type: ButtonCallback, Text: text, Payload: payload}
}

// MessageButton returns a button that sends its own text as a message.
func MessageButton(text string) Button {
	return Button{Type: ButtonMessage, Text: text}
}

// LinkButton opens url.
func LinkButton(text, url string) Button {
	return Button{Type: ButtonLink, Text: text, URL: url}
}

// ContactButton asks the user to share their phone number.
func ContactButton(text string) Button {
	return Button{Type: ButtonRequestContact, Text: text}
}

// Keyboard is the payload of an inline_keyboard attachment.
type Keyboard struct {
	Buttons [][]Button `json:"buttons"`
}

// OutAttachment is an attachment sent with a NewMessage.
type OutAttachment struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// InlineKeyboard builds an inline keyboard attachment, one row per argument.
func InlineKeyboard(rows ...[]Button) OutAttachment {
	return OutAttachment{Type: "inline_keyboard", Payload: Keyboard{Buttons: rows}}
}

// Column lays buttons out one per row.
func Column(buttons ...Button) OutAttachment {
	rows := make([][]Button, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []Button{b})
	}
	return InlineKeyboard(rows...)
}

// NewMessage is the body of POST/PUT messages.
type NewMessage struct {
	Text        string          `json:"text"`
	Format      string          `json:"format,omitempty"`
	Attachments []OutAttachment `json:"attachments,omitempty"`
	Notify      *bool           `json:"notify,omitempty"`
}

// SentMessage is the body returned by POST messages.
type SentMessage struct {
	Message Message `json:"message"`
}

// Confirmed reports whether the provider confirmed delivery to a user.
func (s SentMessage) Confirmed() bool { return s.Message.Recipient.UserID != 0 }

// MID returns the id of the created message.
func (s SentMessage) MID() string { return s.Message.Body.MID }

// SimpleResult is the body of calls that only acknowledge.
type SimpleResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Chat describes a group chat or channel.
type Chat struct {
	ChatID      int64  `json:"chat_id"`
	Type        string `json:"type"`
	Status      string `json:"status,omitempty"`
	Title       string `json:"title,omitempty"`
	Link        string `json:"link,omitempty"`
	Description string `json:"description,omitempty"`
}

// BotInfo is the body of GET me.
type BotInfo struct {
	User
	Description string `json:"description,omitempty"`
}

// Subscription registers a webhook.
type Subscription struct {
	URL         string   `json:"url"`
	Secret      string   `json:"secret,omitempty"`
	UpdateTypes []string `json:"update_types,omitempty"`
}

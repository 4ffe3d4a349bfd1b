package bot

import "github.com/tbourn/max-bridge/internal/maxapi"

// EventKind classifies an inbound update.
type EventKind int

const (
	EventUnknown EventKind = iota
	// EventLink: the user opened the bot through a deep link carrying a
	// link secret.
	EventLink
	EventMessage
	EventContact
	EventCallback
	EventPayment
)

func (k EventKind) String() string {
	switch k {
	case EventLink:
		return "link"
	case EventMessage:
		return "message"
	case EventContact:
		return "contact"
	case EventCallback:
		return "callback"
	case EventPayment:
		return "payment"
	}
	return "unknown"
}

// Event is an update reduced to what the dispatcher needs.
type Event struct {
	Kind   EventKind
	ChatID int64
	Sender *maxapi.User

	// Text of a typed message.
	Text string
	// Payload of a deep link or callback button.
	Payload    string
	CallbackID string
	// MessageID is the incoming message, or for callbacks the bot message
	// that carried the pressed button.
	MessageID string
	// MessageText is the body of that bot message (callbacks only).
	MessageText string

	Contact *maxapi.ContactPayload
	Locale  string
}

// Classify turns a raw update into an Event.
func Classify(u *maxapi.Update) Event {
	if u == nil {
		return Event{}
	}
	switch {
	case u.User != nil && u.Payload != "" && (u.UpdateType == maxapi.UpdateBotStarted || u.UserID != 0):
		chat := u.User.UserID
		if chat == 0 {
			chat = u.UserID
		}
		return Event{Kind: EventLink, ChatID: chat, Sender: u.User, Payload: u.Payload, Locale: u.UserLocale}

	case u.Callback != nil && u.Callback.Payload != "":
		ev := Event{
			Kind:       EventCallback,
			ChatID:     u.Callback.User.UserID,
			Sender:     &u.Callback.User,
			Payload:    u.Callback.Payload,
			CallbackID: u.Callback.CallbackID,
			Locale:     u.UserLocale,
		}
		if u.Message != nil {
			ev.MessageID = u.Message.Body.MID
			ev.MessageText = u.Message.Body.Text
		}
		return ev

	case u.Message != nil && u.Callback == nil && u.Message.Sender != nil:
		m := u.Message
		ev := Event{
			Kind:      EventMessage,
			ChatID:    m.Sender.UserID,
			Sender:    m.Sender,
			Text:      m.Body.Text,
			MessageID: m.Body.MID,
			Locale:    u.UserLocale,
		}
		if len(m.SuccessfulPayment) > 0 && string(m.SuccessfulPayment) != "null" {
			ev.Kind = EventPayment
		} else if c, ok := m.Contact(); ok {
			ev.Kind = EventContact
			ev.Contact = c
		}
		return ev
	}
	return Event{}
}

// Package spool is the store-and-forward buffer for messages the bot API did
// not confirm. Entries are written once, listed oldest first, and claimed
// exclusively by a drainer before they are retried.
package spool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClaimed means another drainer holds the entry right now.
	ErrClaimed = errors.New("spool: entry is claimed")
	// ErrGone means the entry was completed before it could be claimed.
	ErrGone = errors.New("spool: entry no longer exists")
)

// Entry is one spooled message.
type Entry struct {
	ID        string
	ChatID    int64
	Text      string
	CreatedAt time.Time
}

// Valid reports whether the entry names a recipient.
func (e Entry) Valid() bool { return e.ChatID != 0 }

// Encode renders the entry body: the chat id, a newline, then the text.
func (e Entry) Encode() []byte {
	var b bytes.Buffer
	b.WriteString(strconv.FormatInt(e.ChatID, 10))
	b.WriteByte('\n')
	b.WriteString(e.Text)
	return b.Bytes()
}

// Decode parses a body written by Encode. A body whose first line is not a
// chat id yields an entry with ChatID 0.
func Decode(id string, body []byte) Entry {
	e := Entry{ID: id, CreatedAt: createdAt(id)}
	head, text, _ := strings.Cut(string(body), "\n")
	e.Text = text
	if chat, err := strconv.ParseInt(strings.TrimSpace(head), 10, 64); err == nil {
		e.ChatID = chat
	}
	return e
}

// NewID returns a unique entry id whose lexical order is creation order.
func NewID(now time.Time) string {
	return fmt.Sprintf("%019d.%s", now.UnixNano(), uuid.NewString())
}

func createdAt(id string) time.Time {
	head, _, _ := strings.Cut(id, ".")
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func validID(id string) bool {
	if id == "" || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return false
	}
	return !createdAt(id).IsZero()
}

// Claim is exclusive ownership of one entry. Exactly one of Complete or
// Release must be called.
type Claim interface {
	Entry() Entry
	// Complete deletes the entry and gives up the claim.
	Complete(ctx context.Context) error
	// Release gives up the claim and leaves the entry for a later run.
	Release(ctx context.Context) error
}

// Queue is a spool backend.
type Queue interface {
	Enqueue(ctx context.Context, chatID int64, text string) (string, error)
	// List returns entry ids oldest first.
	List(ctx context.Context) ([]string, error)
	// Claim takes the entry without blocking; ErrClaimed and ErrGone report
	// entries the caller should skip.
	Claim(ctx context.Context, id string) (Claim, error)
}

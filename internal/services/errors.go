// Package services defines the business logic of the bridge: account
// linking, notification delivery, and spool draining. This file centralizes
// service-level error values so that callers can check them with errors.Is
// and handlers can map them to HTTP results consistently.
package services

import (
	"errors"
	"fmt"
)

// Linking errors.
var (
	// ErrForbidden is returned when a caller acts on another account without
	// administrator rights.
	ErrForbidden = errors.New("operation on another account requires admin")

	// ErrLinkNotFound means no account holds the presented secret, or the
	// secret was already consumed.
	ErrLinkNotFound = errors.New("link secret not found")

	// ErrNoSession is returned in poll mode when the caller has no session
	// key to use as the link secret.
	ErrNoSession = errors.New("no session key to use as link secret")

	// ErrPollUnavailable is returned when pull-mode linking is attempted
	// without an update source or while webhook mode is on.
	ErrPollUnavailable = errors.New("poll linking is not available")
)

// Webhook errors.
var (
	// ErrNotConfigured is returned when the bot token is missing.
	ErrNotConfigured = errors.New("bot token is not configured")

	// ErrNoWebhookURL is returned when registration has no public URL.
	ErrNoWebhookURL = errors.New("webhook url is not configured")
)

// Delivery errors.
var (
	// ErrDeliveryFailed wraps a provider rejection or transport error on the
	// direct send path.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrEmptyMessage is returned for notifications with no text.
	ErrEmptyMessage = errors.New("message is empty")
)

// ExternalSenderError reports an external sender that failed validation
// before any process was started.
type ExternalSenderError struct {
	Path   string
	Reason string
}

func (e *ExternalSenderError) Error() string {
	return fmt.Sprintf("external sender %q rejected: %s", e.Path, e.Reason)
}

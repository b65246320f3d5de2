// Package host defines the capabilities SendLater consumes from the messaging
// client it is attached to.
//
// The host surface is treated as unstable: every element may disappear and be
// replaced at any time, so callers re-resolve handles instead of caching them.
package host

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a host element cannot be resolved right now.
var ErrNotFound = errors.New("host element not found")

// View identifies a piece of UI that SendLater attaches to the host page.
type View string

const (
	// MenuView is the scheduling menu placed next to the send control.
	MenuView View = "sendlater-menu"
	// ModalView is the detail collector dialog.
	ModalView View = "sendlater-modal"
)

// NoticeKind classifies user-facing notices.
type NoticeKind string

const (
	NoticeConfirmation NoticeKind = "confirmation"
	NoticeFailure      NoticeKind = "failure"
	NoticeValidation   NoticeKind = "validation"
)

// Notice is a message shown to the user.
type Notice struct {
	Kind NoticeKind
	Text string
}

// Subscription is a handle to a change subscription.
type Subscription interface {
	Unsubscribe()
}

// SendControl is the element that triggers the host's native send.
type SendControl interface {
	Activate(ctx context.Context) error
}

// EntrySurface is the editable region holding the message draft.
type EntrySurface interface {
	Text() string
	Clear()
	// Subscribe registers fn to be called after every content change.
	Subscribe(fn func()) Subscription
}

// Page is the host page SendLater runs in.
type Page interface {
	SendControl() (SendControl, bool)
	EntrySurface() (EntrySurface, bool)
	// ConversationName returns the display name of the open conversation.
	ConversationName() (string, bool)
	// Attach places v in the page. Views tied to the send control are placed
	// next to anchor; anchor is nil for top-level views.
	Attach(v View, anchor SendControl) error
	Detach(v View)
	Attached(v View) bool
	Notify(n Notice)
}

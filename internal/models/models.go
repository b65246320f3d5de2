// Package models defines the core data structures for SendLater.
//
// It includes the scheduling intent captured from the composer, the contact
// candidates returned by the scheduling service, and the wire payloads shared
// between the flow and the scheduling client.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// UnknownRecipient is the display name used when the host exposes no
// conversation name. Scheduling still proceeds with this placeholder.
const UnknownRecipient = "Unknown"

// Validation and formatting constants.
const (
	// SendTimeLayout is the UTC ISO-8601 layout used for send_time on the wire
	SendTimeLayout = "2006-01-02T15:04:05.000Z"
	// DateLayout is the layout of the date component entered by the user
	DateLayout = "2006-01-02"
	// TimeLayout is the layout of the time component entered by the user
	TimeLayout = "15:04"
	// TimeLayoutSeconds is accepted for time inputs that carry seconds
	TimeLayoutSeconds = "15:04:05"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient  = errors.New("recipient name cannot be empty")
	ErrEmptyMessage    = errors.New("message body cannot be empty")
	ErrMissingSendTime = errors.New("send time is required")
	ErrInvalidDate     = errors.New("invalid date, expected YYYY-MM-DD")
	ErrInvalidTime     = errors.New("invalid time, expected HH:MM")
	ErrInvalidIntent   = errors.New("invalid intent kind")
)

// IntentKind identifies which menu entry the user picked.
type IntentKind string

const (
	// IntentNow sends the draft immediately through the host's send control.
	IntentNow IntentKind = "now"
	// IntentDefaultFuture schedules the draft for the next day at the default time.
	IntentDefaultFuture IntentKind = "default_future"
	// IntentCustom opens the detail collector.
	IntentCustom IntentKind = "custom"
)

// IntentKinds lists the intents in menu order.
var IntentKinds = []IntentKind{IntentNow, IntentDefaultFuture, IntentCustom}

// Label returns the menu label shown for the intent.
func (k IntentKind) Label() string {
	switch k {
	case IntentNow:
		return "Send now"
	case IntentDefaultFuture:
		return "Tomorrow 9am"
	case IntentCustom:
		return "Custom time"
	default:
		return string(k)
	}
}

// ParseIntentKind converts user input (case-insensitive) to an IntentKind.
// "tomorrow" is accepted as an alias for the default future intent.
func ParseIntentKind(s string) (IntentKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "now":
		return IntentNow, nil
	case "default_future", "tomorrow":
		return IntentDefaultFuture, nil
	case "custom":
		return IntentCustom, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidIntent, s)
	}
}

// AffordanceState is the visibility state of the scheduling menu.
type AffordanceState int

const (
	// AffordanceHidden means no menu exists in the page.
	AffordanceHidden AffordanceState = iota
	// AffordanceCollapsed means the menu toggle is visible but its options are not.
	AffordanceCollapsed
	// AffordanceExpanded means the menu options are visible.
	AffordanceExpanded
)

func (s AffordanceState) String() string {
	switch s {
	case AffordanceHidden:
		return "hidden"
	case AffordanceCollapsed:
		return "collapsed"
	case AffordanceExpanded:
		return "expanded"
	default:
		return fmt.Sprintf("AffordanceState(%d)", int(s))
	}
}

// ScheduleIntent is a message the user asked to send at a later instant.
type ScheduleIntent struct {
	RecipientName   string
	RecipientNumber string // optional; a chosen candidate or the display name
	MessageBody     string
	SendAt          time.Time
}

// Validate performs validation on a ScheduleIntent before submission.
func (i ScheduleIntent) Validate() error {
	if strings.TrimSpace(i.RecipientName) == "" {
		return ErrEmptyRecipient
	}
	if strings.TrimSpace(i.MessageBody) == "" {
		return ErrEmptyMessage
	}
	if i.SendAt.IsZero() {
		return ErrMissingSendTime
	}
	return nil
}

// Request converts the intent into the scheduling service payload.
func (i ScheduleIntent) Request() ScheduleRequest {
	return ScheduleRequest{
		Name:     i.RecipientName,
		Number:   i.RecipientNumber,
		Message:  i.MessageBody,
		SendTime: FormatSendTime(i.SendAt),
	}
}

// ScheduleRequest is the body of POST /api/schedule.
type ScheduleRequest struct {
	Name     string `json:"name"`
	Number   string `json:"number,omitempty"`
	Message  string `json:"message"`
	SendTime string `json:"send_time"`
}

// ContactsResponse is the body returned by GET /api/contacts.
type ContactsResponse struct {
	Numbers []string `json:"numbers"`
}

// ContactCandidates holds the addressable numbers known for a display name.
// Candidates are fetched fresh for every detail collection session.
type ContactCandidates struct {
	QueriedName string
	Numbers     []string
}

// SubmissionResult is the only structured response consumed from the
// scheduling service.
type SubmissionResult struct {
	Success bool `json:"success"`
}

// FormatSendTime renders t as a UTC ISO-8601 instant with millisecond precision.
func FormatSendTime(t time.Time) string {
	return t.UTC().Format(SendTimeLayout)
}

// CombineLocal combines a date (YYYY-MM-DD) and a time of day (HH:MM or
// HH:MM:SS) entered in loc into a single absolute instant. Wall clock times
// that fall into a daylight saving gap are normalized forward by time.Date.
func CombineLocal(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	clock = strings.TrimSpace(clock)
	layout := TimeLayout
	if strings.Count(clock, ":") == 2 {
		layout = TimeLayoutSeconds
	}
	c, err := time.Parse(layout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, clock)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), 0, loc), nil
}

// FormatLocal renders t for a human in loc.
func FormatLocal(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("Mon, 02 Jan 2006 at 15:04 MST")
}

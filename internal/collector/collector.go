// Package collector implements the detail collector: a modal session that
// gathers the recipient number, date and time for a custom schedule.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SendLater/internal/host"
	"github.com/BTreeMap/SendLater/internal/models"
	"github.com/google/uuid"
)

// DefaultLookupTimeout bounds the contact lookup issued when a session opens.
const DefaultLookupTimeout = 10 * time.Second

// Error variables for better error handling and testability
var (
	ErrMissingDateTime = errors.New("both a date and a time are required")
	ErrSessionClosed   = errors.New("detail collector session is closed")
	ErrSelectionLocked = errors.New("recipient selection is locked")
	ErrUnknownNumber   = errors.New("number is not one of the candidates")
	ErrSubmitting      = errors.New("submission already in progress")
	ErrNotAccepted     = errors.New("schedule was not accepted")
)

// Lookup resolves a display name to candidate numbers.
type Lookup interface {
	Contacts(ctx context.Context, name string) (models.ContactCandidates, error)
}

// SubmitFunc submits an intent and reports whether the service accepted it.
type SubmitFunc func(ctx context.Context, intent models.ScheduleIntent) bool

// Opts holds configuration options for the collector.
type Opts struct {
	Location      *time.Location
	LookupTimeout time.Duration
}

// Option defines a configuration option for the collector.
type Option func(*Opts)

// WithLocation sets the location date and time inputs are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) {
		o.Location = loc
	}
}

// WithLookupTimeout sets the contact lookup timeout.
func WithLookupTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.LookupTimeout = d
	}
}

// Collector opens at most one detail session at a time.
type Collector struct {
	mu      sync.Mutex
	page    host.Page
	lookup  Lookup
	submit  SubmitFunc
	cfg     Opts
	current *Session
}

// New creates a Collector.
func New(page host.Page, lookup Lookup, submit SubmitFunc, opts ...Option) *Collector {
	cfg := Opts{Location: time.Local, LookupTimeout: DefaultLookupTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Collector{page: page, lookup: lookup, submit: submit, cfg: cfg}
}

// Current returns the active session, or nil.
func (c *Collector) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Open starts a session for name and message and issues the contact lookup.
// If a session is already active it is returned with opened=false.
func (c *Collector) Open(name, message string) (s *Session, opened bool) {
	c.mu.Lock()
	if c.current != nil {
		existing := c.current
		c.mu.Unlock()
		slog.Debug("Collector.Open: session already active", "session", existing.ID)
		return existing, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.LookupTimeout)
	s = &Session{
		ID:        uuid.NewString(),
		collector: c,
		name:      name,
		message:   message,
		selection: Selection{Locked: true, Pending: true},
		active:    true,
		ready:     make(chan struct{}),
		cancel:    cancel,
	}
	c.current = s
	if err := c.page.Attach(host.ModalView, nil); err != nil {
		slog.Warn("Collector.Open: failed to attach modal", "session", s.ID, "error", err)
	}
	c.mu.Unlock()

	slog.Info("Collector.Open: detail session opened", "session", s.ID, "name", name)
	go s.resolve(ctx, c.lookup)
	return s, true
}

// CloseCurrent closes the active session, if any, recording reason.
func (c *Collector) CloseCurrent(reason string) {
	if s := c.Current(); s != nil {
		s.close(reason)
	}
}

func (c *Collector) release(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == s {
		c.current = nil
		c.page.Detach(host.ModalView)
	}
}

// Selection is the state of the recipient number control.
type Selection struct {
	Options []string
	Value   string // empty means nothing chosen
	Locked  bool
	Pending bool // contact lookup still in flight
}

// Session is one open detail collector dialog.
type Session struct {
	ID        string
	collector *Collector

	mu         sync.Mutex
	name       string
	message    string
	selection  Selection
	date       string
	clock      string
	active     bool
	submitting bool
	ready      chan struct{}
	readyOnce  sync.Once
	cancel     context.CancelFunc
}

// Name returns the recipient display name.
func (s *Session) Name() string { return s.name }

// Message returns the message body being scheduled.
func (s *Session) Message() string { return s.message }

// Ready is closed once the contact lookup has been applied or the session
// has closed.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Active reports whether the session is still open.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Selection returns a copy of the recipient selection.
func (s *Session) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := s.selection
	sel.Options = append([]string(nil), s.selection.Options...)
	return sel
}

func (s *Session) resolve(ctx context.Context, lookup Lookup) {
	candidates, err := lookup.Contacts(ctx, s.name)
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	// the dialog may have been dismissed while the lookup was in flight
	if !s.active {
		slog.Debug("Session.resolve: dropping lookup result for closed session", "session", s.ID)
		return
	}
	if err != nil {
		slog.Warn("Session.resolve: contact lookup failed, using display name", "session", s.ID, "name", s.name, "error", err)
		s.selection = lockedTo(s.name)
	} else {
		s.selection = selectionFor(s.name, candidates.Numbers)
	}
	slog.Debug("Session.resolve: selection ready", "session", s.ID, "options", len(s.selection.Options), "locked", s.selection.Locked)
	s.markReady()
}

func selectionFor(name string, numbers []string) Selection {
	switch len(numbers) {
	case 0:
		return lockedTo(name)
	case 1:
		return lockedTo(numbers[0])
	default:
		return Selection{Options: append([]string(nil), numbers...)}
	}
}

func lockedTo(value string) Selection {
	return Selection{Options: []string{value}, Value: value, Locked: true}
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Choose selects one of the candidate numbers.
func (s *Session) Choose(number string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrSessionClosed
	}
	if s.selection.Locked {
		return ErrSelectionLocked
	}
	for _, opt := range s.selection.Options {
		if opt == number {
			s.selection.Value = number
			return nil
		}
	}
	return ErrUnknownNumber
}

// SetDate sets the date input (YYYY-MM-DD).
func (s *Session) SetDate(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.date = date
}

// SetTime sets the time input (HH:MM).
func (s *Session) SetTime(clock string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// Confirm validates the inputs and submits the intent. On validation failure
// a notice is shown and the session stays open. On a successful submission the
// session closes itself; on a failed one it stays open for retry or cancel.
func (s *Session) Confirm(ctx context.Context) error {
	page := s.collector.page

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.submitting {
		s.mu.Unlock()
		return ErrSubmitting
	}
	if s.date == "" || s.clock == "" {
		s.mu.Unlock()
		page.Notify(host.Notice{Kind: host.NoticeValidation, Text: "Please select both a date and a time."})
		return ErrMissingDateTime
	}
	at, err := models.CombineLocal(s.date, s.clock, s.collector.cfg.Location)
	if err != nil {
		s.mu.Unlock()
		page.Notify(host.Notice{Kind: host.NoticeValidation, Text: err.Error()})
		return err
	}
	intent := models.ScheduleIntent{
		RecipientName:   s.name,
		RecipientNumber: s.selection.Value,
		MessageBody:     s.message,
		SendAt:          at,
	}
	s.submitting = true
	s.mu.Unlock()

	ok := s.collector.submit(ctx, intent)

	s.mu.Lock()
	s.submitting = false
	s.mu.Unlock()
	if !ok {
		return ErrNotAccepted
	}
	s.close("submitted")
	return nil
}

// Cancel dismisses the session without submitting.
func (s *Session) Cancel() {
	s.close("cancelled")
}

func (s *Session) close(reason string) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.cancel()
	s.mu.Unlock()

	s.markReady()
	s.collector.release(s)
	slog.Info("Session.close: detail session closed", "session", s.ID, "reason", reason)
}

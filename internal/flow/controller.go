// Package flow wires the scheduling flow together: it waits for the host
// anchors, keeps the menu in sync with the draft, and routes the selected
// intent to an immediate send, a default-time schedule, or the detail
// collector.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SendLater/internal/affordance"
	"github.com/BTreeMap/SendLater/internal/collector"
	"github.com/BTreeMap/SendLater/internal/host"
	"github.com/BTreeMap/SendLater/internal/models"
	"github.com/BTreeMap/SendLater/internal/scheduler"
	"github.com/BTreeMap/SendLater/internal/watch"
)

// Error variables for better error handling and testability
var (
	ErrEmptyDraft  = errors.New("draft is empty")
	ErrNotStarted  = errors.New("scheduling flow not started")
	ErrSendMissing = errors.New("send control is not available")
)

// SchedulingService is the scheduling backend used by the flow.
type SchedulingService interface {
	collector.Lookup
	Schedule(ctx context.Context, intent models.ScheduleIntent) (models.SubmissionResult, error)
}

// Opts holds configuration options for the Controller.
type Opts struct {
	PollInterval   time.Duration
	InsertInterval time.Duration
	InsertAttempts uint
	Location       *time.Location
	Now            func() time.Time
	DefaultCron    string
	LookupTimeout  time.Duration
	OnMenuChange   func(models.AffordanceState)
	OnInsertFailed func(error)
}

// Option defines a configuration option for the Controller.
type Option func(*Opts)

// WithPollInterval sets the anchor polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.PollInterval = d }
}

// WithInsertRetry sets the menu insertion retry budget.
func WithInsertRetry(interval time.Duration, attempts uint) Option {
	return func(o *Opts) {
		o.InsertInterval = interval
		o.InsertAttempts = attempts
	}
}

// WithLocation sets the location used for user-entered and displayed times.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithClock overrides the current time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithDefaultCron sets the schedule used by the default future intent.
func WithDefaultCron(expr string) Option {
	return func(o *Opts) { o.DefaultCron = expr }
}

// WithLookupTimeout bounds the contact lookup of each detail session.
func WithLookupTimeout(d time.Duration) Option {
	return func(o *Opts) { o.LookupTimeout = d }
}

// WithMenuListener registers fn to observe menu state changes.
func WithMenuListener(fn func(models.AffordanceState)) Option {
	return func(o *Opts) { o.OnMenuChange = fn }
}

// WithInsertFailedHook registers fn to be told when menu insertion is abandoned.
func WithInsertFailedHook(fn func(error)) Option {
	return func(o *Opts) { o.OnInsertFailed = fn }
}

// Controller runs the scheduling flow on a host page.
type Controller struct {
	page      host.Page
	service   SchedulingService
	cfg       Opts
	defaults  *scheduler.Scheduler
	menu      *affordance.Menu
	presence  *watch.Presence
	collector *collector.Collector

	mu      sync.Mutex
	anchors Anchors
	started bool
}

// NewController creates a Controller for page backed by service.
func NewController(page host.Page, service SchedulingService, opts ...Option) (*Controller, error) {
	cfg := Opts{
		PollInterval:   DefaultPollInterval,
		InsertInterval: affordance.DefaultInsertInterval,
		InsertAttempts: affordance.DefaultInsertAttempts,
		Location:       time.Local,
		Now:            time.Now,
		DefaultCron:    scheduler.DefaultCron,
		LookupTimeout:  collector.DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	defaults, err := scheduler.NewScheduler(cfg.DefaultCron)
	if err != nil {
		return nil, err
	}

	c := &Controller{page: page, service: service, cfg: cfg, defaults: defaults}
	menuOpts := []affordance.Option{
		affordance.WithInsertRetry(cfg.InsertInterval, cfg.InsertAttempts),
		affordance.WithInsertFailedHook(c.insertFailed),
	}
	if cfg.OnMenuChange != nil {
		menuOpts = append(menuOpts, affordance.WithStateListener(cfg.OnMenuChange))
	}
	c.menu = affordance.NewMenu(page, c.handleIntent, menuOpts...)
	c.presence = watch.NewPresence(c.menu)
	c.collector = collector.New(page, service, c.submit,
		collector.WithLocation(cfg.Location), collector.WithLookupTimeout(cfg.LookupTimeout))

	slog.Debug("NewController: options set", "poll_interval", cfg.PollInterval, "insert_attempts", cfg.InsertAttempts,
		"insert_interval", cfg.InsertInterval, "default_cron", defaults.Expr(), "lookup_timeout", cfg.LookupTimeout, "location", cfg.Location.String())
	return c, nil
}

// Start waits for the host anchors and installs the draft watcher. It blocks
// until the anchors are found or ctx is cancelled.
func (c *Controller) Start(ctx context.Context) error {
	anchors, err := Locate(ctx, c.page, c.cfg.PollInterval)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.anchors = anchors
	c.started = true
	c.mu.Unlock()

	c.presence.Watch(anchors.Entry)
	return nil
}

// Relocate re-acquires the anchors after the host replaced them (for example
// when the open conversation changes) and moves the watcher to the new entry
// surface. The previous watcher is released first.
func (c *Controller) Relocate(ctx context.Context) error {
	c.presence.Stop()
	c.menu.Destroy()
	return c.Start(ctx)
}

// Stop releases the watcher and removes the menu. An open detail session is
// left for its owner to close.
func (c *Controller) Stop() {
	c.presence.Stop()
	c.menu.Destroy()
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
	slog.Debug("Controller.Stop: flow stopped")
}

// Menu returns the scheduling menu.
func (c *Controller) Menu() *affordance.Menu {
	return c.menu
}

// Session returns the active detail collector session, or nil.
func (c *Controller) Session() *collector.Session {
	return c.collector.Current()
}

// Toggle flips the menu.
func (c *Controller) Toggle() (models.AffordanceState, error) {
	return c.menu.Toggle()
}

// Select dispatches an intent through the menu.
func (c *Controller) Select(ctx context.Context, kind models.IntentKind) error {
	return c.menu.Select(ctx, kind)
}

func (c *Controller) insertFailed(err error) {
	slog.Error("Controller.insertFailed: scheduling menu unavailable", "error", err)
	if c.cfg.OnInsertFailed != nil {
		c.cfg.OnInsertFailed(err)
	}
}

// entry returns the current entry surface, re-resolving it from the page and
// falling back to the one found at start.
func (c *Controller) entry() (host.EntrySurface, error) {
	if e, ok := c.page.EntrySurface(); ok {
		return e, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil, ErrNotStarted
	}
	return c.anchors.Entry, nil
}

// recipientName resolves the open conversation's display name.
func (c *Controller) recipientName() string {
	if name, ok := c.page.ConversationName(); ok && strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name)
	}
	slog.Debug("Controller.recipientName: no conversation name, using placeholder")
	return models.UnknownRecipient
}

func (c *Controller) handleIntent(ctx context.Context, kind models.IntentKind) error {
	entry, err := c.entry()
	if err != nil {
		return err
	}
	message := strings.TrimSpace(entry.Text())
	if message == "" {
		return ErrEmptyDraft
	}

	switch kind {
	case models.IntentNow:
		return c.sendNow(ctx, entry)
	case models.IntentDefaultFuture:
		return c.scheduleDefault(ctx, message)
	case models.IntentCustom:
		s, opened := c.collector.Open(c.recipientName(), message)
		if !opened {
			slog.Debug("Controller.handleIntent: detail session already open", "session", s.ID)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", models.ErrInvalidIntent, kind)
	}
}

func (c *Controller) sendNow(ctx context.Context, entry host.EntrySurface) error {
	// the send control may have been replaced since the anchors were found
	send, ok := c.page.SendControl()
	if !ok {
		slog.Error("Controller.sendNow: send control disappeared")
		c.page.Notify(host.Notice{Kind: host.NoticeFailure, Text: "Could not send: the send button is not available."})
		return ErrSendMissing
	}
	if err := send.Activate(ctx); err != nil {
		slog.Error("Controller.sendNow: send failed", "error", err)
		c.page.Notify(host.Notice{Kind: host.NoticeFailure, Text: "Could not send the message."})
		return fmt.Errorf("failed to activate send control: %w", err)
	}
	entry.Clear()
	slog.Info("Controller.sendNow: message sent")
	return nil
}

func (c *Controller) scheduleDefault(ctx context.Context, message string) error {
	at := c.defaults.NextDay(c.cfg.Now().In(c.cfg.Location))
	intent := models.ScheduleIntent{
		RecipientName: c.recipientName(),
		MessageBody:   message,
		SendAt:        at,
	}
	c.submit(ctx, intent)
	return nil
}

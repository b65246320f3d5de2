// Package affordance implements the scheduling menu shown next to the host's
// send control while the draft holds text.
package affordance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SendLater/internal/host"
	"github.com/BTreeMap/SendLater/internal/models"
	"github.com/BTreeMap/SendLater/internal/retry"
)

// Constants for menu insertion
const (
	// DefaultInsertAttempts is how many times insertion is tried before giving up
	DefaultInsertAttempts = 5
	// DefaultInsertInterval is the delay between insertion attempts
	DefaultInsertInterval = 500 * time.Millisecond
)

var (
	// ErrNotShown is returned when the menu is used while it is not in the page.
	ErrNotShown = errors.New("scheduling menu is not shown")

	errSuperseded = errors.New("menu insertion superseded")
)

// Handler is invoked with the intent the user selected.
type Handler func(ctx context.Context, kind models.IntentKind) error

// Opts holds configuration options for the menu.
type Opts struct {
	InsertAttempts uint
	InsertInterval time.Duration
	OnInsertFailed func(error)
	OnChange       func(models.AffordanceState)
}

// Option defines a configuration option for the menu.
type Option func(*Opts)

// WithInsertRetry sets the insertion retry budget.
func WithInsertRetry(interval time.Duration, attempts uint) Option {
	return func(o *Opts) {
		o.InsertInterval = interval
		o.InsertAttempts = attempts
	}
}

// WithInsertFailedHook registers fn to be called when insertion is abandoned.
func WithInsertFailedHook(fn func(error)) Option {
	return func(o *Opts) {
		o.OnInsertFailed = fn
	}
}

// WithStateListener registers fn to be called on every state change.
func WithStateListener(fn func(models.AffordanceState)) Option {
	return func(o *Opts) {
		o.OnChange = fn
	}
}

// Menu is the scheduling affordance. It satisfies watch.Target.
type Menu struct {
	mu      sync.Mutex
	page    host.Page
	handler Handler
	cfg     Opts

	state   models.AffordanceState
	mounted bool
	gen     uint64
	cancel  context.CancelFunc
}

// NewMenu creates a hidden menu for page. handler receives selected intents.
func NewMenu(page host.Page, handler Handler, opts ...Option) *Menu {
	cfg := Opts{
		InsertAttempts: DefaultInsertAttempts,
		InsertInterval: DefaultInsertInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.InsertAttempts == 0 {
		cfg.InsertAttempts = DefaultInsertAttempts
	}
	slog.Debug("NewMenu: options set", "insert_attempts", cfg.InsertAttempts, "insert_interval", cfg.InsertInterval)
	return &Menu{page: page, handler: handler, cfg: cfg}
}

// State returns the current affordance state.
func (m *Menu) State() models.AffordanceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Mounted reports whether the menu has been placed in the page.
func (m *Menu) Mounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// Exists reports whether the menu is shown or being inserted.
func (m *Menu) Exists() bool {
	return m.State() != models.AffordanceHidden
}

// Create shows the menu in the collapsed state and inserts it next to the send
// control in the background. It is a no-op if the menu already exists.
func (m *Menu) Create() {
	m.mu.Lock()
	if m.state != models.AffordanceHidden {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	m.state = models.AffordanceCollapsed
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	m.emit(models.AffordanceCollapsed)
	go m.insert(ctx, gen)
}

func (m *Menu) insert(ctx context.Context, gen uint64) {
	policy := retry.Bounded("menu-insert", m.cfg.InsertInterval, m.cfg.InsertAttempts)
	_, err := retry.Until(ctx, policy, func() (struct{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.gen {
			return struct{}{}, errSuperseded
		}
		if m.page.Attached(host.MenuView) {
			m.mounted = true
			return struct{}{}, nil
		}
		// the host may have replaced the send control since the last attempt
		anchor, ok := m.page.SendControl()
		if !ok {
			return struct{}{}, host.ErrNotFound
		}
		if err := m.page.Attach(host.MenuView, anchor); err != nil {
			return struct{}{}, err
		}
		m.mounted = true
		return struct{}{}, nil
	})
	if err == nil {
		slog.Debug("Menu.insert: menu inserted", "generation", gen)
		return
	}
	if ctx.Err() != nil {
		slog.Debug("Menu.insert: insertion cancelled", "generation", gen)
		return
	}

	slog.Error("Menu.insert: giving up on menu insertion", "attempts", m.cfg.InsertAttempts, "error", err)
	m.mu.Lock()
	abandoned := gen == m.gen
	if abandoned {
		m.state = models.AffordanceHidden
		m.mounted = false
		m.cancel = nil
	}
	m.mu.Unlock()
	if abandoned {
		m.emit(models.AffordanceHidden)
	}
	if m.cfg.OnInsertFailed != nil {
		m.cfg.OnInsertFailed(err)
	}
}

// Destroy removes the menu from the page. It is a no-op if the menu is hidden.
func (m *Menu) Destroy() {
	m.mu.Lock()
	if m.state == models.AffordanceHidden {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.state = models.AffordanceHidden
	m.mounted = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.page.Detach(host.MenuView)
	m.mu.Unlock()

	m.emit(models.AffordanceHidden)
}

// Toggle flips the menu between collapsed and expanded.
func (m *Menu) Toggle() (models.AffordanceState, error) {
	m.mu.Lock()
	if m.state == models.AffordanceHidden || !m.mounted {
		m.mu.Unlock()
		return models.AffordanceHidden, ErrNotShown
	}
	if m.state == models.AffordanceExpanded {
		m.state = models.AffordanceCollapsed
	} else {
		m.state = models.AffordanceExpanded
	}
	state := m.state
	m.mu.Unlock()

	m.emit(state)
	return state, nil
}

// Select collapses the menu and dispatches kind to the handler.
func (m *Menu) Select(ctx context.Context, kind models.IntentKind) error {
	m.mu.Lock()
	if m.state == models.AffordanceHidden || !m.mounted {
		m.mu.Unlock()
		return ErrNotShown
	}
	changed := m.state != models.AffordanceCollapsed
	m.state = models.AffordanceCollapsed
	m.mu.Unlock()

	if changed {
		m.emit(models.AffordanceCollapsed)
	}
	slog.Debug("Menu.Select: intent selected", "intent", kind)
	// the handler may clear the draft, which re-enters Destroy
	return m.handler(ctx, kind)
}

func (m *Menu) emit(state models.AffordanceState) {
	if m.cfg.OnChange != nil {
		m.cfg.OnChange(state)
	}
}

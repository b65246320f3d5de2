// Package console implements the host page for the terminal composer.
//
// The entry surface is an in-memory buffer fed by the REPL, the send control
// delivers the buffer to the open chat through a Sender, and notices and menu
// changes are printed to the terminal.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SendLater/internal/host"
	"github.com/BTreeMap/SendLater/internal/models"
)

// DefaultNameTimeout bounds a display name lookup on chat switch.
const DefaultNameTimeout = 5 * time.Second

// Error variables for better error handling and testability
var (
	ErrNoChat      = errors.New("no chat is open")
	ErrEmptyDraft  = errors.New("nothing to send")
	ErrStaleAnchor = errors.New("anchor no longer in the page")
)

// Sender delivers a message to a phone number.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Directory resolves a phone number to a display name.
type Directory interface {
	DisplayName(ctx context.Context, number string) (string, bool)
}

// Opts holds configuration options for the Page.
type Opts struct {
	Out         io.Writer
	Directory   Directory
	NameTimeout time.Duration
}

// Option defines a configuration option for the Page.
type Option func(*Opts)

// WithOutput sets where notices and menus are printed.
func WithOutput(w io.Writer) Option {
	return func(o *Opts) { o.Out = w }
}

// WithDirectory sets the display name source for chats.
func WithDirectory(d Directory) Option {
	return func(o *Opts) { o.Directory = d }
}

// Page is a terminal composer implementing host.Page.
type Page struct {
	sender Sender
	cfg    Opts

	outMu sync.Mutex

	mu    sync.Mutex
	chat  string
	name  string
	entry *host.Buffer
	send  *sendControl
	views map[host.View]host.SendControl
}

// NewPage creates a Page that sends through sender. No chat is open until
// SetChat is called.
func NewPage(sender Sender, opts ...Option) *Page {
	cfg := Opts{Out: os.Stdout, NameTimeout: DefaultNameTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Page{sender: sender, cfg: cfg, views: make(map[host.View]host.SendControl)}
}

// SetChat opens the chat with number. The entry surface and send control are
// replaced, so anything watching the previous ones must re-locate them.
func (p *Page) SetChat(ctx context.Context, number string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return ErrNoChat
	}
	name := p.lookupName(ctx, number)

	p.mu.Lock()
	old := p.send
	p.chat = number
	p.name = name
	p.entry = host.NewBuffer()
	p.send = &sendControl{page: p, chat: number, entry: p.entry}
	for v, anchor := range p.views {
		if anchor != nil && anchor == host.SendControl(old) {
			delete(p.views, v)
		}
	}
	p.mu.Unlock()

	slog.Info("Page.SetChat: chat opened", "chat", number, "name", name)
	return nil
}

func (p *Page) lookupName(ctx context.Context, number string) string {
	if p.cfg.Directory == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.NameTimeout)
	defer cancel()
	name, ok := p.cfg.Directory.DisplayName(ctx, number)
	if !ok {
		slog.Debug("Page.lookupName: no display name", "chat", number)
		return ""
	}
	return name
}

// Chat returns the open chat's number.
func (p *Page) Chat() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chat
}

// Entry returns the draft buffer of the open chat, or nil.
func (p *Page) Entry() *host.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entry
}

func (p *Page) SendControl() (host.SendControl, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.send == nil {
		return nil, false
	}
	return p.send, true
}

func (p *Page) EntrySurface() (host.EntrySurface, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entry == nil {
		return nil, false
	}
	return p.entry, true
}

// ConversationName returns the contact name of the open chat, or its number
// when the directory does not know it.
func (p *Page) ConversationName() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.chat == "":
		return "", false
	case p.name != "":
		return p.name, true
	default:
		return p.chat, true
	}
}

func (p *Page) Attach(v host.View, anchor host.SendControl) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if anchor != nil && (p.send == nil || anchor != host.SendControl(p.send)) {
		return ErrStaleAnchor
	}
	p.views[v] = anchor
	return nil
}

func (p *Page) Detach(v host.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.views, v)
}

func (p *Page) Attached(v host.View) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.views[v]
	return ok
}

// Notify prints n.
func (p *Page) Notify(n host.Notice) {
	var mark string
	switch n.Kind {
	case host.NoticeConfirmation:
		mark = "✓"
	case host.NoticeValidation:
		mark = "!"
	default:
		mark = "✗"
	}
	p.Printf("%s %s\n", mark, n.Text)
}

// ShowMenu prints the menu for state. Hidden prints nothing.
func (p *Page) ShowMenu(state models.AffordanceState) {
	if text := MenuText(state); text != "" {
		p.Printf("%s\n", text)
	}
}

// Printf writes to the page output.
func (p *Page) Printf(format string, args ...any) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	fmt.Fprintf(p.cfg.Out, format, args...)
}

// MenuText renders the scheduling menu in the given state.
func MenuText(state models.AffordanceState) string {
	switch state {
	case models.AffordanceCollapsed:
		return "[schedule: /menu]"
	case models.AffordanceExpanded:
		var b strings.Builder
		b.WriteString("schedule:")
		for _, kind := range models.IntentKinds {
			fmt.Fprintf(&b, "\n  /%-9s %s", command(kind), kind.Label())
		}
		return b.String()
	default:
		return ""
	}
}

func command(kind models.IntentKind) string {
	if kind == models.IntentDefaultFuture {
		return "tomorrow"
	}
	return string(kind)
}

type sendControl struct {
	page  *Page
	chat  string
	entry *host.Buffer
}

// Activate sends the draft of the chat this control belongs to.
func (s *sendControl) Activate(ctx context.Context) error {
	body := s.entry.Text()
	if strings.TrimSpace(body) == "" {
		return ErrEmptyDraft
	}
	if err := s.page.sender.SendMessage(ctx, s.chat, body); err != nil {
		return err
	}
	slog.Debug("sendControl.Activate: draft sent", "chat", s.chat, "body_length", len(body))
	return nil
}

// DryRun is a Sender that prints messages instead of delivering them.
type DryRun struct {
	Out io.Writer
}

func (d DryRun) SendMessage(ctx context.Context, to string, body string) error {
	w := d.Out
	if w == nil {
		w = os.Stdout
	}
	_, err := fmt.Fprintf(w, "[dry-run] to %s: %s\n", to, body)
	return err
}

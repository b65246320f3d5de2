package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/SendLater/internal/affordance"
	"github.com/BTreeMap/SendLater/internal/console"
	"github.com/BTreeMap/SendLater/internal/flow"
	"github.com/BTreeMap/SendLater/internal/lockfile"
	"github.com/BTreeMap/SendLater/internal/models"
	"github.com/BTreeMap/SendLater/internal/scheduling"
	"github.com/chzyer/readline"
)

const helpText = `Type a message to set the draft for the open chat.
  /chat <number>  open a chat
  /menu           show or hide the scheduling options
  /now            send the draft now
  /tomorrow       schedule the draft for tomorrow
  /custom         choose a number, date and time
  /clear          discard the draft
  /quit           exit`

// historyPath returns the readline history file in the user's home
// directory, or "" (no history) when the home directory is unknown.
func historyPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		slog.Warn("historyPath: home directory unavailable, history disabled", "error", err)
		return ""
	}
	return filepath.Join(homeDir, DefaultHistoryFileName)
}

// runInteractive runs the terminal composer until the user quits or ctx ends.
func runInteractive(ctx context.Context, flags Flags) error {
	if strings.EqualFold(*flags.backend, BackendWhatsApp) {
		lock, err := lockfile.AcquireLock(*flags.stateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyPath(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "/quit",
		HistorySearchFold: true,
		UniqueEditLine:    true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	b, err := newBackend(ctx, flags, rl.Stdout())
	if err != nil {
		return err
	}
	defer b.close()

	page := console.NewPage(b.sender, console.WithOutput(rl.Stdout()), console.WithDirectory(b.directory))
	client, err := scheduling.NewClient(buildSchedulingOptions(flags)...)
	if err != nil {
		return err
	}
	opts := append(buildFlowOptions(flags), flow.WithMenuListener(page.ShowMenu))
	ctrl, err := flow.NewController(page, client, opts...)
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	r := newREPL(ctrl, page, newPromptModal(rl.Stdout()), rl.Stdout())
	if *flags.chat != "" {
		if err := r.openChat(ctx, *flags.chat); err != nil {
			return err
		}
	}
	fmt.Fprintln(rl.Stdout(), helpText)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if r.handle(ctx, line) {
			return nil
		}
	}
}

// repl maps composer input lines to flow operations.
type repl struct {
	ctrl    *flow.Controller
	page    *console.Page
	modal   Modal
	out     io.Writer
	started bool
}

func newREPL(ctrl *flow.Controller, page *console.Page, modal Modal, out io.Writer) *repl {
	return &repl{ctrl: ctrl, page: page, modal: modal, out: out}
}

// handle processes one input line and reports whether the user asked to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.setDraft(line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/chat":
		if err := r.openChat(ctx, arg); err != nil {
			fmt.Fprintf(r.out, "Could not open chat: %v\n", err)
		}
	case "/clear":
		if entry := r.page.Entry(); entry != nil {
			entry.Clear()
		}
	case "/menu":
		if _, err := r.ctrl.Toggle(); errors.Is(err, affordance.ErrNotShown) {
			fmt.Fprintln(r.out, "Type a message first.")
		}
	case "/now", "/tomorrow", "/custom":
		kind, _ := models.ParseIntentKind(strings.TrimPrefix(cmd, "/"))
		r.selectIntent(ctx, kind)
	default:
		fmt.Fprintf(r.out, "Unknown command %s (try /help)\n", cmd)
	}
	return false
}

func (r *repl) setDraft(text string) {
	entry := r.page.Entry()
	if entry == nil {
		fmt.Fprintln(r.out, "Open a chat first with /chat <number>.")
		return
	}
	entry.Set(text)
}

func (r *repl) openChat(ctx context.Context, number string) error {
	if err := r.page.SetChat(ctx, number); err != nil {
		return err
	}
	name, _ := r.page.ConversationName()
	fmt.Fprintf(r.out, "Chat with %s\n", name)

	if !r.started {
		r.started = true
		return r.ctrl.Start(ctx)
	}
	return r.ctrl.Relocate(ctx)
}

func (r *repl) selectIntent(ctx context.Context, kind models.IntentKind) {
	err := r.ctrl.Select(ctx, kind)
	switch {
	case errors.Is(err, affordance.ErrNotShown), errors.Is(err, flow.ErrEmptyDraft):
		fmt.Fprintln(r.out, "Type a message first.")
		return
	case err != nil:
		// failures are already reported as notices
		slog.Debug("repl.selectIntent: intent failed", "intent", kind, "error", err)
		return
	}
	if kind != models.IntentCustom {
		return
	}
	if s := r.ctrl.Session(); s != nil {
		if err := r.modal.Run(ctx, s); err != nil {
			slog.Debug("repl.selectIntent: detail session ended", "session", s.ID, "error", err)
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BTreeMap/SendLater/internal/collector"
	"github.com/BTreeMap/SendLater/internal/models"
	"github.com/manifoldco/promptui"
)

// Modal drives a detail collector session to completion.
type Modal interface {
	Run(ctx context.Context, s *collector.Session) error
}

// Prompter asks the user for input.
type Prompter interface {
	Select(label string, items []string) (string, error)
	Input(label, def string, validate func(string) error) (string, error)
	Confirm(label string) (bool, error)
}

// promptModal runs sessions with terminal prompts.
type promptModal struct {
	prompter Prompter
	out      io.Writer
	now      func() time.Time
}

func newPromptModal(out io.Writer) *promptModal {
	return &promptModal{prompter: promptuiPrompter{}, out: out, now: time.Now}
}

// Run waits for the contact lookup, asks for the number when there is a
// choice, then for date and time until the schedule is accepted or the user
// gives up. Giving up cancels the session.
func (m *promptModal) Run(ctx context.Context, s *collector.Session) error {
	select {
	case <-s.Ready():
	case <-ctx.Done():
		s.Cancel()
		return ctx.Err()
	}
	if !s.Active() {
		return collector.ErrSessionClosed
	}

	fmt.Fprintf(m.out, "Schedule %q for %s\n", s.Message(), s.Name())
	sel := s.Selection()
	if sel.Locked {
		fmt.Fprintf(m.out, "Recipient: %s\n", sel.Value)
	} else {
		number, err := m.prompter.Select("Number", sel.Options)
		if err != nil {
			s.Cancel()
			return err
		}
		if err := s.Choose(number); err != nil {
			s.Cancel()
			return err
		}
	}

	today := m.now().Format(models.DateLayout)
	for s.Active() {
		date, err := m.prompter.Input("Date (YYYY-MM-DD)", today, validateDate)
		if err != nil {
			s.Cancel()
			return err
		}
		clock, err := m.prompter.Input("Time (HH:MM)", "", validateClock)
		if err != nil {
			s.Cancel()
			return err
		}
		s.SetDate(date)
		s.SetTime(clock)

		ok, err := m.prompter.Confirm("Schedule")
		if err != nil || !ok {
			s.Cancel()
			return err
		}
		err = s.Confirm(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, collector.ErrNotAccepted):
			again, perr := m.prompter.Confirm("Try again")
			if perr != nil || !again {
				s.Cancel()
				return err
			}
		}
		// validation failures were shown as notices; ask again
	}
	return nil
}

// validateDate accepts an empty value so the session can report it.
func validateDate(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if _, err := time.Parse(models.DateLayout, v); err != nil {
		return models.ErrInvalidDate
	}
	return nil
}

func validateClock(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if _, err := models.CombineLocal("2000-01-01", v, time.UTC); err != nil {
		return models.ErrInvalidTime
	}
	return nil
}

// promptuiPrompter implements Prompter with promptui.
type promptuiPrompter struct{}

func (promptuiPrompter) Select(label string, items []string) (string, error) {
	p := promptui.Select{Label: label, Items: items}
	_, v, err := p.Run()
	return v, err
}

func (promptuiPrompter) Input(label, def string, validate func(string) error) (string, error) {
	p := promptui.Prompt{Label: label, Default: def, AllowEdit: def != "", Validate: validate}
	v, err := p.Run()
	return strings.TrimSpace(v), err
}

func (promptuiPrompter) Confirm(label string) (bool, error) {
	p := promptui.Prompt{Label: label, IsConfirm: true}
	_, err := p.Run()
	if errors.Is(err, promptui.ErrAbort) {
		return false, nil
	}
	return err == nil, err
}

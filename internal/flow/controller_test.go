package flow

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/BTreeMap/SendLater/internal/affordance"
	"github.com/BTreeMap/SendLater/internal/collector"
	"github.com/BTreeMap/SendLater/internal/host"
	"github.com/BTreeMap/SendLater/internal/models"
	"github.com/BTreeMap/SendLater/internal/scheduling"
	"github.com/BTreeMap/SendLater/internal/testutil"
)

type harness struct {
	page *testutil.FakePage
	srv  *testutil.ScheduleServer
	ctrl *Controller
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	page := testutil.NewFakePage()
	srv := testutil.NewScheduleServer(t)
	client, err := scheduling.NewClient(scheduling.WithBaseURL(srv.URL), scheduling.WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("failed to create scheduling client: %v", err)
	}
	base := []Option{WithPollInterval(time.Millisecond), WithInsertRetry(time.Millisecond, 5), WithLocation(time.UTC)}
	ctrl, err := NewController(page, client, append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	t.Cleanup(ctrl.Stop)
	return &harness{page: page, srv: srv, ctrl: ctrl}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("failed to start controller: %v", err)
	}
}

func (h *harness) typeDraft(t *testing.T, text string) {
	t.Helper()
	h.page.Entry().Set(text)
	testutil.WaitFor(t, time.Second, h.ctrl.Menu().Mounted, "menu to mount")
}

func TestLocateWaitsForBothAnchors(t *testing.T) {
	page := testutil.NewFakePage()
	page.SetSendAvailable(false)
	page.SetEntryAvailable(false)

	done := make(chan Anchors, 1)
	go func() {
		anchors, err := Locate(context.Background(), page, time.Millisecond)
		if err == nil {
			done <- anchors
		}
	}()

	time.Sleep(10 * time.Millisecond)
	page.SetSendAvailable(true)
	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("locate returned before the entry surface appeared")
	default:
	}

	page.SetEntryAvailable(true)
	select {
	case anchors := <-done:
		if anchors.Send != host.SendControl(page.Send()) || anchors.Entry != host.EntrySurface(page.Entry()) {
			t.Error("locate returned unexpected anchors")
		}
	case <-time.After(time.Second):
		t.Fatal("locate never returned")
	}
}

func TestLocateStopsOnCancel(t *testing.T) {
	page := testutil.NewFakePage()
	page.SetSendAvailable(false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := Locate(ctx, page, time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestMenuFollowsDraft(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if h.ctrl.Menu().Exists() {
		t.Fatal("menu shown for empty draft")
	}
	h.typeDraft(t, "Hello")
	if !h.page.Attached(host.MenuView) {
		t.Fatal("expected menu in page")
	}
	h.page.Entry().Set("Hello again")
	h.page.Entry().Set("   ")
	if h.ctrl.Menu().Exists() || h.page.Attached(host.MenuView) {
		t.Error("expected menu removed for blank draft")
	}
	if calls := h.page.AttachCalls(host.MenuView); calls != 1 {
		t.Errorf("expected a single menu insertion, got %d", calls)
	}
}

func TestRelocateMovesWatcher(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	old := h.page.Entry()
	fresh := h.page.ReplaceEntry()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.ctrl.Relocate(ctx); err != nil {
		t.Fatalf("relocate failed: %v", err)
	}
	if old.Subscribers() != 0 || fresh.Subscribers() != 1 {
		t.Errorf("expected watcher moved, old=%d fresh=%d", old.Subscribers(), fresh.Subscribers())
	}
	old.Set("stale draft")
	time.Sleep(5 * time.Millisecond)
	if h.ctrl.Menu().Exists() {
		t.Error("old entry surface still drives the menu")
	}
}

func TestSendNow(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.typeDraft(t, "Hello")

	if err := h.ctrl.Select(context.Background(), models.IntentNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.page.Send().Activations() != 1 {
		t.Errorf("expected send control activated once, got %d", h.page.Send().Activations())
	}
	if h.page.Entry().Text() != "" {
		t.Errorf("expected draft cleared, got %q", h.page.Entry().Text())
	}
	if len(h.srv.Requests()) != 0 {
		t.Error("send now must not call the scheduling service")
	}
	if h.ctrl.Menu().Exists() {
		t.Error("expected menu removed after the draft was cleared")
	}
}

func TestSendNowUsesReplacedSendControl(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.typeDraft(t, "Hello")
	old := h.page.Send()
	fresh := h.page.ReplaceSendControl()

	if err := h.ctrl.Select(context.Background(), models.IntentNow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if old.Activations() != 0 || fresh.Activations() != 1 {
		t.Errorf("expected the current send control to be used, old=%d fresh=%d", old.Activations(), fresh.Activations())
	}
}

func TestSendNowWithoutSendControl(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.typeDraft(t, "Hello")
	h.page.SetSendAvailable(false)

	if err := h.ctrl.Select(context.Background(), models.IntentNow); !errors.Is(err, ErrSendMissing) {
		t.Errorf("expected ErrSendMissing, got %v", err)
	}
	if h.page.Entry().Text() != "Hello" {
		t.Error("draft must be kept when sending fails")
	}
	if n, ok := h.page.LastNotice(); !ok || n.Kind != host.NoticeFailure {
		t.Errorf("expected failure notice, got %+v", n)
	}
}

func TestDefaultFutureSchedulesTomorrowAtNine(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	for _, now := range []time.Time{
		time.Date(2025, 3, 10, 7, 0, 0, 0, loc),
		time.Date(2025, 3, 10, 9, 0, 0, 0, loc),
		time.Date(2025, 3, 10, 21, 0, 0, 0, loc),
	} {
		now := now
		h := newHarness(t, WithLocation(loc), WithClock(func() time.Time { return now }))
		h.start(t)
		h.typeDraft(t, "  Hello  ")

		if err := h.ctrl.Select(context.Background(), models.IntentDefaultFuture); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		reqs := h.srv.Requests()
		if len(reqs) != 1 {
			t.Fatalf("now=%v: expected 1 request, got %d", now, len(reqs))
		}
		// 2025-03-11 09:00 CET is 08:00 UTC
		want := models.ScheduleRequest{Name: "Ana", Message: "Hello", SendTime: "2025-03-11T08:00:00.000Z"}
		if reqs[0] != want {
			t.Errorf("now=%v: expected %+v, got %+v", now, want, reqs[0])
		}
		if h.page.Entry().Text() != "" {
			t.Errorf("now=%v: expected draft cleared", now)
		}
		if h.ctrl.Session() != nil {
			t.Errorf("now=%v: default future must not open the detail collector", now)
		}
		n, _ := h.page.LastNotice()
		if n.Kind != host.NoticeConfirmation || !strings.Contains(n.Text, "Ana") {
			t.Errorf("now=%v: expected confirmation naming recipient, got %+v", now, n)
		}
	}
}

func TestUnknownRecipientFallback(t *testing.T) {
	h := newHarness(t)
	h.page.SetName("", false)
	h.start(t)
	h.typeDraft(t, "Hello")

	if err := h.ctrl.Select(context.Background(), models.IntentDefaultFuture); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := h.srv.Requests()
	if len(reqs) != 1 || reqs[0].Name != models.UnknownRecipient {
		t.Errorf("expected placeholder recipient, got %+v", reqs)
	}
}

func TestDefaultFutureSchedulesLongDraft(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	body := strings.Repeat("x", 5000)
	h.typeDraft(t, body)

	if err := h.ctrl.Select(context.Background(), models.IntentDefaultFuture); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := h.srv.Requests()
	if len(reqs) != 1 || reqs[0].Message != body {
		t.Fatalf("expected long draft submitted unchanged, got %d requests", len(reqs))
	}
	if n, _ := h.page.LastNotice(); n.Kind != host.NoticeConfirmation {
		t.Errorf("expected confirmation, got %+v", n)
	}
}

func TestDefaultFutureClosesOpenSession(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.typeDraft(t, "Hello")

	if err := h.ctrl.Select(context.Background(), models.IntentCustom); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := h.ctrl.Session()
	if s == nil {
		t.Fatal("expected detail session")
	}
	<-s.Ready()

	if err := h.ctrl.Select(context.Background(), models.IntentDefaultFuture); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.srv.Requests()) != 1 || h.page.Entry().Text() != "" {
		t.Fatal("expected default future to submit and clear the draft")
	}
	if s.Active() || h.ctrl.Session() != nil || h.page.Attached(host.ModalView) {
		t.Error("expected the open detail session to close after a successful schedule")
	}

	s.SetDate("2025-03-10")
	s.SetTime("09:30")
	if err := s.Confirm(context.Background()); !errors.Is(err, collector.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	if len(h.srv.Requests()) != 1 {
		t.Error("closed session must not schedule the message again")
	}
}

func TestDefaultFutureFailureKeepsOpenSession(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.typeDraft(t, "Hello")
	h.ctrl.Select(context.Background(), models.IntentCustom)
	s := h.ctrl.Session()
	<-s.Ready()

	h.srv.SetScheduleResponse(http.StatusOK, `{"success":false}`)
	if err := h.ctrl.Select(context.Background(), models.IntentDefaultFuture); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Active() || h.ctrl.Session() != s {
		t.Error("failed submission must leave the detail session open")
	}
}

func TestSubmissionFailurePreservesState(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"rejected", http.StatusOK, `{"success":false}`},
		{"malformed", http.StatusOK, `{"status":"ok"}`},
		{"server error", http.StatusInternalServerError, `boom`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.srv.SetScheduleResponse(tt.status, tt.body)
			h.start(t)
			h.typeDraft(t, "Hello")

			if err := h.ctrl.Select(context.Background(), models.IntentDefaultFuture); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h.page.Entry().Text() != "Hello" {
				t.Errorf("expected draft kept, got %q", h.page.Entry().Text())
			}
			if n, _ := h.page.LastNotice(); n.Kind != host.NoticeFailure {
				t.Errorf("expected failure notice, got %+v", n)
			}
			if len(h.srv.Requests()) != 1 {
				t.Errorf("expected exactly one attempt, got %d", len(h.srv.Requests()))
			}
		})
	}
}

func TestCustomFlow(t *testing.T) {
	h := newHarness(t)
	h.srv.SetNumbers("Ana", "+1555", "+1666")
	h.start(t)
	h.typeDraft(t, "Hello")

	if _, err := h.ctrl.Toggle(); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if err := h.ctrl.Select(context.Background(), models.IntentCustom); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.ctrl.Menu().State() != models.AffordanceCollapsed {
		t.Errorf("expected menu collapsed after selection, got %v", h.ctrl.Menu().State())
	}
	s := h.ctrl.Session()
	if s == nil {
		t.Fatal("expected detail session")
	}
	if h.page.Entry().Text() != "Hello" {
		t.Error("opening the detail collector must not clear the draft")
	}
	<-s.Ready()
	sel := s.Selection()
	if sel.Locked || sel.Value != "" || len(sel.Options) != 2 {
		t.Fatalf("expected editable unselected control, got %+v", sel)
	}

	// second request while open is a no-op
	if err := h.ctrl.Select(context.Background(), models.IntentCustom); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.ctrl.Session() != s || len(h.srv.ContactQueries()) != 1 {
		t.Error("second open created a new session")
	}

	if err := s.Choose("+1666"); err != nil {
		t.Fatalf("choose failed: %v", err)
	}
	s.SetDate("2025-03-10")
	s.SetTime("09:30")

	h.srv.SetScheduleResponse(http.StatusOK, `{"success":false}`)
	if err := s.Confirm(context.Background()); err == nil {
		t.Fatal("expected rejected confirmation to report an error")
	}
	if !s.Active() || h.page.Entry().Text() != "Hello" {
		t.Error("failed submission must keep modal and draft")
	}

	h.srv.SetScheduleResponse(http.StatusOK, `{"success":true}`)
	if err := s.Confirm(context.Background()); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if s.Active() || h.page.Attached(host.ModalView) {
		t.Error("expected modal closed after success")
	}
	if h.page.Entry().Text() != "" {
		t.Error("expected draft cleared after success")
	}
	reqs := h.srv.Requests()
	want := models.ScheduleRequest{Name: "Ana", Number: "+1666", Message: "Hello", SendTime: "2025-03-10T09:30:00.000Z"}
	if len(reqs) != 2 || reqs[1] != want {
		t.Errorf("expected last request %+v, got %+v", want, reqs)
	}
	n, _ := h.page.LastNotice()
	if n.Kind != host.NoticeConfirmation || !strings.Contains(n.Text, "+1666") {
		t.Errorf("expected confirmation with number, got %+v", n)
	}
}

func TestCustomFlowLookupFailure(t *testing.T) {
	h := newHarness(t)
	h.srv.FailContacts(http.StatusBadGateway)
	h.start(t)
	h.typeDraft(t, "Hello")

	if err := h.ctrl.Select(context.Background(), models.IntentCustom); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := h.ctrl.Session()
	<-s.Ready()
	if sel := s.Selection(); !sel.Locked || sel.Value != "Ana" {
		t.Errorf("expected selection locked to display name, got %+v", sel)
	}
	for _, n := range h.page.Notices() {
		if n.Kind == host.NoticeFailure {
			t.Errorf("lookup failure must only be logged, got notice %+v", n)
		}
	}
}

func TestCancelLeavesDraftAndMenu(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.typeDraft(t, "Hello")
	h.ctrl.Select(context.Background(), models.IntentCustom)
	s := h.ctrl.Session()
	s.Cancel()

	if h.ctrl.Session() != nil || h.page.Attached(host.ModalView) {
		t.Error("expected modal removed on cancel")
	}
	if h.page.Entry().Text() != "Hello" || !h.ctrl.Menu().Exists() {
		t.Error("cancel must not touch the draft or the menu")
	}
	if len(h.srv.Requests()) != 0 {
		t.Error("cancel must not submit")
	}
}

func TestInsertFailureDoesNotStopWatcher(t *testing.T) {
	failures := make(chan error, 4)
	h := newHarness(t, WithInsertFailedHook(func(err error) { failures <- err }))
	h.start(t)
	h.page.SetSendAvailable(false)

	h.page.Entry().Set("Hello")
	select {
	case <-failures:
	case <-time.After(time.Second):
		t.Fatal("expected insertion to give up")
	}
	testutil.WaitFor(t, time.Second, func() bool { return !h.ctrl.Menu().Exists() }, "menu to reset")

	h.page.SetSendAvailable(true)
	h.page.Entry().Set("Hello!")
	testutil.WaitFor(t, time.Second, h.ctrl.Menu().Mounted, "menu to mount on the next cycle")
}

func TestSelectBeforeMenuShown(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if err := h.ctrl.Select(context.Background(), models.IntentNow); !errors.Is(err, affordance.ErrNotShown) {
		t.Errorf("expected ErrNotShown, got %v", err)
	}
	if h.page.Send().Activations() != 0 {
		t.Error("send control activated without a menu")
	}
}

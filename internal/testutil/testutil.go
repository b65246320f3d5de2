// Package testutil provides common test utilities and helpers for SendLater tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/SendLater/internal/host"
	"github.com/BTreeMap/SendLater/internal/models"
)

// WaitFor polls cond until it returns true or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// FakeSendControl records activations.
type FakeSendControl struct {
	mu          sync.Mutex
	activations int
	Err         error
	OnActivate  func()
}

// Activate implements host.SendControl.
func (f *FakeSendControl) Activate(ctx context.Context) error {
	f.mu.Lock()
	f.activations++
	err := f.Err
	fn := f.OnActivate
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	return err
}

// Activations returns how many times the control was activated.
func (f *FakeSendControl) Activations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activations
}

// FakePage is an in-memory host.Page.
type FakePage struct {
	mu             sync.Mutex
	entry          *host.Buffer
	send           *FakeSendControl
	name           string
	hasName        bool
	sendAvailable  bool
	entryAvailable bool
	attached       map[host.View]host.SendControl
	attachCalls    map[host.View]int
	attachErr      error
	sendLookups    int
	notices        []host.Notice
}

// NewFakePage creates a page where every element is available and the
// conversation is named "Ana".
func NewFakePage() *FakePage {
	return &FakePage{
		entry:          host.NewBuffer(),
		send:           &FakeSendControl{},
		name:           "Ana",
		hasName:        true,
		sendAvailable:  true,
		entryAvailable: true,
		attached:       make(map[host.View]host.SendControl),
		attachCalls:    make(map[host.View]int),
	}
}

// Entry returns the page's draft buffer.
func (p *FakePage) Entry() *host.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entry
}

// Send returns the page's current send control.
func (p *FakePage) Send() *FakeSendControl {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.send
}

// ReplaceEntry swaps the draft buffer, as a host re-render would.
func (p *FakePage) ReplaceEntry() *host.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entry = host.NewBuffer()
	return p.entry
}

// ReplaceSendControl swaps the send control and drops attached views anchored
// to the old one.
func (p *FakePage) ReplaceSendControl() *FakeSendControl {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.send
	p.send = &FakeSendControl{}
	for v, anchor := range p.attached {
		if anchor == host.SendControl(old) {
			delete(p.attached, v)
		}
	}
	return p.send
}

// SetSendAvailable controls whether SendControl resolves.
func (p *FakePage) SetSendAvailable(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendAvailable = ok
}

// SetEntryAvailable controls whether EntrySurface resolves.
func (p *FakePage) SetEntryAvailable(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entryAvailable = ok
}

// SetName sets the conversation display name; ok=false hides the header.
func (p *FakePage) SetName(name string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
	p.hasName = ok
}

// SendControl implements host.Page.
func (p *FakePage) SendControl() (host.SendControl, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendLookups++
	if !p.sendAvailable {
		return nil, false
	}
	return p.send, true
}

// EntrySurface implements host.Page.
func (p *FakePage) EntrySurface() (host.EntrySurface, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.entryAvailable {
		return nil, false
	}
	return p.entry, true
}

// ConversationName implements host.Page.
func (p *FakePage) ConversationName() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name, p.hasName
}

// Attach implements host.Page.
func (p *FakePage) Attach(v host.View, anchor host.SendControl) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attachCalls[v]++
	if p.attachErr != nil {
		return p.attachErr
	}
	p.attached[v] = anchor
	return nil
}

// SetAttachError makes every later Attach fail with err. A nil err restores
// normal behaviour.
func (p *FakePage) SetAttachError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attachErr = err
}

// Detach implements host.Page.
func (p *FakePage) Detach(v host.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attached, v)
}

// Attached implements host.Page.
func (p *FakePage) Attached(v host.View) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.attached[v]
	return ok
}

// AttachCalls returns how many times v was attached.
func (p *FakePage) AttachCalls(v host.View) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attachCalls[v]
}

// SendLookups returns how many times the send control was resolved.
func (p *FakePage) SendLookups() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendLookups
}

// Notify implements host.Page.
func (p *FakePage) Notify(n host.Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, n)
}

// Notices returns all notices shown so far.
func (p *FakePage) Notices() []host.Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]host.Notice(nil), p.notices...)
}

// LastNotice returns the most recent notice.
func (p *FakePage) LastNotice() (host.Notice, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.notices) == 0 {
		return host.Notice{}, false
	}
	return p.notices[len(p.notices)-1], true
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ScheduleServer is a fake scheduling service.
type ScheduleServer struct {
	*httptest.Server

	mu             sync.Mutex
	numbers        map[string][]string
	contactsStatus int
	contactsDelay  time.Duration
	scheduleBody   string
	scheduleStatus int
	contactQueries []string
	requests       []models.ScheduleRequest
}

// NewScheduleServer starts a fake scheduling service that knows no contacts and
// accepts every schedule request. It is closed when the test ends.
func NewScheduleServer(t *testing.T) *ScheduleServer {
	t.Helper()
	s := &ScheduleServer{
		numbers:        make(map[string][]string),
		contactsStatus: http.StatusOK,
		scheduleBody:   `{"success":true}`,
		scheduleStatus: http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/contacts", s.contactsHandler)
	mux.HandleFunc("/api/schedule", s.scheduleHandler)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// SetNumbers sets the numbers returned for name.
func (s *ScheduleServer) SetNumbers(name string, numbers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numbers[name] = numbers
}

// FailContacts makes the contacts endpoint answer with status.
func (s *ScheduleServer) FailContacts(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contactsStatus = status
}

// DelayContacts delays contact responses by d.
func (s *ScheduleServer) DelayContacts(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contactsDelay = d
}

// SetScheduleResponse sets the raw status and body returned by /api/schedule.
func (s *ScheduleServer) SetScheduleResponse(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleStatus = status
	s.scheduleBody = body
}

// Requests returns the decoded schedule requests received so far.
func (s *ScheduleServer) Requests() []models.ScheduleRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ScheduleRequest(nil), s.requests...)
}

// ContactQueries returns the names looked up so far.
func (s *ScheduleServer) ContactQueries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.contactQueries...)
}

func (s *ScheduleServer) contactsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")
	s.mu.Lock()
	s.contactQueries = append(s.contactQueries, name)
	status := s.contactsStatus
	delay := s.contactsDelay
	numbers := s.numbers[name]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	if numbers == nil {
		numbers = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(models.ContactsResponse{Numbers: numbers})
}

func (s *ScheduleServer) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req models.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	status := s.scheduleStatus
	body := s.scheduleBody
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// Package scheduling is the HTTP client for the scheduling service.
//
// It exposes the two calls SendLater makes: resolving a display name to
// addressable numbers and submitting a scheduled message. Both are single
// request/response exchanges with no automatic retry.
package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/SendLater/internal/models"
)

// Constants for the scheduling client
const (
	// DefaultBaseURL is where the scheduling service listens by default
	DefaultBaseURL = "http://localhost:8080"
	// DefaultTimeout bounds each request
	DefaultTimeout = 10 * time.Second
	// MaxResponseBytes caps how much of a response body is read
	MaxResponseBytes = 1 << 20

	contactsPath = "/api/contacts"
	schedulePath = "/api/schedule"
)

// Error variables for better error handling and testability
var (
	ErrRejected          = errors.New("scheduling service rejected the request")
	ErrMalformedResponse = errors.New("malformed response from scheduling service")
	ErrUnexpectedStatus  = errors.New("unexpected status from scheduling service")
	ErrResponseTooLarge  = errors.New("response from scheduling service too large")
)

// Opts holds configuration options for the scheduling client.
type Opts struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Option defines a configuration option for the scheduling client.
type Option func(*Opts)

// WithBaseURL sets the scheduling service base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// Client talks to the scheduling service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a scheduling client, applying any provided options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid scheduling service URL %q", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	slog.Debug("scheduling.NewClient: options set", "base_url", cfg.BaseURL, "timeout", cfg.Timeout)
	return &Client{baseURL: strings.TrimRight(cfg.BaseURL, "/"), http: httpClient}, nil
}

// Contacts resolves a display name to the numbers known for it. An empty
// slice is a valid answer.
func (c *Client) Contacts(ctx context.Context, name string) (models.ContactCandidates, error) {
	candidates := models.ContactCandidates{QueriedName: name}
	endpoint := c.baseURL + contactsPath + "?name=" + url.QueryEscape(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return candidates, fmt.Errorf("failed to build contacts request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	slog.Debug("Client.Contacts: looking up contact", "name", name)
	var body models.ContactsResponse
	if err := c.do(req, &body); err != nil {
		slog.Warn("Client.Contacts: lookup failed", "name", name, "error", err)
		return candidates, err
	}
	if body.Numbers == nil {
		return candidates, fmt.Errorf("%w: missing numbers", ErrMalformedResponse)
	}
	candidates.Numbers = body.Numbers
	slog.Debug("Client.Contacts: lookup complete", "name", name, "count", len(body.Numbers))
	return candidates, nil
}

// Schedule submits intent. A response other than {"success": true} is
// reported as an error alongside an unsuccessful result.
func (c *Client) Schedule(ctx context.Context, intent models.ScheduleIntent) (models.SubmissionResult, error) {
	failed := models.SubmissionResult{Success: false}
	if err := intent.Validate(); err != nil {
		return failed, err
	}

	payload, err := json.Marshal(intent.Request())
	if err != nil {
		return failed, fmt.Errorf("failed to encode schedule request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+schedulePath, bytes.NewReader(payload))
	if err != nil {
		return failed, fmt.Errorf("failed to build schedule request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	slog.Debug("Client.Schedule: submitting", "name", intent.RecipientName, "number_set", intent.RecipientNumber != "", "send_time", models.FormatSendTime(intent.SendAt))
	var body struct {
		Success *bool `json:"success"`
	}
	if err := c.do(req, &body); err != nil {
		slog.Error("Client.Schedule: submission failed", "name", intent.RecipientName, "error", err)
		return failed, err
	}
	if body.Success == nil {
		return failed, fmt.Errorf("%w: missing success flag", ErrMalformedResponse)
	}
	if !*body.Success {
		return failed, ErrRejected
	}
	slog.Info("Client.Schedule: message scheduled", "name", intent.RecipientName, "send_time", models.FormatSendTime(intent.SendAt))
	return models.SubmissionResult{Success: true}, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", req.URL.Path, err)
	}
	if len(data) > MaxResponseBytes {
		return ErrResponseTooLarge
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, req.URL.Path)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

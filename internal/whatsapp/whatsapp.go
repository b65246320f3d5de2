// Package whatsapp wraps the Whatsmeow client used by the console composer.
//
// It sends the composed draft to the open chat and resolves display names
// for chats from the device's contact store.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BTreeMap/SendLater/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Constants for WhatsApp client configuration
const (
	// DefaultDBFileName is the whatsmeow SQLite database filename inside a state directory
	DefaultDBFileName = "whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// Error variables for better error handling and testability
var (
	ErrNotInitialized = errors.New("whatsapp client not initialized")
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
)

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // WhatsApp/whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // print the raw pairing code instead of a QR code
	LogLevel    string // whatsmeow log level
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to print the pairing code as text.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithLogLevel sets the whatsmeow log level (DEBUG, INFO, WARN, ERROR).
func WithLogLevel(level string) Option {
	return func(o *Opts) {
		o.LogLevel = level
	}
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client
}

// SQLiteDSN returns the DSN of the whatsmeow SQLite database kept in stateDir,
// with foreign keys enabled.
func SQLiteDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultDBFileName) + "?_foreign_keys=on"
}

// NewClient creates a new WhatsApp client, logging in with a QR code when the
// device store holds no session yet.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := Opts{LogLevel: "INFO"}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("whatsapp.NewClient: options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDriver, err := store.Prepare(cfg.DBDSN)
	if err != nil {
		return nil, err
	}

	slog.Debug("whatsapp.NewClient: initializing DB store", "driver", dbDriver)
	container, err := sqlstore.New(ctx, dbDriver, cfg.DBDSN, waLog.Stdout("Database", cfg.LogLevel, true))
	if err != nil {
		slog.Error("whatsapp.NewClient: failed to initialize DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("whatsapp.NewClient: failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", cfg.LogLevel, true))
	if waClient.Store.ID == nil {
		if err := login(ctx, waClient, cfg); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("whatsapp.NewClient: already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("whatsapp.NewClient: failed to connect to server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("whatsapp.NewClient: client connected")
	return &Client{waClient: waClient}, nil
}

func login(ctx context.Context, waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("whatsapp.login: login required; starting QR code flow")
	qrChan, err := waClient.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open QR channel: %w", err)
	}
	if err := waClient.Connect(); err != nil {
		slog.Error("whatsapp.login: failed to connect during login", "error", err)
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}

	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			slog.Error("whatsapp.login: failed to create QR file", "error", err)
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event == whatsmeow.QRChannelEventCode {
			if cfg.NumericCode {
				fmt.Fprintln(writer, evt.Code)
			} else {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
			}
			continue
		}
		slog.Info("whatsapp.login: login event", "event", evt.Event)
		if evt.Event != "success" {
			if evt.Error != nil {
				return fmt.Errorf("whatsapp login failed: %w", evt.Error)
			}
			if evt.Event == "timeout" {
				return fmt.Errorf("whatsapp login timed out")
			}
		}
	}
	return nil
}

// SendMessage sends a WhatsApp text message to the given phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return ErrNotInitialized
	}
	user := NormalizeNumber(to)
	if user == "" {
		return ErrEmptyRecipient
	}
	if body == "" {
		return ErrEmptyBody
	}

	slog.Debug("Client.SendMessage: sending", "to", user, "body_length", len(body))
	msg := &waE2E.Message{Conversation: &body}
	if _, err := c.waClient.SendMessage(ctx, types.NewJID(user, JIDSuffix), msg); err != nil {
		slog.Error("Client.SendMessage: send failed", "error", err, "to", user)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Client.SendMessage: sent", "to", user)
	return nil
}

// DisplayName returns the contact store's name for number.
func (c *Client) DisplayName(ctx context.Context, number string) (string, bool) {
	if c.waClient == nil || c.waClient.Store == nil || c.waClient.Store.Contacts == nil {
		return "", false
	}
	user := NormalizeNumber(number)
	if user == "" {
		return "", false
	}
	info, err := c.waClient.Store.Contacts.GetContact(ctx, types.NewJID(user, JIDSuffix))
	if err != nil {
		slog.Warn("Client.DisplayName: contact lookup failed", "number", user, "error", err)
		return "", false
	}
	return displayName(info)
}

// Close disconnects from WhatsApp.
func (c *Client) Close() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// displayName picks the best available name, preferring what the user saved.
func displayName(info types.ContactInfo) (string, bool) {
	if !info.Found {
		return "", false
	}
	for _, name := range []string{info.FullName, info.FirstName, info.PushName, info.BusinessName} {
		if name = strings.TrimSpace(name); name != "" {
			return name, true
		}
	}
	return "", false
}

// NormalizeNumber strips formatting from a phone number so it can be used as
// a JID user part: "+1 (555) 010-0000" becomes "15550100000".
func NormalizeNumber(number string) string {
	number = strings.TrimSuffix(strings.TrimSpace(number), "@"+JIDSuffix)
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MockClient records sent messages and serves names from a map (for tests).
type MockClient struct {
	mu    sync.Mutex
	Names map[string]string
	Err   error
	sent  []SentMessage
}

// SentMessage is a message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{Names: map[string]string{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) DisplayName(ctx context.Context, number string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.Names[NormalizeNumber(number)]
	return name, ok
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

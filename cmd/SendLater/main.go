package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/SendLater/internal/affordance"
	"github.com/BTreeMap/SendLater/internal/collector"
	"github.com/BTreeMap/SendLater/internal/console"
	"github.com/BTreeMap/SendLater/internal/flow"
	"github.com/BTreeMap/SendLater/internal/scheduler"
	"github.com/BTreeMap/SendLater/internal/scheduling"
	"github.com/BTreeMap/SendLater/internal/twiliowhatsapp"
	"github.com/BTreeMap/SendLater/internal/util"
	"github.com/BTreeMap/SendLater/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SendLater state data
	DefaultStateDir = "/var/lib/sendlater"
	// DefaultHistoryFileName is the composer history file in the user's home
	DefaultHistoryFileName = ".sendlater-history"
)

// Send backends for the composer.
const (
	BackendDryRun   = "dryrun"
	BackendWhatsApp = "whatsapp"
	BackendTwilio   = "twilio"
)

// ErrUnknownBackend is returned for an unsupported -backend value.
var ErrUnknownBackend = errors.New("unknown send backend")

func main() {
	initializeLogger(false)

	config := loadEnvironmentConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "schedule" {
		initializeLogger(config.Debug)
		if err := runSchedule(ctx, config, args[1:], os.Stdout); err != nil {
			slog.Error("SendLater schedule failed", "error", err)
			os.Exit(1)
		}
		return
	}

	flags, err := parseCommandLineFlags(flag.CommandLine, args, config)
	if err != nil {
		os.Exit(2)
	}
	initializeLogger(*flags.debug)

	slog.Info("Bootstrapping SendLater", "backend", *flags.backend, "api_url", *flags.apiURL)
	if err := runInteractive(ctx, flags); err != nil {
		slog.Error("SendLater failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SendLater exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir       string
	APIURL         string
	Backend        string
	WhatsAppDSN    string
	Chat           string
	DefaultCron    string
	PollInterval   time.Duration
	InsertAttempts uint
	LookupTimeout  time.Duration
	Debug          bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput       *string
	numeric        *bool
	stateDir       *string
	apiURL         *string
	backend        *string
	dbDSN          *string
	chat           *string
	defaultCron    *string
	pollInterval   *time.Duration
	insertAttempts *uint
	lookupTimeout  *time.Duration
	debug          *bool
}

// initializeLogger sets up structured logging on stderr, keeping stdout for
// the composer.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// defaultDSN is the SQLite whatsmeow database inside stateDir.
func defaultDSN(stateDir string) string {
	return whatsapp.SQLiteDSN(stateDir)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:       util.StringEnv("SENDLATER_STATE_DIR", DefaultStateDir),
		APIURL:         util.StringEnv("SENDLATER_API_URL", scheduling.DefaultBaseURL),
		Backend:        util.StringEnv("SENDLATER_BACKEND", BackendDryRun),
		WhatsAppDSN:    util.StringEnv("WHATSAPP_DB_DSN", ""),
		Chat:           util.StringEnv("SENDLATER_CHAT", ""),
		DefaultCron:    util.StringEnv("DEFAULT_SCHEDULE", scheduler.DefaultCron),
		PollInterval:   util.ParseDurationEnv("SENDLATER_POLL_INTERVAL", flow.DefaultPollInterval),
		InsertAttempts: util.ParseUintEnv("SENDLATER_INSERT_ATTEMPTS", affordance.DefaultInsertAttempts),
		LookupTimeout:  util.ParseDurationEnv("SENDLATER_LOOKUP_TIMEOUT", collector.DefaultLookupTimeout),
		Debug:          util.ParseBoolEnv("SENDLATER_DEBUG", false),
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = defaultDSN(config.StateDir)
		slog.Debug("No WHATSAPP_DB_DSN set, defaulting to SQLite in state directory", "dsn", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"SENDLATER_STATE_DIR", config.StateDir,
		"SENDLATER_API_URL", config.APIURL,
		"SENDLATER_BACKEND", config.Backend,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"SENDLATER_CHAT", config.Chat,
		"DEFAULT_SCHEDULE", config.DefaultCron,
		"SENDLATER_POLL_INTERVAL", config.PollInterval,
		"SENDLATER_INSERT_ATTEMPTS", config.InsertAttempts,
		"SENDLATER_LOOKUP_TIMEOUT", config.LookupTimeout,
		"SENDLATER_DEBUG", config.Debug)
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		qrOutput:       fs.String("qr-output", "", "path to write login QR code"),
		numeric:        fs.Bool("numeric-code", false, "print the raw pairing code instead of a QR code"),
		stateDir:       fs.String("state-dir", config.StateDir, "state directory for SendLater data (overrides $SENDLATER_STATE_DIR)"),
		apiURL:         fs.String("api-url", config.APIURL, "scheduling service base URL (overrides $SENDLATER_API_URL)"),
		backend:        fs.String("backend", config.Backend, "send backend: dryrun, whatsapp or twilio (overrides $SENDLATER_BACKEND)"),
		dbDSN:          fs.String("db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp session (overrides $WHATSAPP_DB_DSN)"),
		chat:           fs.String("chat", config.Chat, "phone number of the chat to open (overrides $SENDLATER_CHAT)"),
		defaultCron:    fs.String("default-cron", config.DefaultCron, "cron schedule for the tomorrow option (overrides $DEFAULT_SCHEDULE)"),
		pollInterval:   fs.Duration("poll-interval", config.PollInterval, "composer anchor polling interval (overrides $SENDLATER_POLL_INTERVAL)"),
		insertAttempts: fs.Uint("insert-attempts", config.InsertAttempts, "menu insertion attempts (overrides $SENDLATER_INSERT_ATTEMPTS)"),
		lookupTimeout:  fs.Duration("lookup-timeout", config.LookupTimeout, "contact lookup timeout for custom schedules (overrides $SENDLATER_LOOKUP_TIMEOUT)"),
		debug:          fs.Bool("debug", config.Debug, "enable debug logging (overrides $SENDLATER_DEBUG)"),
	}
	if err := fs.Parse(args); err != nil {
		return flags, err
	}

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"apiURL", *flags.apiURL,
		"backend", *flags.backend,
		"dbDSN_set", *flags.dbDSN != "",
		"chat", *flags.chat,
		"defaultCron", *flags.defaultCron)

	// follow -state-dir when the DSN is still the default one
	if *flags.dbDSN == defaultDSN(config.StateDir) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = defaultDSN(*flags.stateDir)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}
	return flags, nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	if *flags.debug {
		waOpts = append(waOpts, whatsapp.WithLogLevel("DEBUG"))
	}
	return waOpts
}

// buildSchedulingOptions constructs scheduling client options
func buildSchedulingOptions(flags Flags) []scheduling.Option {
	var opts []scheduling.Option
	if *flags.apiURL != "" {
		opts = append(opts, scheduling.WithBaseURL(*flags.apiURL))
	}
	return opts
}

// buildFlowOptions constructs scheduling flow options
func buildFlowOptions(flags Flags) []flow.Option {
	opts := []flow.Option{
		flow.WithInsertRetry(affordance.DefaultInsertInterval, *flags.insertAttempts),
	}
	if *flags.pollInterval > 0 {
		opts = append(opts, flow.WithPollInterval(*flags.pollInterval))
	}
	if *flags.defaultCron != "" {
		opts = append(opts, flow.WithDefaultCron(*flags.defaultCron))
	}
	if *flags.lookupTimeout > 0 {
		opts = append(opts, flow.WithLookupTimeout(*flags.lookupTimeout))
	}
	return opts
}

// backend is the composer's send path and optional name directory.
type backend struct {
	sender    console.Sender
	directory console.Directory
	close     func()
}

// newBackend connects the send backend selected by -backend.
func newBackend(ctx context.Context, flags Flags, out io.Writer) (backend, error) {
	switch strings.ToLower(*flags.backend) {
	case BackendDryRun, "":
		return backend{sender: console.DryRun{Out: out}, close: func() {}}, nil
	case BackendWhatsApp:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return backend{}, err
		}
		return backend{sender: client, directory: client, close: client.Close}, nil
	case BackendTwilio:
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return backend{}, err
		}
		return backend{sender: client, close: func() {}}, nil
	default:
		return backend{}, fmt.Errorf("%w: %q", ErrUnknownBackend, *flags.backend)
	}
}

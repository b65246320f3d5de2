package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/SendLater/internal/models"
	"github.com/BTreeMap/SendLater/internal/scheduler"
	"github.com/BTreeMap/SendLater/internal/scheduling"
)

// ErrMissingWhen is returned when neither -at nor -tomorrow is given.
var ErrMissingWhen = errors.New("either -at or -tomorrow is required")

// runSchedule submits one schedule request from command line flags, the way
// the composer's custom time dialog does.
func runSchedule(ctx context.Context, config Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	fs.SetOutput(out)
	name := fs.String("name", "", "recipient display name")
	number := fs.String("number", "", "recipient phone number (optional)")
	message := fs.String("message", "", "message body")
	at := fs.String("at", "", "local send time, YYYY-MM-DDTHH:MM or \"YYYY-MM-DD HH:MM\"")
	tomorrow := fs.Bool("tomorrow", false, "send at the default time tomorrow")
	apiURL := fs.String("api-url", config.APIURL, "scheduling service base URL (overrides $SENDLATER_API_URL)")
	defaultCron := fs.String("default-cron", config.DefaultCron, "cron schedule for -tomorrow (overrides $DEFAULT_SCHEDULE)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sendAt, err := resolveSendTime(*at, *tomorrow, *defaultCron, time.Now(), time.Local)
	if err != nil {
		return err
	}
	intent := models.ScheduleIntent{
		RecipientName:   strings.TrimSpace(*name),
		RecipientNumber: strings.TrimSpace(*number),
		MessageBody:     strings.TrimSpace(*message),
		SendAt:          sendAt,
	}
	if err := intent.Validate(); err != nil {
		return err
	}

	client, err := scheduling.NewClient(scheduling.WithBaseURL(*apiURL))
	if err != nil {
		return err
	}
	if _, err := client.Schedule(ctx, intent); err != nil {
		return fmt.Errorf("failed to schedule message to %s: %w", intent.RecipientName, err)
	}
	slog.Info("runSchedule: message scheduled", "name", intent.RecipientName, "send_time", models.FormatSendTime(sendAt))
	fmt.Fprintf(out, "✓ Message to %s scheduled for %s\n", intent.RecipientName, models.FormatLocal(sendAt, time.Local))
	return nil
}

// resolveSendTime turns the -at / -tomorrow flags into an instant.
func resolveSendTime(at string, tomorrow bool, cronExpr string, now time.Time, loc *time.Location) (time.Time, error) {
	at = strings.TrimSpace(at)
	switch {
	case tomorrow && at != "":
		return time.Time{}, errors.New("-at and -tomorrow are mutually exclusive")
	case tomorrow:
		s, err := scheduler.NewScheduler(cronExpr)
		if err != nil {
			return time.Time{}, err
		}
		return s.NextDay(now.In(loc)), nil
	case at == "":
		return time.Time{}, ErrMissingWhen
	}

	date, clock, ok := strings.Cut(at, "T")
	if !ok {
		date, clock, _ = strings.Cut(at, " ")
	}
	return models.CombineLocal(date, clock, loc)
}

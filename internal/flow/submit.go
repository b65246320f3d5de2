package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/SendLater/internal/host"
	"github.com/BTreeMap/SendLater/internal/models"
)

// submit sends intent once and reports the outcome to the user. The draft is
// cleared and any open detail session closed only when the service accepts
// the schedule.
func (c *Controller) submit(ctx context.Context, intent models.ScheduleIntent) bool {
	res, err := c.service.Schedule(ctx, intent)
	if err != nil || !res.Success {
		slog.Warn("Controller.submit: schedule not accepted", "name", intent.RecipientName, "error", err)
		c.page.Notify(host.Notice{Kind: host.NoticeFailure, Text: failureText(intent, err)})
		return false
	}

	c.page.Notify(host.Notice{Kind: host.NoticeConfirmation, Text: confirmationText(intent, c.cfg)})
	if entry, err := c.entry(); err == nil {
		entry.Clear()
	} else {
		slog.Warn("Controller.submit: could not clear draft", "error", err)
	}
	c.collector.CloseCurrent("submitted")
	return true
}

func confirmationText(intent models.ScheduleIntent, cfg Opts) string {
	to := intent.RecipientName
	if intent.RecipientNumber != "" && intent.RecipientNumber != intent.RecipientName {
		to = fmt.Sprintf("%s (%s)", intent.RecipientName, intent.RecipientNumber)
	}
	return fmt.Sprintf("Message to %s scheduled for %s", to, models.FormatLocal(intent.SendAt, cfg.Location))
}

func failureText(intent models.ScheduleIntent, err error) string {
	if err != nil {
		return fmt.Sprintf("Failed to schedule message to %s: %v", intent.RecipientName, err)
	}
	return fmt.Sprintf("Failed to schedule message to %s", intent.RecipientName)
}

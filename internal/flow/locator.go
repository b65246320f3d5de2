package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/SendLater/internal/host"
	"github.com/BTreeMap/SendLater/internal/retry"
)

// DefaultPollInterval is how often the host page is probed for its anchors.
const DefaultPollInterval = time.Second

// Anchors are the host elements the scheduling flow depends on.
type Anchors struct {
	Send  host.SendControl
	Entry host.EntrySurface
}

// Locate probes page every interval until both the send control and the entry
// surface resolve. Absence is not an error; only ctx ends the wait early.
func Locate(ctx context.Context, page host.Page, interval time.Duration) (Anchors, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	slog.Debug("flow.Locate: waiting for host anchors", "interval", interval)
	anchors, err := retry.Until(ctx, retry.Forever("anchor-locate", interval), func() (Anchors, error) {
		send, ok := page.SendControl()
		if !ok {
			return Anchors{}, host.ErrNotFound
		}
		entry, ok := page.EntrySurface()
		if !ok {
			return Anchors{}, host.ErrNotFound
		}
		return Anchors{Send: send, Entry: entry}, nil
	})
	if err != nil {
		return Anchors{}, err
	}
	slog.Info("flow.Locate: host anchors acquired")
	return anchors, nil
}

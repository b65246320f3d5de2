package watch

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/SendLater/internal/host"
)

// Target is the thing whose existence follows the draft content.
type Target interface {
	Exists() bool
	Create()
	Destroy()
}

// Presence creates the target when the observed text becomes non-empty and
// destroys it when the text becomes empty. Only one source is watched at a
// time.
type Presence struct {
	mu     sync.Mutex
	slot   Slot
	target Target
	gen    uint64
}

// NewPresence creates a Presence driving target.
func NewPresence(target Target) *Presence {
	return &Presence{target: target}
}

// Watch starts observing src, replacing any previously watched source. The
// current content is evaluated immediately.
func (p *Presence) Watch(src host.EntrySurface) {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	slog.Debug("Presence.Watch: installing watcher", "generation", gen)
	p.slot.Replace(func() host.Subscription {
		return src.Subscribe(func() { p.evaluate(gen, src) })
	})
	p.evaluate(gen, src)
}

// Stop releases the active watcher.
func (p *Presence) Stop() {
	p.mu.Lock()
	p.gen++
	p.mu.Unlock()
	p.slot.Release()
	slog.Debug("Presence.Stop: watcher released")
}

// Active reports whether a watcher is installed.
func (p *Presence) Active() bool {
	return p.slot.Occupied()
}

func (p *Presence) evaluate(gen uint64, src host.EntrySurface) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// a replaced watcher may still receive a late notification
	if gen != p.gen {
		return
	}

	hasText := strings.TrimSpace(src.Text()) != ""
	exists := p.target.Exists()
	switch {
	case hasText && !exists:
		slog.Debug("Presence.evaluate: draft has text, creating menu")
		p.target.Create()
	case !hasText && exists:
		slog.Debug("Presence.evaluate: draft empty, removing menu")
		p.target.Destroy()
	}
}

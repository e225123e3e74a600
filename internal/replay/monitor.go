package replay

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often a loading frame is inspected.
const DefaultPollInterval = 5 * time.Second

// Frame is the sandboxed document that renders archived content.
// Implementations must be safe for concurrent use: Inspect runs on the poll
// goroutine while Mount and Reload run on the effects goroutine.
type Frame interface {
	// Mount replaces the current document with src. Messages from the new
	// document must be delivered tagged with sender.
	Mount(ctx context.Context, sender, src string) error
	// Unmount tears down the current document, if any.
	Unmount(ctx context.Context) error
	// Reload reloads the current document in place.
	Reload(ctx context.Context) error
	// Inspect reports the document load status. An error means the frame
	// cannot be inspected right now.
	Inspect(ctx context.Context) (FrameStatus, error)
}

// FrameStatus is a point-in-time view of the frame document.
type FrameStatus struct {
	ReadyState    string `json:"ready"`
	RuntimeActive bool   `json:"runtime"`
}

// Loaded reports whether the document completed and the replay runtime has
// stopped. This is a heuristic; there is no reliable cross-frame load event.
func (s FrameStatus) Loaded() bool {
	return s.ReadyState == "complete" && !s.RuntimeActive
}

// loadWait is the active poll of a loading frame.
type loadWait struct {
	gen     uint64
	started time.Time
	stop    context.CancelFunc
}

// beginLoadWait marks the frame loading and starts the bounded poll.
func (c *Controller) beginLoadWait() {
	c.stopPoll()
	c.setLoading(true)

	c.pollGen++
	gen := c.pollGen
	ctx, cancel := context.WithCancel(c.ctx)
	c.poll = &loadWait{gen: gen, started: time.Now(), stop: cancel}

	c.group.Go(func() error {
		c.pollFrame(ctx, gen)
		return nil
	})
}

func (c *Controller) pollFrame(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ictx, cancel := context.WithTimeout(ctx, c.pollInterval)
			status, err := c.frame.Inspect(ictx)
			cancel()
			if !c.post(func() { c.onPoll(gen, status, err) }) {
				return
			}
		}
	}
}

func (c *Controller) onPoll(gen uint64, status FrameStatus, err error) {
	if c.poll == nil || c.poll.gen != gen {
		return
	}
	switch {
	case err != nil:
		c.log.Debug("frame not inspectable, clearing loading", zap.Error(err))
		c.clearLoading()
	case status.Loaded():
		c.clearLoading()
	case time.Since(c.poll.started) >= c.loadTimeout:
		c.log.Debug("load wait timed out",
			zap.String("ready_state", status.ReadyState),
			zap.Bool("runtime_active", status.RuntimeActive))
		c.clearLoading()
	}
}

// clearLoading is safe to call with no poll running.
func (c *Controller) clearLoading() {
	c.stopPoll()
	c.setLoading(false)
}

func (c *Controller) stopPoll() {
	if c.poll != nil {
		c.poll.stop()
		c.poll = nil
	}
}

func (c *Controller) setLoading(loading bool) {
	if c.nav.replay.IsLoading == loading {
		return
	}
	c.nav.replay.IsLoading = loading
	c.emit(LoadingChanged{Loading: loading})
}

// refresh reloads the mounted frame in place. Unless forced it does nothing
// while a load is already in progress.
func (c *Controller) refresh(force bool) {
	if c.nav.replay.IsLoading && !force {
		c.log.Debug("refresh skipped, frame still loading")
		return
	}
	if c.sender == "" {
		return
	}
	c.beginLoadWait()
	c.effect("reload", func(ctx context.Context) error {
		return c.frame.Reload(ctx)
	})
}

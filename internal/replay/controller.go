package replay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed              = errors.New("replay: controller closed")
	ErrNoFrame             = errors.New("replay: frame required")
	ErrNoHost              = errors.New("replay: no fullscreen host")
	ErrNoPrompt            = errors.New("replay: no credential prompt open")
	ErrNoCredentialUpdater = errors.New("replay: no credential updater configured")
)

// Host is the element hosting the frame. Its fullscreen-change signal is
// reported back through Controller.FullscreenChanged.
type Host interface {
	RequestFullscreen(ctx context.Context) error
	ExitFullscreen(ctx context.Context) error
}

// TitleReport is forwarded to the parent context when embedded.
type TitleReport struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Timestamp string `json:"ts"`
}

// Parent receives title reports when the controller is itself embedded.
type Parent interface {
	PostTitle(ctx context.Context, r TitleReport) error
}

// Options configures a Controller.
type Options struct {
	Collection   *CollectionInfo
	SourceURL    string
	Frame        Frame
	Host         Host
	Parent       Parent
	Credentials  CredentialUpdater
	PollInterval time.Duration
	// LoadTimeout bounds how long the loading flag can stay set without a
	// load report. Defaults to PollInterval and never exceeds it.
	LoadTimeout time.Duration
	Logger      *zap.Logger
}

// Snapshot is a copy of the controller state.
type Snapshot struct {
	Target     NavigationTarget `json:"target"`
	Replay     ReplayState      `json:"replay"`
	Collection *CollectionInfo  `json:"collection,omitempty"`
	SourceURL  string           `json:"source_url,omitempty"`
	Authable   bool             `json:"authable"`
	Reauth     ReauthState      `json:"reauth"`
	PromptOpen bool             `json:"prompt_open"`
	Fullscreen bool             `json:"fullscreen"`
}

type effect struct {
	name string
	run  func(ctx context.Context) error
}

// Controller owns one replay session. Every state change happens on its loop
// goroutine, one posted closure at a time.
type Controller struct {
	log          *zap.Logger
	frame        Frame
	host         Host
	parent       Parent
	creds        CredentialUpdater
	pollInterval time.Duration
	loadTimeout  time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	group     errgroup.Group
	ops       chan func()
	effects   chan effect
	closeOnce sync.Once
	delivery  sync.WaitGroup

	// loop-owned
	nav        navState
	coll       *CollectionInfo
	sourceURL  string
	authable   bool
	sender     string
	poll       *loadWait
	pollGen    uint64
	auth       reauth
	fullscreen bool
	lastNav    NavigationTarget
	subs       []*Subscription
}

// New starts a controller. Close releases it.
func New(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Frame == nil {
		return nil, ErrNoFrame
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	timeout := opts.LoadTimeout
	if timeout <= 0 || timeout > poll {
		timeout = poll
	}

	c := &Controller{
		log:          logger,
		frame:        opts.Frame,
		host:         opts.Host,
		parent:       opts.Parent,
		creds:        opts.Credentials,
		pollInterval: poll,
		loadTimeout:  timeout,
		ops:          make(chan func(), 64),
		effects:      make(chan effect, 64),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.applyCollection(opts.Collection, opts.SourceURL)

	c.group.Go(c.loop)
	c.group.Go(c.runEffects)
	return c, nil
}

// Close stops the loop, the poll and every subscription. It returns once
// every subscription callback has finished, so it must not be called from
// one.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.group.Wait()
		c.delivery.Wait()
	})
	return nil
}

func (c *Controller) loop() error {
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.ctx.Done():
			c.stopPoll()
			for _, s := range c.subs {
				s.Close()
			}
			c.subs = nil
			return nil
		}
	}
}

func (c *Controller) runEffects() error {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case e := <-c.effects:
			if err := e.run(c.ctx); err != nil {
				c.log.Debug("frame operation failed", zap.String("op", e.name), zap.Error(err))
			}
		}
	}
}

// post queues fn on the loop. It reports false once the controller closed.
func (c *Controller) post(fn func()) bool {
	select {
	case c.ops <- fn:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// do runs fn on the loop and waits for it.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	var err error
	done := make(chan struct{})
	if !c.post(func() {
		err = fn()
		close(done)
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// effect queues a blocking frame/host operation behind earlier ones.
func (c *Controller) effect(name string, run func(ctx context.Context) error) {
	select {
	case c.effects <- effect{name: name, run: run}:
	case <-c.ctx.Done():
	}
}

func (c *Controller) emit(ev Event) {
	live := c.subs[:0]
	for _, s := range c.subs {
		if s.enqueue(ev) {
			live = append(live, s)
		}
	}
	c.subs = live
}

// Subscribe registers fn for outward events until the subscription or the
// controller is closed.
func (c *Controller) Subscribe(ctx context.Context, fn func(Event)) (*Subscription, error) {
	s := newSubscription(fn)
	err := c.do(ctx, func() error {
		s.start(&c.delivery)
		c.subs = append(c.subs, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Navigate requests url as of timestamp. Repeating the committed position
// is a no-op.
func (c *Controller) Navigate(ctx context.Context, url, timestamp string) error {
	return c.do(ctx, func() error {
		c.navigate(url, timestamp)
		return nil
	})
}

// SubmitURL navigates to a raw URL typed by the user, keeping the current
// target timestamp.
func (c *Controller) SubmitURL(ctx context.Context, raw string) error {
	return c.do(ctx, func() error {
		c.navigate(strings.TrimSpace(raw), c.nav.target.Timestamp)
		return nil
	})
}

// Refresh reloads the frame in place.
func (c *Controller) Refresh(ctx context.Context, force bool) error {
	return c.do(ctx, func() error {
		c.refresh(force)
		return nil
	})
}

// ToggleFullscreen asks the host to enter or leave fullscreen. The flag only
// changes when the host reports it through FullscreenChanged.
func (c *Controller) ToggleFullscreen(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.host == nil {
			return ErrNoHost
		}
		exit := c.fullscreen
		c.effect("fullscreen", func(ctx context.Context) error {
			if exit {
				return c.host.ExitFullscreen(ctx)
			}
			return c.host.RequestFullscreen(ctx)
		})
		return nil
	})
}

// FullscreenChanged is the host's fullscreen-change signal.
func (c *Controller) FullscreenChanged(active bool) {
	c.post(func() {
		if c.fullscreen == active {
			return
		}
		c.fullscreen = active
		c.emit(FullscreenChanged{Active: active})
	})
}

// SubmitCredentials applies fresh credentials for the open prompt.
func (c *Controller) SubmitCredentials(ctx context.Context, headers map[string]string) error {
	return c.do(ctx, func() error {
		return c.submitCredentials(headers)
	})
}

// DismissAuth closes the credential prompt.
func (c *Controller) DismissAuth(ctx context.Context) error {
	return c.do(ctx, c.dismissPrompt)
}

// SetCollection switches the active collection and source. Any prompt or
// outstanding credential update for the previous collection is dropped.
// Setting the current collection and source again changes nothing.
func (c *Controller) SetCollection(ctx context.Context, info *CollectionInfo, sourceURL string) error {
	return c.do(ctx, func() error {
		if c.sameCollection(info, sourceURL) {
			return nil
		}
		c.resetAuth()
		if c.applyCollection(info, sourceURL) {
			c.remount()
		}
		return nil
	})
}

// State returns a snapshot of the controller state.
func (c *Controller) State(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.do(ctx, func() error {
		snap = Snapshot{
			Target:     c.nav.target,
			Replay:     c.nav.replay,
			SourceURL:  c.sourceURL,
			Authable:   c.authable,
			Reauth:     c.auth.state,
			PromptOpen: c.auth.promptOpen,
			Fullscreen: c.fullscreen,
		}
		if c.coll != nil {
			info := *c.coll
			snap.Collection = &info
		}
		return nil
	})
	return snap, err
}

func (c *Controller) sameCollection(info *CollectionInfo, sourceURL string) bool {
	if sourceURL != c.sourceURL || (info == nil) != (c.coll == nil) {
		return false
	}
	return info == nil || *info == *c.coll
}

// applyCollection reports whether the frame source changed.
func (c *Controller) applyCollection(info *CollectionInfo, sourceURL string) bool {
	c.sourceURL = sourceURL
	c.authable = Authable(sourceURL, info)
	prefix := ""
	if info != nil {
		cp := *info
		c.coll = &cp
		prefix = cp.ReplayPrefix
	} else {
		c.coll = nil
	}
	return c.nav.setPrefix(prefix)
}

func (c *Controller) navigate(url, timestamp string) {
	if !c.nav.setTarget(url, timestamp) {
		c.log.Debug("target unchanged", zap.String("url", url), zap.String("ts", timestamp))
		return
	}
	c.remount()
}

// remount points the frame at the committed FrameSource.
func (c *Controller) remount() {
	src := c.nav.replay.FrameSource
	if src == "" {
		c.sender = ""
		c.clearLoading()
		c.effect("unmount", func(ctx context.Context) error {
			return c.frame.Unmount(ctx)
		})
		return
	}

	sender := uuid.NewString()
	c.sender = sender
	c.log.Debug("mounting frame", zap.String("src", src), zap.String("sender", sender))
	c.effect("mount", func(ctx context.Context) error {
		return c.frame.Mount(ctx, sender, src)
	})
	c.beginLoadWait()
}

// Package browser hosts the replay frame in Chrome over the DevTools
// protocol. The Driver owns one host page served from the backend origin;
// each mount swaps the iframe inside it.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"replayctl/internal/replay"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

var (
	ErrNotStarted       = errors.New("browser: driver not started")
	ErrFrameUnreachable = errors.New("browser: replay frame not reachable")
)

// Config holds browser configuration.
type Config struct {
	// BaseURL is the backend origin; frame sources are resolved against it.
	BaseURL           string
	DebuggerURL       string
	Launch            []string
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://localhost:9990",
		ViewportWidth:     1280,
		ViewportHeight:    800,
		NavigationTimeout: 30 * time.Second,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1280
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 800
	}
	return c.ViewportHeight
}

// GetNavigationTimeout returns the navigation timeout.
func (c Config) GetNavigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

// Driver implements replay.Frame and replay.Host on a Chrome page.
type Driver struct {
	cfg Config
	log *zap.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	page       *rod.Page
	controlURL string
	launched   bool
	sink       Sink

	stopEvents context.CancelFunc
	eventsDone chan struct{}
}

var (
	_ replay.Frame = (*Driver)(nil)
	_ replay.Host  = (*Driver)(nil)
)

// New creates a driver. Start must be called before use.
func New(cfg Config, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{cfg: cfg, log: logger}
}

// SetSink sets where host page reports go. Reports arriving with no sink
// are dropped.
func (d *Driver) SetSink(sink Sink) {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
}

// Start connects to an existing Chrome or launches a new one, then opens
// the host page. ctx bounds the browser connection, not just the call.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		if _, err := d.browser.Version(); err == nil {
			return nil
		}
		d.log.Warn("stale browser connection detected, reconnecting")
		d.closeLocked()
	}

	controlURL, launched, err := d.resolveControlURL()
	if err != nil {
		return err
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := d.openHostPage(ctx, browser)
	if err != nil {
		_ = browser.Close()
		return err
	}

	d.browser = browser
	d.page = page
	d.controlURL = controlURL
	d.launched = launched
	d.startEventStream(ctx, page)

	d.log.Info("browser ready",
		zap.String("control_url", controlURL),
		zap.Bool("launched", launched),
		zap.String("target", string(page.TargetID)))
	return nil
}

func (d *Driver) resolveControlURL() (string, bool, error) {
	if d.cfg.DebuggerURL != "" {
		return d.cfg.DebuggerURL, false, nil
	}

	launch := launcher.New().Headless(d.cfg.Headless)
	if len(d.cfg.Launch) > 0 {
		launch = launch.Bin(d.cfg.Launch[0])
		for _, rawFlag := range d.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
	}
	url, err := launch.Launch()
	if err != nil {
		return "", false, fmt.Errorf("launch chrome: %w", err)
	}
	return url, true, nil
}

func (d *Driver) openHostPage(ctx context.Context, browser *rod.Browser) (*rod.Page, error) {
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.GetViewportWidth(),
		Height:            d.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		d.log.Warn("failed to set viewport", zap.Error(err))
	}

	for _, name := range []string{bindingFrame, bindingBroadcast, bindingFullscreen} {
		if err := (proto.RuntimeAddBinding{Name: name}).Call(page); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("add binding %s: %w", name, err)
		}
	}

	nav := page.Context(ctx).Timeout(d.cfg.GetNavigationTimeout())
	if err := nav.Navigate(d.resolve("/")); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("navigate host page: %w", err)
	}
	if err := nav.WaitLoad(); err != nil {
		d.log.Debug("host page load wait failed", zap.Error(err))
	}
	if err := page.SetDocumentContent(hostHTML); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("write host page: %w", err)
	}
	if _, err := page.Context(ctx).Evaluate(rod.Eval(bridgeJS)); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("install bridge: %w", err)
	}
	return page, nil
}

func (d *Driver) startEventStream(ctx context.Context, page *rod.Page) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	d.stopEvents = cancel
	d.eventsDone = done

	wait := page.Context(ctx).EachEvent(func(ev *proto.RuntimeBindingCalled) {
		d.mu.RLock()
		sink := d.sink
		d.mu.RUnlock()
		if sink == nil {
			return
		}
		if err := dispatch(sink, ev.Name, ev.Payload); err != nil {
			d.log.Debug("binding call dropped", zap.String("binding", ev.Name), zap.Error(err))
		}
	})

	go func() {
		defer close(done)
		wait()
	}()
}

// resolve joins a frame source path onto the backend origin.
func (d *Driver) resolve(src string) string {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}
	return strings.TrimRight(d.cfg.BaseURL, "/") + "/" + strings.TrimLeft(src, "/")
}

func (d *Driver) hostPage(ctx context.Context) (*rod.Page, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.page == nil {
		return nil, ErrNotStarted
	}
	return d.page.Context(ctx), nil
}

// Mount replaces the frame document with src.
func (d *Driver) Mount(ctx context.Context, sender, src string) error {
	page, err := d.hostPage(ctx)
	if err != nil {
		return err
	}
	if _, err := page.Evaluate(rod.Eval(mountJS, sender, d.resolve(src))); err != nil {
		return fmt.Errorf("mount frame: %w", err)
	}
	d.log.Debug("frame mounted", zap.String("sender", sender), zap.String("src", src))
	return nil
}

// Unmount removes the frame.
func (d *Driver) Unmount(ctx context.Context) error {
	page, err := d.hostPage(ctx)
	if err != nil {
		return err
	}
	if _, err := page.Evaluate(rod.Eval(mountJS, "", "")); err != nil {
		return fmt.Errorf("unmount frame: %w", err)
	}
	return nil
}

// Reload reloads the frame document in place.
func (d *Driver) Reload(ctx context.Context) error {
	page, err := d.hostPage(ctx)
	if err != nil {
		return err
	}
	res, err := page.Evaluate(rod.Eval(reloadJS))
	if err != nil {
		return fmt.Errorf("reload frame: %w", err)
	}
	if !res.Value.Bool() {
		return ErrFrameUnreachable
	}
	return nil
}

// Inspect reports the frame document state.
func (d *Driver) Inspect(ctx context.Context) (replay.FrameStatus, error) {
	page, err := d.hostPage(ctx)
	if err != nil {
		return replay.FrameStatus{}, err
	}
	res, err := page.Evaluate(rod.Eval(inspectJS))
	if err != nil {
		return replay.FrameStatus{}, fmt.Errorf("inspect frame: %w", err)
	}
	return parseInspect(res.Value.Str())
}

func parseInspect(raw string) (replay.FrameStatus, error) {
	var r inspectResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return replay.FrameStatus{}, fmt.Errorf("decode inspect result: %w", err)
	}
	if r.Missing {
		return replay.FrameStatus{}, ErrFrameUnreachable
	}
	return replay.FrameStatus{ReadyState: r.Ready, RuntimeActive: r.Runtime}, nil
}

// RequestFullscreen puts the frame host element into fullscreen.
func (d *Driver) RequestFullscreen(ctx context.Context) error {
	page, err := d.hostPage(ctx)
	if err != nil {
		return err
	}
	if _, err := page.Evaluate(rod.Eval(requestFullscreenJS).ByUser()); err != nil {
		return fmt.Errorf("request fullscreen: %w", err)
	}
	return nil
}

// ExitFullscreen leaves fullscreen.
func (d *Driver) ExitFullscreen(ctx context.Context) error {
	page, err := d.hostPage(ctx)
	if err != nil {
		return err
	}
	if _, err := page.Evaluate(rod.Eval(exitFullscreenJS).ByUser()); err != nil {
		return fmt.Errorf("exit fullscreen: %w", err)
	}
	return nil
}

// ControlURL returns the WebSocket debugger URL.
func (d *Driver) ControlURL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.controlURL
}

// Shutdown closes the host page, and the browser when this driver
// launched it.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	err := d.closeLocked()
	done := d.eventsDone
	d.eventsDone = nil
	d.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (d *Driver) closeLocked() error {
	if d.stopEvents != nil {
		d.stopEvents()
		d.stopEvents = nil
	}
	var err error
	if d.page != nil {
		err = d.page.Close()
		d.page = nil
	}
	if d.browser != nil {
		if d.launched {
			if cerr := d.browser.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		d.browser = nil
	}
	d.controlURL = ""
	d.launched = false
	return err
}

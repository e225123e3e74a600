package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"replayctl/cmd/replayctl/ui"
	"replayctl/internal/archive"
	"replayctl/internal/broadcast"
	"replayctl/internal/browser"
	"replayctl/internal/config"
	"replayctl/internal/credentials"
	"replayctl/internal/history"
	"replayctl/internal/logging"
	"replayctl/internal/replay"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	replayTimestamp string
	replayColl      string
	replaySource    string
	replayPrefix    string
	replayOnDemand  bool
	replayEmbed     string
	replayNoUI      bool
	replayResume    bool
)

var replayCmd = &cobra.Command{
	Use:   "replay [url]",
	Short: "Open a replay session",
	Long: `Opens the replay frame for a collection and keeps it in sync.

The URL is replayed as of --ts (1 to 14 digits of YYYYMMDDhhmmss; empty means
the latest capture). Without a URL the frame stays empty until one is entered
in the replay bar, unless --resume picks up the last recorded location.

Examples:
  replayctl replay --coll my-archive https://example.com/
  replayctl replay --coll my-archive --ts 2022 https://example.com/about
  replayctl replay --resume`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayTimestamp, "ts", "", "Capture timestamp (YYYYMMDDhhmmss prefix)")
	replayCmd.Flags().StringVar(&replayColl, "coll", "", "Collection id (default: replay.collection)")
	replayCmd.Flags().StringVar(&replaySource, "source", "", "Collection source URL (default: from the backend listing)")
	replayCmd.Flags().StringVar(&replayPrefix, "prefix", "", "Replay prefix template, {coll} is substituted")
	replayCmd.Flags().BoolVar(&replayOnDemand, "on-demand", false, "Collection is loaded on demand")
	replayCmd.Flags().StringVar(&replayEmbed, "embed", "", "Embed mode: default or replayonly")
	replayCmd.Flags().BoolVar(&replayNoUI, "no-ui", false, "Run without the replay bar")
	replayCmd.Flags().BoolVar(&replayResume, "resume", false, "Resume the most recent history location")
}

func replayShowsBar() bool {
	embed := replayEmbed
	if embed == "" && cfg != nil {
		embed = cfg.Replay.Embed
	}
	return !replayNoUI && embed != "replayonly"
}

// applyReplayFlags overlays explicitly set flags on the config.
func applyReplayFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("coll") {
		c.Replay.Collection = replayColl
	}
	if flags.Changed("source") {
		c.Replay.SourceURL = replaySource
	}
	if flags.Changed("prefix") {
		c.Replay.PrefixTemplate = replayPrefix
	}
	if flags.Changed("on-demand") {
		c.Replay.OnDemand = replayOnDemand
	}
	if flags.Changed("embed") {
		c.Replay.Embed = replayEmbed
	}
}

// replaySession is everything one replay command wires together.
type replaySession struct {
	cfg     *config.Config
	client  *archive.Client
	driver  *browser.Driver
	ctrl    *replay.Controller
	store   *history.Store
	watcher *credentials.Watcher
	subs    []*replay.Subscription
}

func runReplay(cmd *cobra.Command, args []string) error {
	applyReplayFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	boot := logs.Get(logging.CategoryBoot)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &replaySession{cfg: cfg}
	defer s.close(boot)

	target, timestamp := "", replayTimestamp
	if len(args) > 0 {
		target = args[0]
	}

	if cfg.History.Enabled {
		store, err := history.NewStore(cfg.History.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		s.store = store
		if replayResume && target == "" {
			if last, err := store.Latest(ctx); err == nil {
				target, timestamp = last.URL, last.Timestamp
				if cfg.Replay.Collection == "" {
					cfg.Replay.Collection = last.Collection
				}
				boot.Info("resuming", zap.String("url", last.URL), zap.String("coll", last.Collection))
			} else if !errors.Is(err, history.ErrNoEntry) {
				return err
			}
		}
	}

	if cfg.Replay.Collection == "" {
		return errors.New("no collection: pass --coll or set replay.collection")
	}

	client, err := archive.NewClient(cfg.APIURL(), cfg.GetBackendTimeout(), logs.Get(logging.CategoryArchive))
	if err != nil {
		return err
	}
	s.client = client

	s.driver = browser.New(browser.Config{
		BaseURL:           cfg.Backend.BaseURL,
		DebuggerURL:       cfg.Browser.DebuggerURL,
		Launch:            cfg.Browser.LaunchArgs,
		Headless:          cfg.Browser.Headless,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		NavigationTimeout: cfg.GetNavigationTimeout(),
	}, logs.Get(logging.CategoryBrowser))
	if err := s.driver.Start(ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}

	var parent replay.Parent
	if cfg.IsEmbedded() {
		parent = newJSONParent(os.Stdout)
	}
	coll := cfg.Replay.Collection
	s.ctrl, err = replay.New(ctx, replay.Options{
		Collection:   s.collectionInfo(),
		SourceURL:    cfg.Replay.SourceURL,
		Frame:        s.driver,
		Host:         s.driver,
		Parent:       parent,
		Credentials:  client,
		PollInterval: cfg.GetPollInterval(),
		LoadTimeout:  cfg.GetLoadTimeout(),
		Logger:       logs.Get(logging.CategoryReplay),
	})
	if err != nil {
		return err
	}
	s.driver.SetSink(s.ctrl)

	if err := s.attachHistory(ctx, coll); err != nil {
		return err
	}
	if err := s.attachCredentials(ctx); err != nil {
		return err
	}
	if !replayShowsBar() && !cfg.IsEmbedded() {
		if err := s.attachEventLog(ctx); err != nil {
			return err
		}
	}

	if target != "" {
		if err := s.ctrl.Navigate(ctx, target, timestamp); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.resolveCollection(gctx, boot); err != nil && gctx.Err() == nil {
			boot.Warn("collection source not applied", zap.Error(err))
		}
		return nil
	})
	if cfg.Broadcast.Enabled && cfg.Broadcast.URL != "" {
		sub := broadcast.New(broadcast.Config{
			URL:               cfg.Broadcast.URL,
			ReconnectAttempts: cfg.Broadcast.ReconnectAttempts,
			ReconnectDelay:    cfg.GetReconnectDelay(),
		}, logs.Get(logging.CategoryBroadcast))
		g.Go(func() error {
			if err := sub.Run(gctx, s.ctrl.DeliverBroadcast); err != nil {
				logs.Get(logging.CategoryBroadcast).Warn("broadcast unavailable", zap.Error(err))
			}
			return nil
		})
	}
	if replayShowsBar() {
		g.Go(func() error {
			defer cancel()
			opts := []tea.ProgramOption{tea.WithAltScreen()}
			if cfg.IsEmbedded() {
				opts = append(opts, tea.WithOutput(os.Stderr))
			}
			return ui.Run(gctx, s.ctrl, opts...)
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	boot.Info("replay session started",
		zap.String("coll", coll),
		zap.String("control_url", s.driver.ControlURL()))
	return g.Wait()
}

func (s *replaySession) collectionInfo() *replay.CollectionInfo {
	coll := s.cfg.Replay.Collection
	return &replay.CollectionInfo{
		ID:           coll,
		ReplayPrefix: s.cfg.ReplayPrefix(coll),
		OnDemand:     s.cfg.Replay.OnDemand,
	}
}

// resolveCollection looks up the source and on-demand flag in the backend
// listing when no source was given, and applies them to the controller.
func (s *replaySession) resolveCollection(ctx context.Context, log *zap.Logger) error {
	if s.cfg.Replay.SourceURL != "" {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, s.cfg.GetBackendTimeout())
	defer cancel()
	colls, err := s.client.List(lctx)
	if err != nil {
		return fmt.Errorf("collection listing unavailable: %w", err)
	}
	found, ok := lo.Find(colls, func(c archive.Collection) bool {
		return c.ID == s.cfg.Replay.Collection
	})
	if !ok {
		log.Warn("collection not in listing", zap.String("coll", s.cfg.Replay.Collection))
		return nil
	}
	info := s.collectionInfo()
	info.OnDemand = info.OnDemand || found.OnDemand
	log.Debug("collection resolved",
		zap.String("coll", found.ID),
		zap.String("source", found.SourceURL),
		zap.Bool("on_demand", info.OnDemand))
	return s.ctrl.SetCollection(ctx, info, found.SourceURL)
}

func (s *replaySession) attachHistory(ctx context.Context, coll string) error {
	if s.store == nil {
		return nil
	}
	log := logs.Get(logging.CategoryHistory)
	rec := history.NewRecorder(s.store, coll, log)
	sub, err := rec.Attach(ctx, s.ctrl)
	if err != nil {
		return err
	}
	log.Info("recording history",
		zap.String("session", rec.SessionID()),
		zap.String("db", s.store.Path()))
	s.subs = append(s.subs, sub)
	return nil
}

// attachCredentials watches the headers file. Changes are submitted
// directly; when a prompt opens, headers loaded since the last automatic
// submission are offered once.
func (s *replaySession) attachCredentials(ctx context.Context) error {
	path := s.cfg.Credentials.HeadersFile
	if path == "" {
		return nil
	}
	log := logs.Get(logging.CategoryCredentials)

	// offered is the watcher load count last handed to the controller.
	var (
		w       *credentials.Watcher
		offered atomic.Int64
	)
	submit := func(ctx context.Context, headers map[string]string) error {
		loads := w.Loads()
		if err := s.ctrl.SubmitCredentials(ctx, headers); err != nil {
			return err
		}
		offered.Store(int64(loads))
		return nil
	}
	w, err := credentials.NewWatcher(path, s.cfg.GetCredentialsDebounce(), submit, log)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w

	sub, err := s.ctrl.Subscribe(ctx, func(ev replay.Event) {
		prompt, ok := ev.(replay.AuthPromptChanged)
		if !ok || !prompt.Open {
			return
		}
		headers, ok := w.Latest()
		if !ok || int64(w.Loads()) == offered.Load() {
			return
		}
		if err := submit(ctx, headers); err != nil {
			log.Debug("stored headers not submitted", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// attachEventLog logs controller events when no bar shows them.
func (s *replaySession) attachEventLog(ctx context.Context) error {
	log := logs.Get(logging.CategoryUI)
	sub, err := s.ctrl.Subscribe(ctx, func(ev replay.Event) {
		switch e := ev.(type) {
		case replay.NavigationChanged:
			log.Info(e.Name(), zap.String("url", e.URL), zap.String("ts", e.Timestamp))
		case replay.TitleChanged:
			log.Info(e.Name(), zap.String("title", e.Title))
		case replay.AuthPromptChanged:
			log.Warn(e.Name(), zap.Bool("open", e.Open), zap.String("coll", e.CollectionID))
		default:
			log.Debug(ev.Name())
		}
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *replaySession) close(log *zap.Logger) {
	for _, sub := range s.subs {
		sub.Close()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.ctrl != nil {
		_ = s.ctrl.Close()
	}
	if s.driver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.driver.Shutdown(ctx); err != nil {
			log.Warn("browser shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

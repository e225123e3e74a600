package replay

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func loadMsg(url, ts, title string) []byte {
	return []byte(`{"wb_type":"load","url":"` + url + `","ts":"` + ts + `","title":"` + title + `"}`)
}

func TestNew_RequiresFrame(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestNavigate_FrameSourceFollowsCommittedTarget(t *testing.T) {
	frame := &fakeFrame{}
	c, _ := newTestController(t, Options{Frame: frame})
	ctx := context.Background()

	steps := []NavigationTarget{
		{URL: "https://example.com/"},
		{URL: "https://example.com/", Timestamp: "20230101000000"},
		{URL: "https://other.org/a", Timestamp: "2019"},
		{URL: "https://example.com/"},
	}
	for i, step := range steps {
		require.NoError(t, c.Navigate(ctx, step.URL, step.Timestamp))
		snap := state(t, c)
		assert.Equal(t, FrameSource(testPrefix, step.Timestamp, step.URL), snap.Replay.FrameSource)
		assert.True(t, snap.Replay.IsLoading)

		m := waitMount(t, frame, i+1)
		assert.Equal(t, snap.Replay.FrameSource, m.src)
	}
}

func TestNavigate_ScenarioFrameSources(t *testing.T) {
	c, _ := newTestController(t, Options{})
	ctx := context.Background()

	require.NoError(t, c.Navigate(ctx, "https://example.com/", ""))
	assert.Equal(t, "/replay/mp_/https://example.com/", state(t, c).Replay.FrameSource)

	require.NoError(t, c.Navigate(ctx, "https://example.com/", "20230101000000"))
	assert.Equal(t, "/replay/20230101000000mp_/https://example.com/", state(t, c).Replay.FrameSource)
}

func TestNavigate_SameTargetIsIdempotent(t *testing.T) {
	frame := &fakeFrame{}
	c, events := newTestController(t, Options{Frame: frame})
	ctx := context.Background()

	require.NoError(t, c.Navigate(ctx, "https://example.com/", "2020"))
	waitMount(t, frame, 1)
	before := state(t, c)
	c.pollGenForTest(t, func(gen uint64) { assert.Equal(t, uint64(1), gen) })

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Navigate(ctx, "https://example.com/", "2020"))
	}

	after := state(t, c)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("state changed on repeated target (-before +after):\n%s", diff)
	}
	c.pollGenForTest(t, func(gen uint64) { assert.Equal(t, uint64(1), gen, "poll must not restart") })
	assert.Equal(t, 1, frame.mountCount())
	require.Eventually(t, func() bool { return len(events.named("loading-changed")) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, events.named("loading-changed"), 1)
}

func TestNavigate_EmptyURLUnmounts(t *testing.T) {
	frame := &fakeFrame{}
	c, _ := newTestController(t, Options{Frame: frame})
	ctx := context.Background()

	require.NoError(t, c.Navigate(ctx, "https://example.com/", ""))
	require.NoError(t, c.Navigate(ctx, "", ""))

	snap := state(t, c)
	assert.Empty(t, snap.Replay.FrameSource)
	assert.False(t, snap.Replay.IsLoading)
	require.Eventually(t, func() bool {
		frame.mu.Lock()
		defer frame.mu.Unlock()
		return frame.unmounts == 1
	}, time.Second, 5*time.Millisecond)
}

func TestLoadMessage_CommitsConfirmedState(t *testing.T) {
	frame := &fakeFrame{}
	c, events := newTestController(t, Options{Frame: frame})
	ctx := context.Background()

	require.NoError(t, c.Navigate(ctx, "https://x.org/", ""))
	m := waitMount(t, frame, 1)
	require.True(t, state(t, c).Replay.IsLoading)

	c.DeliverFrameMessage(m.sender, loadMsg("https://x.org/", "20220101", "X"))

	snap := state(t, c)
	assert.Equal(t, "https://x.org/", snap.Replay.ReplayURL)
	assert.Equal(t, "20220101", snap.Replay.ReplayTimestamp)
	assert.Equal(t, "X", snap.Replay.Title)
	assert.False(t, snap.Replay.IsLoading)

	require.Eventually(t, func() bool { return len(events.named("navigation-changed")) == 1 }, time.Second, 5*time.Millisecond)
	nav := events.named("navigation-changed")[0].(NavigationChanged)
	assert.Equal(t, NavigationChanged{URL: "https://x.org/", Timestamp: "20220101", ReplaceHistory: true}, nav)

	// a second load while not loading still applies
	c.DeliverFrameMessage(m.sender, loadMsg("https://x.org/b", "20220102", ""))
	snap = state(t, c)
	assert.Equal(t, "https://x.org/b", snap.Replay.ReplayURL)
	assert.Equal(t, "X", snap.Replay.Title)
	assert.False(t, snap.Replay.IsLoading)
}

func TestNavigationChanged_NotEmittedBeforeConfirmation(t *testing.T) {
	frame := &fakeFrame{}
	c, events := newTestController(t, Options{Frame: frame})
	ctx := context.Background()

	require.NoError(t, c.Navigate(ctx, "https://x.org/", "2020"))
	m := waitMount(t, frame, 1)
	_ = state(t, c)
	assert.Empty(t, events.named("navigation-changed"))

	c.DeliverFrameMessage(m.sender, []byte(`{"wb_type":"replace-url","url":"https://x.org/","ts":"2020"}`))
	c.DeliverFrameMessage(m.sender, []byte(`{"wb_type":"replace-url","url":"https://x.org/","ts":"2020"}`))
	_ = state(t, c)
	require.Eventually(t, func() bool { return len(events.named("navigation-changed")) == 1 }, time.Second, 5*time.Millisecond)
}

func TestFrameMessages_StaleSenderIgnored(t *testing.T) {
	frame := &fakeFrame{}
	c, _ := newTestController(t, Options{Frame: frame})
	ctx := context.Background()

	require.NoError(t, c.Navigate(ctx, "https://a.org/", ""))
	old := waitMount(t, frame, 1)
	require.NoError(t, c.Navigate(ctx, "https://b.org/", ""))
	current := waitMount(t, frame, 2)
	require.NotEqual(t, old.sender, current.sender)

	before := state(t, c)
	c.DeliverFrameMessage(old.sender, loadMsg("https://a.org/", "2001", "Old"))
	c.DeliverFrameMessage(old.sender, []byte(`{"wb_type":"title","title":"Old"}`))
	c.DeliverFrameMessage("", loadMsg("https://evil.org/", "2001", "Evil"))

	after := state(t, c)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("stale sender changed state (-before +after):\n%s", diff)
	}
}

func TestTitleMessage_OnlyUpdatesTitle(t *testing.T) {
	frame := &fakeFrame{}
	c, events := newTestController(t, Options{Frame: frame})
	ctx := context.Background()

	require.NoError(t, c.Navigate(ctx, "https://x.org/", ""))
	m := waitMount(t, frame, 1)
	c.DeliverFrameMessage(m.sender, []byte(`{"wb_type":"title","title":"Hello"}`))

	snap := state(t, c)
	assert.Equal(t, "Hello", snap.Replay.Title)
	assert.True(t, snap.Replay.IsLoading, "title does not affect loading")
	assert.Equal(t, "https://x.org/", snap.Replay.ReplayURL)
	require.Eventually(t, func() bool { return len(events.named("title-changed")) == 1 }, time.Second, 5*time.Millisecond)
}

func TestFavicons_EmittedWithLoad(t *testing.T) {
	frame := &fakeFrame{}
	c, events := newTestController(t, Options{Frame: frame})

	require.NoError(t, c.Navigate(context.Background(), "https://x.org/", ""))
	m := waitMount(t, frame, 1)
	c.DeliverFrameMessage(m.sender, []byte(`{"wb_type":"load","url":"https://x.org/","ts":"1","icons":[{"href":"/f.ico","rel":"icon"}]}`))

	require.Eventually(t, func() bool { return len(events.named("favicons-discovered")) == 1 }, time.Second, 5*time.Millisecond)
	fav := events.named("favicons-discovered")[0].(FaviconsDiscovered)
	assert.JSONEq(t, `[{"href":"/f.ico","rel":"icon"}]`, string(fav.Icons))
}

func TestFavicons_AnyShapeCommitsLoad(t *testing.T) {
	frame := &fakeFrame{}
	c, events := newTestController(t, Options{Frame: frame})

	require.NoError(t, c.Navigate(context.Background(), "https://x.org/", ""))
	m := waitMount(t, frame, 1)
	c.DeliverFrameMessage(m.sender, []byte(`{"wb_type":"load","url":"https://x.org/","ts":"2020","title":"X","icons":["/favicon.ico"]}`))

	snap := state(t, c)
	assert.Equal(t, "2020", snap.Replay.ReplayTimestamp)
	assert.Equal(t, "X", snap.Replay.Title)
	assert.False(t, snap.Replay.IsLoading)

	c.DeliverFrameMessage(m.sender, []byte(`{"wb_type":"load","url":"https://x.org/b","ts":"2021","icons":[{"href":"/a.png","sizes":"32x32"}]}`))
	c.DeliverFrameMessage(m.sender, []byte(`{"wb_type":"load","url":"https://x.org/c","ts":"2022","icons":null}`))
	assert.Equal(t, "https://x.org/c", state(t, c).Replay.ReplayURL)

	require.Eventually(t, func() bool { return len(events.named("navigation-changed")) == 3 }, time.Second, 5*time.Millisecond)
	favs := events.named("favicons-discovered")
	require.Len(t, favs, 2, "null icons are not forwarded")
	assert.JSONEq(t, `["/favicon.ico"]`, string(favs[0].(FaviconsDiscovered).Icons))
	assert.JSONEq(t, `[{"href":"/a.png","sizes":"32x32"}]`, string(favs[1].(FaviconsDiscovered).Icons))
}

func TestLoadWait_ClearsWithinOnePollInterval(t *testing.T) {
	frame := &fakeFrame{}
	frame.setStatus(FrameStatus{ReadyState: "loading", RuntimeActive: true}, nil)
	c, _ := newTestController(t, Options{Frame: frame, PollInterval: 30 * time.Millisecond})

	start := time.Now()
	require.NoError(t, c.Navigate(context.Background(), "https://slow.org/", ""))
	require.Eventually(t, func() bool { return !state(t, c).Replay.IsLoading }, time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLoadWait_LoadedFrameClears(t *testing.T) {
	frame := &fakeFrame{}
	frame.setStatus(FrameStatus{ReadyState: "complete"}, nil)
	c, _ := newTestController(t, Options{Frame: frame, PollInterval: 10 * time.Millisecond})

	require.NoError(t, c.Navigate(context.Background(), "https://fast.org/", ""))
	require.Eventually(t, func() bool { return !state(t, c).Replay.IsLoading }, time.Second, 5*time.Millisecond)
}

func TestLoadWait_UnreachableFrameClears(t *testing.T) {
	frame := &fakeFrame{}
	frame.setStatus(FrameStatus{}, errUnreachable)
	c, _ := newTestController(t, Options{Frame: frame, PollInterval: 10 * time.Millisecond})

	require.NoError(t, c.Navigate(context.Background(), "https://gone.org/", ""))
	require.Eventually(t, func() bool { return !state(t, c).Replay.IsLoading }, time.Second, 5*time.Millisecond)
}

func TestLoadWait_ReplayRuntimeKeepsLoadingUntilFirstPoll(t *testing.T) {
	frame := &fakeFrame{}
	frame.setStatus(FrameStatus{ReadyState: "complete", RuntimeActive: true}, nil)
	c, _ := newTestController(t, Options{Frame: frame, PollInterval: 200 * time.Millisecond})

	require.NoError(t, c.Navigate(context.Background(), "https://x.org/", ""))
	time.Sleep(50 * time.Millisecond)
	assert.True(t, state(t, c).Replay.IsLoading)
	require.Eventually(t, func() bool { return !state(t, c).Replay.IsLoading }, 2*time.Second, 10*time.Millisecond)
}

func TestLoadWait_TimeoutNeverOutlastsPollInterval(t *testing.T) {
	frame := &fakeFrame{}
	frame.setStatus(FrameStatus{ReadyState: "loading", RuntimeActive: true}, nil)
	c, _ := newTestController(t, Options{Frame: frame, PollInterval: 30 * time.Millisecond, LoadTimeout: time.Hour})
	assert.Equal(t, 30*time.Millisecond, c.loadTimeout)

	start := time.Now()
	require.NoError(t, c.Navigate(context.Background(), "https://stuck.org/", ""))
	require.Eventually(t, func() bool { return !state(t, c).Replay.IsLoading }, time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRefresh(t *testing.T) {
	frame := &fakeFrame{}
	c, _ := newTestController(t, Options{Frame: frame})
	ctx := context.Background()

	require.NoError(t, c.Refresh(ctx, true))
	assert.Equal(t, 0, frame.reloadCount(), "nothing mounted, nothing to reload")

	require.NoError(t, c.Navigate(ctx, "https://x.org/", ""))
	m := waitMount(t, frame, 1)

	require.NoError(t, c.Refresh(ctx, false))
	_ = state(t, c)
	assert.Equal(t, 0, frame.reloadCount(), "unforced refresh while loading is skipped")

	require.NoError(t, c.Refresh(ctx, true))
	require.Eventually(t, func() bool { return frame.reloadCount() == 1 }, time.Second, 5*time.Millisecond)

	c.DeliverFrameMessage(m.sender, loadMsg("https://x.org/", "1", ""))
	require.NoError(t, c.Refresh(ctx, false))
	require.Eventually(t, func() bool { return frame.reloadCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, state(t, c).Replay.IsLoading)
	assert.Equal(t, 1, frame.mountCount(), "refresh keeps the navigation target")
}

func TestSubmitURL_KeepsTimestamp(t *testing.T) {
	frame := &fakeFrame{}
	c, _ := newTestController(t, Options{Frame: frame})
	ctx := context.Background()

	require.NoError(t, c.Navigate(ctx, "https://x.org/", "2015"))
	require.NoError(t, c.SubmitURL(ctx, "  https://y.org/page \n"))

	snap := state(t, c)
	assert.Equal(t, NavigationTarget{URL: "https://y.org/page", Timestamp: "2015"}, snap.Target)
	assert.Equal(t, "/replay/2015mp_/https://y.org/page", snap.Replay.FrameSource)
}

func TestToggleFullscreen_SignalIsSourceOfTruth(t *testing.T) {
	host := &fakeHost{}
	c, events := newTestController(t, Options{Host: host})
	ctx := context.Background()

	require.NoError(t, c.ToggleFullscreen(ctx))
	require.Eventually(t, func() bool { r, _ := host.counts(); return r == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, state(t, c).Fullscreen, "request alone does not flip the flag")

	c.FullscreenChanged(true)
	assert.True(t, state(t, c).Fullscreen)

	require.NoError(t, c.ToggleFullscreen(ctx))
	require.Eventually(t, func() bool { _, e := host.counts(); return e == 1 }, time.Second, 5*time.Millisecond)

	c.FullscreenChanged(false)
	c.FullscreenChanged(false)
	assert.False(t, state(t, c).Fullscreen)
	require.Eventually(t, func() bool { return len(events.named("fullscreen-changed")) == 2 }, time.Second, 5*time.Millisecond)
}

func TestToggleFullscreen_NoHost(t *testing.T) {
	c, _ := newTestController(t, Options{})
	assert.ErrorIs(t, c.ToggleFullscreen(context.Background()), ErrNoHost)
}

func TestEmbedded_ForwardsTitleChanges(t *testing.T) {
	frame := &fakeFrame{}
	parent := &fakeParent{}
	c, _ := newTestController(t, Options{Frame: frame, Parent: parent})
	ctx := context.Background()

	require.NoError(t, c.Navigate(ctx, "https://x.org/", ""))
	m := waitMount(t, frame, 1)
	c.DeliverFrameMessage(m.sender, loadMsg("https://x.org/", "2020", "X"))
	c.DeliverFrameMessage(m.sender, []byte(`{"wb_type":"title","title":"X"}`))
	c.DeliverFrameMessage(m.sender, []byte(`{"wb_type":"title","title":"Y"}`))

	require.Eventually(t, func() bool { return len(parent.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []TitleReport{
		{Title: "X", URL: "https://x.org/", Timestamp: "2020"},
		{Title: "Y", URL: "https://x.org/", Timestamp: "2020"},
	}, parent.all())
}

func TestClose_RejectsFurtherCalls(t *testing.T) {
	c, err := New(context.Background(), Options{Frame: &fakeFrame{}})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Navigate(context.Background(), "https://x.org/", ""), ErrClosed)
	_, err = c.State(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_WaitsForSubscriberCallbacks(t *testing.T) {
	frame := &fakeFrame{}
	c, err := New(context.Background(), Options{Frame: frame, PollInterval: time.Hour, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	var handled atomic.Int32
	sub, err := c.Subscribe(context.Background(), func(ev Event) {
		time.Sleep(20 * time.Millisecond)
		handled.Add(1)
	})
	require.NoError(t, err)

	require.NoError(t, c.Navigate(context.Background(), "https://x.org/", ""))
	m := waitMount(t, frame, 1)
	c.DeliverFrameMessage(m.sender, loadMsg("https://x.org/", "2020", "X"))
	_ = state(t, c)

	require.NoError(t, c.Close())
	select {
	case <-sub.Done():
	default:
		t.Fatal("subscription still delivering after Close returned")
	}
	// loading on, loading off, navigation, title
	assert.Equal(t, int32(4), handled.Load())
}

func TestSubscribe_AfterCloseFails(t *testing.T) {
	c, err := New(context.Background(), Options{Frame: &fakeFrame{}})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	sub, err := c.Subscribe(context.Background(), func(Event) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Nil(t, sub)
}

// pollGenForTest reads the poll generation on the loop.
func (c *Controller) pollGenForTest(t *testing.T, fn func(gen uint64)) {
	t.Helper()
	var gen uint64
	require.NoError(t, c.do(context.Background(), func() error {
		gen = c.pollGen
		return nil
	}))
	fn(gen)
}

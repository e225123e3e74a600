package replay

import (
	"encoding/json"
	"sync"
)

// Event is an outward notification emitted by the controller.
type Event interface {
	Name() string
}

// NavigationChanged is emitted once the frame confirms a new position.
type NavigationChanged struct {
	URL            string `json:"url"`
	Timestamp      string `json:"ts"`
	ReplaceHistory bool   `json:"replaceLoc"`
}

// FaviconsDiscovered carries the icons reported with a page load, unchanged.
type FaviconsDiscovered struct {
	Icons json.RawMessage `json:"icons"`
}

// TitleChanged is emitted when the replayed document title changes.
type TitleChanged struct {
	Title string `json:"title"`
}

// LoadingChanged tracks the loading indicator.
type LoadingChanged struct {
	Loading bool `json:"loading"`
}

// AuthPromptChanged is emitted when the credential prompt opens or closes.
type AuthPromptChanged struct {
	Open         bool   `json:"open"`
	CollectionID string `json:"coll"`
}

// FullscreenChanged mirrors the host's fullscreen-change signal.
type FullscreenChanged struct {
	Active bool `json:"active"`
}

func (NavigationChanged) Name() string  { return "navigation-changed" }
func (FaviconsDiscovered) Name() string { return "favicons-discovered" }
func (TitleChanged) Name() string       { return "title-changed" }
func (LoadingChanged) Name() string     { return "loading-changed" }
func (AuthPromptChanged) Name() string  { return "auth-prompt-changed" }
func (FullscreenChanged) Name() string  { return "fullscreen-changed" }

// Subscription delivers events, in emission order, to one callback on its
// own goroutine. Callbacks may call back into the controller.
type Subscription struct {
	fn func(Event)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	done   chan struct{}
}

func newSubscription(fn func(Event)) *Subscription {
	s := &Subscription{fn: fn, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// start launches delivery. wg is held until the delivery goroutine exits.
func (s *Subscription) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.run()
	}()
}

func (s *Subscription) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.fn(ev)
	}
}

// enqueue returns false once the subscription is closed.
func (s *Subscription) enqueue(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
	return true
}

// Close stops delivery after the events already queued.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

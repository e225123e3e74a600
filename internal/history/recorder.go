package history

import (
	"context"
	"errors"
	"time"

	"replayctl/internal/replay"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder writes a controller's navigation events into a Store.
type Recorder struct {
	store      *Store
	sessionID  string
	collection string
	timeout    time.Duration
	log        *zap.Logger
}

// NewRecorder creates a recorder with a fresh session id.
func NewRecorder(store *Store, collection string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		store:      store,
		sessionID:  uuid.NewString(),
		collection: collection,
		timeout:    5 * time.Second,
		log:        logger,
	}
}

// SessionID identifies this recorder's rows.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// Attach subscribes the recorder to c.
func (r *Recorder) Attach(ctx context.Context, c *replay.Controller) (*replay.Subscription, error) {
	return c.Subscribe(ctx, r.Handle)
}

// Handle records one controller event.
func (r *Recorder) Handle(ev replay.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	switch e := ev.(type) {
	case replay.NavigationChanged:
		entry, err := r.store.Record(ctx, r.sessionID, r.collection, e.URL, e.Timestamp, e.ReplaceHistory)
		if err != nil {
			r.log.Warn("failed to record navigation", zap.String("url", e.URL), zap.Error(err))
			return
		}
		r.log.Debug("navigation recorded", zap.String("entry", entry.ID), zap.String("url", e.URL))
	case replay.TitleChanged:
		if err := r.store.SetTitle(ctx, r.sessionID, e.Title); err != nil && !errors.Is(err, ErrNoEntry) {
			r.log.Warn("failed to record title", zap.Error(err))
		}
	}
}

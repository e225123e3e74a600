package replay

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ReauthState is the re-authentication state of a controller.
type ReauthState int

const (
	// ReauthNone means no prompt and no outstanding credential update.
	ReauthNone ReauthState = iota
	// ReauthPendingUser means the prompt is open, waiting for credentials.
	ReauthPendingUser
	// ReauthPendingRefresh means a credential update is in flight.
	ReauthPendingRefresh
)

func (s ReauthState) String() string {
	switch s {
	case ReauthNone:
		return "none"
	case ReauthPendingUser:
		return "pending_user"
	case ReauthPendingRefresh:
		return "pending_refresh"
	default:
		return fmt.Sprintf("ReauthState(%d)", int(s))
	}
}

// CredentialUpdater applies fresh delegated credentials to a collection.
type CredentialUpdater interface {
	UpdateAuth(ctx context.Context, collectionID string, headers map[string]string) error
}

type reauth struct {
	state      ReauthState
	promptOpen bool
	// epoch invalidates in-flight results when the collection changes.
	epoch     uint64
	coalesced int
	flight    singleflight.Group
}

// onAuthNeeded handles a backend auth-needed signal.
func (c *Controller) onAuthNeeded(m AuthNeededMessage) {
	if c.coll == nil || m.CollectionID != c.coll.ID {
		c.log.Debug("auth-needed for another collection ignored", zap.String("coll", m.CollectionID))
		return
	}
	if !c.authable {
		c.log.Info("auth needed but source cannot be re-authenticated",
			zap.String("coll", m.CollectionID), zap.String("source", c.sourceURL))
		return
	}

	switch c.auth.state {
	case ReauthPendingRefresh:
		c.auth.coalesced++
		c.log.Debug("auth-needed joined outstanding credential update", zap.Int("waiting", c.auth.coalesced))
	case ReauthPendingUser:
		c.log.Debug("auth prompt already open")
	case ReauthNone:
		c.auth.state = ReauthPendingUser
		c.auth.promptOpen = true
		c.log.Info("credentials needed", zap.String("coll", c.coll.ID))
		c.emit(AuthPromptChanged{Open: true, CollectionID: c.coll.ID})
	}
}

// submitCredentials starts the single outstanding credential update.
func (c *Controller) submitCredentials(headers map[string]string) error {
	if c.auth.state != ReauthPendingUser {
		return ErrNoPrompt
	}
	if c.creds == nil {
		return ErrNoCredentialUpdater
	}

	collID := c.coll.ID
	epoch := c.auth.epoch
	c.auth.state = ReauthPendingRefresh

	key := fmt.Sprintf("%s#%d", collID, epoch)
	ch := c.auth.flight.DoChan(key, func() (interface{}, error) {
		return nil, c.creds.UpdateAuth(c.ctx, collID, headers)
	})
	c.group.Go(func() error {
		select {
		case res := <-ch:
			c.post(func() { c.finishReauth(epoch, res.Err) })
		case <-c.ctx.Done():
		}
		return nil
	})
	return nil
}

func (c *Controller) finishReauth(epoch uint64, err error) {
	if epoch != c.auth.epoch {
		c.log.Debug("discarding superseded credential update")
		return
	}
	waiting := c.auth.coalesced
	c.auth.coalesced = 0

	if err != nil {
		c.log.Warn("credential update failed", zap.Error(err))
		if c.auth.promptOpen {
			c.auth.state = ReauthPendingUser
		} else {
			c.auth.state = ReauthNone
		}
		return
	}

	wasOpen := c.auth.promptOpen
	c.auth.state = ReauthNone
	c.auth.promptOpen = false
	c.log.Info("credentials applied", zap.Bool("refresh", wasOpen), zap.Int("joined", waiting))
	if wasOpen {
		c.refresh(true)
		c.emit(AuthPromptChanged{Open: false, CollectionID: c.coll.ID})
	}
}

// dismissPrompt closes the prompt. An in-flight update still completes but
// no longer refreshes the frame.
func (c *Controller) dismissPrompt() error {
	if !c.auth.promptOpen {
		return ErrNoPrompt
	}
	c.auth.promptOpen = false
	if c.auth.state == ReauthPendingUser {
		c.auth.state = ReauthNone
	}
	c.emit(AuthPromptChanged{Open: false, CollectionID: c.coll.ID})
	return nil
}

func (c *Controller) resetAuth() {
	wasOpen := c.auth.promptOpen
	c.auth.epoch++
	c.auth.state = ReauthNone
	c.auth.promptOpen = false
	c.auth.coalesced = 0
	if wasOpen {
		c.emit(AuthPromptChanged{Open: false})
	}
}

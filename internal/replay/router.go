package replay

import (
	"context"

	"go.uber.org/zap"
)

// DeliverFrameMessage routes a raw message posted by a frame document.
// sender identifies the mount that produced it; messages from any mount but
// the current one never touch state.
func (c *Controller) DeliverFrameMessage(sender string, raw []byte) {
	msg, err := DecodeFrameMessage(raw)
	if err != nil {
		c.log.Debug("undecodable frame message", zap.Error(err))
		return
	}
	c.post(func() { c.routeFrame(sender, msg) })
}

// DeliverBroadcast routes a raw message from the backend broadcast channel.
func (c *Controller) DeliverBroadcast(raw []byte) {
	msg, err := DecodeBroadcast(raw)
	if err != nil {
		c.log.Debug("undecodable broadcast", zap.Error(err))
		return
	}
	c.post(func() { c.routeBroadcast(msg) })
}

func (c *Controller) routeFrame(sender string, msg Message) {
	if sender == "" || sender != c.sender {
		c.log.Debug("message from stale frame dropped",
			zap.String("sender", sender), zap.String("type", string(msg.Type())))
		return
	}
	switch m := msg.(type) {
	case LoadMessage:
		c.applyPageReport(m.PageReport)
	case ReplaceURLMessage:
		c.applyPageReport(m.PageReport)
	case TitleMessage:
		c.setTitle(m.Title)
	case AuthNeededMessage, UnknownMessage:
		c.log.Debug("frame message ignored", zap.String("type", string(msg.Type())))
	default:
		c.log.Warn("unhandled frame message", zap.String("type", string(msg.Type())))
	}
}

func (c *Controller) routeBroadcast(msg Message) {
	switch m := msg.(type) {
	case AuthNeededMessage:
		c.onAuthNeeded(m)
	case LoadMessage, ReplaceURLMessage, TitleMessage, UnknownMessage:
		c.log.Debug("broadcast ignored", zap.String("type", string(msg.Type())))
	default:
		c.log.Warn("unhandled broadcast", zap.String("type", string(msg.Type())))
	}
}

// applyPageReport commits the frame's authoritative position.
func (c *Controller) applyPageReport(r PageReport) {
	prevTitle := c.nav.replay.Title
	c.nav.confirm(r.URL, r.Timestamp, r.Title)
	c.clearLoading()

	if hasIcons(r.Icons) {
		c.emit(FaviconsDiscovered{Icons: r.Icons})
	}

	pos := NavigationTarget{URL: r.URL, Timestamp: r.Timestamp}
	if pos.URL != "" && pos != c.lastNav {
		c.lastNav = pos
		c.emit(NavigationChanged{URL: pos.URL, Timestamp: pos.Timestamp, ReplaceHistory: true})
	}

	if c.nav.replay.Title != prevTitle {
		c.titleChanged()
	}
}

func (c *Controller) setTitle(title string) {
	if title == c.nav.replay.Title {
		return
	}
	c.nav.replay.Title = title
	c.titleChanged()
}

func (c *Controller) titleChanged() {
	c.emit(TitleChanged{Title: c.nav.replay.Title})
	if c.parent == nil {
		return
	}
	report := TitleReport{
		Title:     c.nav.replay.Title,
		URL:       c.nav.replay.ReplayURL,
		Timestamp: c.nav.replay.ReplayTimestamp,
	}
	c.effect("post-title", func(ctx context.Context) error {
		return c.parent.PostTitle(ctx, report)
	})
}

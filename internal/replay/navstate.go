// Package replay implements the replay session controller: it derives the
// frame address for an archived URL, watches the content frame load, routes
// frame and backend messages into a single navigation state, and runs the
// re-authentication handshake for on-demand collections.
//
// All state lives on one event loop goroutine owned by the Controller.
// Drivers and callers only ever post work into that loop.
package replay

import "strings"

// replayModifier is the replay-mode marker the backend expects between the
// capture timestamp and the archived URL.
const replayModifier = "mp_"

// delegatedScheme marks a source whose archive is fetched with delegated
// credentials at replay time.
const delegatedScheme = "googledrive://"

// NavigationTarget is the externally requested destination.
type NavigationTarget struct {
	URL       string `json:"url"`
	Timestamp string `json:"ts"`
}

// ReplayState is the frame-acknowledged navigation state.
type ReplayState struct {
	ReplayURL       string `json:"replay_url"`
	ReplayTimestamp string `json:"replay_ts"`
	Title           string `json:"title,omitempty"`
	FrameSource     string `json:"frame_source,omitempty"`
	IsLoading       bool   `json:"is_loading"`
}

// CollectionInfo identifies the collection being replayed.
type CollectionInfo struct {
	ID           string `json:"coll"`
	ReplayPrefix string `json:"replayPrefix"`
	OnDemand     bool   `json:"onDemand"`
}

// FrameSource builds the frame address for url as of timestamp. An empty
// timestamp selects the latest capture.
func FrameSource(replayPrefix, timestamp, url string) string {
	if url == "" {
		return ""
	}
	return replayPrefix + "/" + timestamp + replayModifier + "/" + url
}

// Authable reports whether the collection can ever need re-authentication.
func Authable(sourceURL string, info *CollectionInfo) bool {
	return info != nil && info.OnDemand && strings.HasPrefix(sourceURL, delegatedScheme)
}

// navState pairs the requested target with the committed replay state.
// It is only touched from the controller loop.
type navState struct {
	prefix string
	target NavigationTarget
	replay ReplayState
}

// setTarget records the requested target and commits it when it differs from
// the committed replay position. It reports whether FrameSource changed.
func (n *navState) setTarget(url, timestamp string) bool {
	n.target = NavigationTarget{URL: url, Timestamp: timestamp}
	if url == n.replay.ReplayURL && timestamp == n.replay.ReplayTimestamp {
		return false
	}
	n.replay.ReplayURL = url
	n.replay.ReplayTimestamp = timestamp
	n.replay.FrameSource = FrameSource(n.prefix, timestamp, url)
	return true
}

// setPrefix switches the replay prefix and recomputes FrameSource for the
// committed position. It reports whether FrameSource changed.
func (n *navState) setPrefix(prefix string) bool {
	if prefix == n.prefix {
		return false
	}
	n.prefix = prefix
	src := FrameSource(prefix, n.replay.ReplayTimestamp, n.replay.ReplayURL)
	if src == n.replay.FrameSource {
		return false
	}
	n.replay.FrameSource = src
	return true
}

// confirm applies the frame's own report of where it is. FrameSource keeps
// the address the frame was mounted with, so in-frame navigation never
// remounts the frame.
func (n *navState) confirm(url, timestamp, title string) {
	n.replay.ReplayURL = url
	n.replay.ReplayTimestamp = timestamp
	if title != "" {
		n.replay.Title = title
	}
}

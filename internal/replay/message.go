package replay

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType is the discriminator carried by inbound messages.
type MessageType string

const (
	TypeLoad       MessageType = "load"
	TypeReplaceURL MessageType = "replace-url"
	TypeTitle      MessageType = "title"
	TypeAuthNeeded MessageType = "authneeded"
)

// Message is the closed set of inbound messages. Only the types in this file
// implement it.
type Message interface {
	Type() MessageType
}

// PageReport is the payload shared by load and replace-url. Icons is the
// page's favicon list exactly as the frame sent it.
type PageReport struct {
	URL       string
	Timestamp string
	Title     string
	Icons     json.RawMessage
}

// LoadMessage reports that the frame finished loading a page.
type LoadMessage struct{ PageReport }

// ReplaceURLMessage reports an in-page URL change (history API).
type ReplaceURLMessage struct{ PageReport }

// TitleMessage reports a document title change.
type TitleMessage struct {
	Title string
}

// AuthNeededMessage is the backend's missing-credential signal.
type AuthNeededMessage struct {
	CollectionID string
}

// UnknownMessage carries any tag outside the closed set.
type UnknownMessage struct {
	Tag string
}

func (LoadMessage) Type() MessageType       { return TypeLoad }
func (ReplaceURLMessage) Type() MessageType { return TypeReplaceURL }
func (TitleMessage) Type() MessageType      { return TypeTitle }
func (AuthNeededMessage) Type() MessageType { return TypeAuthNeeded }
func (m UnknownMessage) Type() MessageType  { return MessageType(m.Tag) }

type frameWire struct {
	Type  string          `json:"wb_type"`
	URL   string          `json:"url"`
	TS    string          `json:"ts"`
	Title string          `json:"title"`
	Icons json.RawMessage `json:"icons"`
}

type broadcastWire struct {
	Type string `json:"type"`
	Coll string `json:"coll"`
}

// DecodeFrameMessage parses a message posted by the replay frame.
func DecodeFrameMessage(raw []byte) (Message, error) {
	var w frameWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode frame message: %w", err)
	}
	report := PageReport{URL: w.URL, Timestamp: w.TS, Title: w.Title, Icons: w.Icons}
	switch MessageType(w.Type) {
	case TypeLoad:
		return LoadMessage{report}, nil
	case TypeReplaceURL:
		return ReplaceURLMessage{report}, nil
	case TypeTitle:
		return TitleMessage{Title: w.Title}, nil
	default:
		return UnknownMessage{Tag: w.Type}, nil
	}
}

// hasIcons reports whether raw carries an icon list worth forwarding.
func hasIcons(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// DecodeBroadcast parses a message from the backend broadcast channel.
// Both "authneeded" and "auth-needed" are accepted.
func DecodeBroadcast(raw []byte) (Message, error) {
	var w broadcastWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode broadcast: %w", err)
	}
	switch w.Type {
	case string(TypeAuthNeeded), "auth-needed":
		return AuthNeededMessage{CollectionID: w.Coll}, nil
	default:
		return UnknownMessage{Tag: w.Type}, nil
	}
}

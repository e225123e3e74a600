package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"replayctl/internal/replay"
)

// jsonParent forwards title reports to the embedding process as one JSON
// object per line.
type jsonParent struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newJSONParent(w io.Writer) *jsonParent {
	return &jsonParent{enc: json.NewEncoder(w)}
}

type titleMessage struct {
	Type string `json:"wb_type"`
	replay.TitleReport
}

func (p *jsonParent) PostTitle(ctx context.Context, r replay.TitleReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(titleMessage{Type: "title", TitleReport: r})
}

package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Collection is one entry of the backend listing.
type Collection struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Filename  string `json:"filename,omitempty"`
	SourceURL string `json:"sourceUrl"`
	Ctime     int64  `json:"ctime,omitempty"` // unix millis
	Size      Bytes  `json:"size,omitempty"`
	OnDemand  bool   `json:"onDemand,omitempty"`
}

// DisplayTitle returns the title, falling back to the filename.
func (c Collection) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return c.Filename
}

// Created returns Ctime as a time, zero when unset.
func (c Collection) Created() time.Time {
	if c.Ctime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.Ctime)
}

// Bytes is a size that the backend sends either as a number or a string.
type Bytes int64

func (b *Bytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*b = 0
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", string(data), err)
	}
	*b = Bytes(n)
	return nil
}

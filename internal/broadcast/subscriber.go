// Package broadcast subscribes to the backend's broadcast channel, the
// out-of-band stream on which the backend announces that a collection
// needs fresh credentials.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config configures a Subscriber.
type Config struct {
	URL string
	// ReconnectAttempts bounds consecutive failed dials. Zero means 10.
	ReconnectAttempts uint
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
}

// Subscriber reads broadcast messages and hands them to a deliver func,
// reconnecting whenever the connection drops.
type Subscriber struct {
	cfg    Config
	dialer websocket.Dialer
	log    *zap.Logger

	connects atomic.Uint64
	received atomic.Uint64
}

// New creates a subscriber.
func New(cfg Config, logger *zap.Logger) *Subscriber {
	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = 10
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		log:    logger,
	}
}

// Run blocks until ctx is done or the backend stays unreachable for
// ReconnectAttempts dials in a row. deliver runs on Run's goroutine.
func (s *Subscriber) Run(ctx context.Context, deliver func(raw []byte)) error {
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = s.readLoop(ctx, conn, deliver)
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn("broadcast connection lost, reconnecting", zap.Error(err))
	}
}

func (s *Subscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	attempt := 0
	err := retry.New(
		retry.Attempts(s.cfg.ReconnectAttempts),
		retry.Delay(s.cfg.ReconnectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		attempt++
		c, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, http.Header{})
		if err != nil {
			if resp != nil {
				s.log.Debug("broadcast dial failed",
					zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode), zap.Error(err))
			} else {
				s.log.Debug("broadcast dial failed", zap.Int("attempt", attempt), zap.Error(err))
			}
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("broadcast connect to %s failed after %d attempts: %w", s.cfg.URL, attempt, err)
	}
	s.connects.Add(1)
	s.log.Info("broadcast connected", zap.String("url", s.cfg.URL), zap.Int("attempt", attempt))
	return conn, nil
}

func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn, deliver func([]byte)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return fmt.Errorf("closed by backend: %w", err)
			}
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.received.Add(1)
		deliver(data)
	}
}

// Stats reports how many connections and messages the subscriber has seen.
func (s *Subscriber) Stats() (connects, received uint64) {
	return s.connects.Load(), s.received.Load()
}

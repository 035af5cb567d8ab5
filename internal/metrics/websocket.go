package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var ErrBackoff = errors.New("metrics: live feed reconnect backing off")

// WebSocket reads snapshots pushed by a live feed. A dropped connection is
// redialled on a later call, at most once per redial interval.
type WebSocket struct {
	url     string
	dialer  *websocket.Dialer
	limiter *rate.Limiter

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocket(url string, redial time.Duration) *WebSocket {
	if redial <= 0 {
		redial = 5 * time.Second
	}
	return &WebSocket{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: 3 * time.Second},
		limiter: rate.NewLimiter(rate.Every(redial), 1),
	}
}

func (w *WebSocket) Next(ctx context.Context) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		if !w.limiter.Allow() {
			return Snapshot{}, ErrBackoff
		}
		conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
		if err != nil {
			return Snapshot{}, fmt.Errorf("dial metrics feed: %w", err)
		}
		log.Debug().Str("url", w.url).Msg("metrics feed connected")
		w.conn = conn
	}

	conn := w.conn
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			_ = w.conn.Close()
			w.conn = nil
			return Snapshot{}, fmt.Errorf("read metrics feed: %w", err)
		}
		// Only battery-bearing payloads are snapshots; anything else is chatter.
		var probe map[string]json.RawMessage
		if json.Unmarshal(data, &probe) != nil {
			continue
		}
		if _, ok := probe["battery"]; !ok {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		return snap, nil
	}
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

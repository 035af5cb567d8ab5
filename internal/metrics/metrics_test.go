package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomWalkStaysInBounds(t *testing.T) {
	w := NewRandomWalk(7)
	ctx := context.Background()
	prev := Baseline()
	for i := 0; i < 5000; i++ {
		snap, err := w.Next(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, snap.CPU, 5.0)
		assert.LessOrEqual(t, snap.CPU, 95.0)
		assert.GreaterOrEqual(t, snap.Memory, 20.0)
		assert.LessOrEqual(t, snap.Memory, 90.0)
		assert.GreaterOrEqual(t, snap.Battery, 10.0)
		assert.LessOrEqual(t, snap.Battery, prev.Battery)
		assert.LessOrEqual(t, abs(snap.CPU-prev.CPU), 5.0)
		prev = snap
	}
	assert.Equal(t, 10.0, prev.Battery, "battery drains to its floor")
}

func TestRandomWalkHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRandomWalk(1).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type failing struct{}

func (failing) Next(context.Context) (Snapshot, error) { return Snapshot{}, errors.New("offline") }

func TestFallbackUsesSimulatorWhenLiveFails(t *testing.T) {
	f := Fallback{Live: failing{}, Sim: NewRandomWalk(3)}
	snap, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Live)
	assert.Equal(t, "Pixel 9 Pro", snap.DeviceName)
}

func feedServer(t *testing.T, payloads ...string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, p := range payloads {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSocketReadsSnapshotsAndSkipsChatter(t *testing.T) {
	srv := feedServer(t, `{"hello":"world"}`, `not json`, `{"battery":55,"cpu":12.5,"deviceName":"Redmi"}`)
	ws := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), time.Second)
	defer ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := Fallback{Live: ws, Sim: NewRandomWalk(1)}.Next(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Live)
	assert.Equal(t, 55.0, snap.Battery)
	assert.Equal(t, "Redmi", snap.DeviceName)
}

func TestWebSocketBacksOffAfterFailedDial(t *testing.T) {
	ws := NewWebSocket("ws://127.0.0.1:1/metrics", time.Hour)
	_, err := ws.Next(context.Background())
	require.Error(t, err)
	_, err = ws.Next(context.Background())
	assert.ErrorIs(t, err, ErrBackoff)
}

func TestPollStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	done := make(chan struct{})
	go func() {
		defer close(done)
		Poll(ctx, NewRandomWalk(2), 5*time.Millisecond, func(Snapshot, error) {
			calls++
			if calls == 3 {
				cancel()
			}
		})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop")
	}
	assert.Equal(t, 3, calls)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Package stream correlates a dispatched operation with the event stream the
// backend opens for it. Each Subscribe call owns exactly one transport
// subscription and reports exactly one terminal event.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/krisshattanicole/kn3aux-code/internal/observability"
	"github.com/krisshattanicole/kn3aux-code/opconsole"
	"github.com/rs/zerolog/log"
)

const DefaultStallTimeout = 5 * time.Minute

var (
	ErrClosed           = errors.New("stream closed")
	ErrStalled          = errors.New("stream stalled")
	ErrTooManyMalformed = errors.New("too many malformed frames")
)

// TransportError ends a stream that broke before its complete frame.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type settings struct {
	stall        time.Duration
	maxMalformed int
}

func defaultSettings() settings {
	return settings{stall: DefaultStallTimeout}
}

// subscription is shared by every transport. The transport feeds payloads
// into deliver from a single goroutine and supplies release, which tears the
// transport down once the terminal event has been reported.
type subscription struct {
	id      string
	handler opconsole.StreamHandler
	cfg     settings

	mu        sync.Mutex
	ended     bool
	malformed int
	stall     *time.Timer
	stopCtx   func() bool
	release   func()
	done      chan struct{}
}

func newSubscription(id string, h opconsole.StreamHandler, cfg settings) *subscription {
	return &subscription{
		id:      id,
		handler: h,
		cfg:     cfg,
		done:    make(chan struct{}),
	}
}

// start arms the stall timer and binds the subscription to ctx. release
// must not block on the delivery goroutine. Frames may be delivered before
// start; a stream that already ended is released right away.
func (s *subscription) start(ctx context.Context, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		release()
		return
	}
	s.release = release
	if s.cfg.stall > 0 {
		s.stall = time.AfterFunc(s.cfg.stall, func() { s.finish(ErrStalled) })
	}
	s.stopCtx = context.AfterFunc(ctx, func() { _ = s.Close() })
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Done() <-chan struct{} {
	return s.done
}

// Close ends the subscription. Before the terminal event it reports
// ErrClosed to the handler; afterwards it does nothing.
func (s *subscription) Close() error {
	s.finish(ErrClosed)
	return nil
}

func (s *subscription) deliver(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.stall != nil {
		s.stall.Reset(s.cfg.stall)
	}

	frame, err := opconsole.DecodeFrame(payload)
	if err != nil {
		observability.RecordFrame("malformed")
		s.malformed++
		s.handler.Malformed(string(payload))
		if s.cfg.maxMalformed > 0 && s.malformed >= s.cfg.maxMalformed {
			s.finishLocked(fmt.Errorf("%w: %d in a row", ErrTooManyMalformed, s.malformed))
		}
		return
	}
	s.malformed = 0

	switch {
	case frame.Complete:
		observability.RecordFrame("complete")
		s.finishLocked(nil)
	case frame.Heartbeat:
		observability.RecordFrame("heartbeat")
	default:
		observability.RecordFrame("output")
		s.handler.Frame(frame.Output)
	}
}

func (s *subscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked(err)
}

func (s *subscription) finishLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	if s.stall != nil {
		s.stall.Stop()
	}
	if s.stopCtx != nil {
		s.stopCtx()
	}

	log.Debug().Str("stream_id", s.id).AnErr("reason", err).Msg("stream terminal")
	s.handler.Terminal(err)
	if s.release != nil {
		s.release()
	}
	close(s.done)
}

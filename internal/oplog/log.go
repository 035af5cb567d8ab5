// Package oplog holds the console's append-only operation log.
package oplog

import (
	"context"
	"sync"
	"time"

	"github.com/krisshattanicole/kn3aux-code/opconsole"
	"github.com/rs/zerolog/log"
)

// Journal persists entries beyond the console session.
type Journal interface {
	Record(ctx context.Context, entry opconsole.LogEntry) error
	Close() error
}

type Option func(*Log)

// WithCap bounds retained entries. The oldest entries are dropped first.
func WithCap(n int) Option {
	return func(l *Log) { l.cap = n }
}

func WithJournal(j Journal) Option {
	return func(l *Log) { l.journal = j }
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Log is safe for concurrent use. Entries are never mutated or reordered
// after Append.
type Log struct {
	mu       sync.Mutex
	entries  []opconsole.LogEntry
	seq      uint64
	cap      int
	journal  Journal
	now      func() time.Time
	watchers map[chan struct{}]struct{}

	// Entries waiting for the journal writer, in sequence order.
	pending []opconsole.LogEntry
	wake    chan struct{}
	written chan struct{}
}

func New(opts ...Option) *Log {
	l := &Log{
		now:      time.Now,
		watchers: make(map[chan struct{}]struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.journal != nil {
		l.wake = make(chan struct{}, 1)
		l.written = make(chan struct{})
		go l.writeJournal(l.journal)
	}
	return l
}

// Append stamps message with the capture time and adds it to the end. The
// journal is written in the background, in sequence order.
func (l *Log) Append(message string) opconsole.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	entry := opconsole.LogEntry{
		Seq:       l.seq,
		Timestamp: l.now(),
		Message:   message,
		Severity:  opconsole.InferSeverity(message),
	}
	l.entries = append(l.entries, entry)
	if l.cap > 0 && len(l.entries) > l.cap {
		trimmed := make([]opconsole.LogEntry, l.cap)
		copy(trimmed, l.entries[len(l.entries)-l.cap:])
		l.entries = trimmed
	}

	if l.journal != nil {
		l.pending = append(l.pending, entry)
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
	l.notifyLocked()
	return entry
}

func (l *Log) writeJournal(j Journal) {
	defer close(l.written)
	for {
		_, open := <-l.wake
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, entry := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := j.Record(ctx, entry); err != nil {
				log.Warn().Err(err).Uint64("seq", entry.Seq).Msg("journal write failed")
			}
			cancel()
		}
		if !open {
			return
		}
	}
}

// Clear replaces the log with an empty sequence. Sequence numbers keep
// increasing across clears.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.notifyLocked()
}

// Entries returns a snapshot copy.
func (l *Log) Entries() []opconsole.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]opconsole.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Since returns the entries with a sequence number above seq.
func (l *Log) Since(seq uint64) []opconsole.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []opconsole.LogEntry
	for _, e := range l.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Watch returns a channel signalled (coalesced) after every change and a
// function that stops the watch.
func (l *Log) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	l.watchers[ch] = struct{}{}
	l.mu.Unlock()
	return ch, func() {
		l.mu.Lock()
		delete(l.watchers, ch)
		l.mu.Unlock()
	}
}

func (l *Log) notifyLocked() {
	for ch := range l.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close flushes pending journal writes and releases the journal, if any.
func (l *Log) Close() error {
	l.mu.Lock()
	j := l.journal
	if j == nil {
		l.mu.Unlock()
		return nil
	}
	l.journal = nil
	close(l.wake)
	l.mu.Unlock()

	<-l.written
	return j.Close()
}

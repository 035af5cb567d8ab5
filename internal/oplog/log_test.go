package oplog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/krisshattanicole/kn3aux-code/internal/observability"
	"github.com/krisshattanicole/kn3aux-code/opconsole"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	base := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	var n int
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestAppendKeepsOrderAndStampsCaptureTime(t *testing.T) {
	l := New(WithClock(fixedClock()))
	first := l.Append("✓ Unlocking...")
	l.Append("erasing metadata")
	l.Append("erasing metadata")
	l.Append(opconsole.SentinelComplete)

	entries := l.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, "15:04:06", first.Clock())
	assert.Equal(t, opconsole.SeveritySuccess, entries[0].Severity)
	assert.Equal(t, "erasing metadata", entries[1].Message)
	assert.Equal(t, "erasing metadata", entries[2].Message, "duplicates are kept")
	assert.Equal(t, opconsole.SeveritySentinel, entries[3].Severity)
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].Seq, entries[i-1].Seq)
		assert.True(t, entries[i].Timestamp.After(entries[i-1].Timestamp))
	}
}

func TestEntriesIsSnapshot(t *testing.T) {
	l := New()
	l.Append("one")
	snap := l.Entries()
	snap[0].Message = "mutated"
	l.Append("two")
	assert.Equal(t, "one", l.Entries()[0].Message)
	assert.Len(t, snap, 1)
}

func TestClearEmptiesLog(t *testing.T) {
	l := New()
	l.Append("one")
	l.Clear()
	assert.Empty(t, l.Entries())
	e := l.Append("two")
	assert.Equal(t, uint64(2), e.Seq)
	assert.Len(t, l.Since(0), 1)
}

func TestCapDropsOldestOnly(t *testing.T) {
	l := New(WithCap(3))
	for i := 1; i <= 5; i++ {
		l.Append(fmt.Sprintf("line %d", i))
	}
	entries := l.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "line 3", entries[0].Message)
	assert.Equal(t, "line 5", entries[2].Message)
}

func TestWatchSignalsChanges(t *testing.T) {
	l := New()
	ch, stop := l.Watch()
	defer stop()

	l.Append("one")
	l.Append("two")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no change signal")
	}
	assert.Len(t, l.Since(1), 1)
}

func TestConcurrentAppendsAreAllKept(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Append(fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()
	entries := l.Entries()
	require.Len(t, entries, 200)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

type failingJournal struct{ closed bool }

func (f *failingJournal) Record(context.Context, opconsole.LogEntry) error {
	return errors.New("disk full")
}

func (f *failingJournal) Close() error {
	f.closed = true
	return nil
}

func TestJournalFailureDoesNotFailAppend(t *testing.T) {
	observability.ConfigureTests()
	j := &failingJournal{}
	l := New(WithJournal(j))
	l.Append("✓ ok")
	assert.Len(t, l.Entries(), 1)
	require.NoError(t, l.Close())
	assert.True(t, j.closed)
}

func TestSQLiteJournalPersistsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := OpenJournal(path, "session-1")
	require.NoError(t, err)

	l := New(WithJournal(j))
	l.Append("✓ Unlocking...")
	l.Append("erasing userdata")
	l.Append(opconsole.SentinelComplete)
	require.NoError(t, l.Close())

	reopened, err := OpenJournal(path, "session-2")
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "erasing userdata", records[0].Entry.Message)
	assert.Equal(t, opconsole.SentinelComplete, records[1].Entry.Message)
	assert.Equal(t, "session-1", records[1].Session)
	assert.Equal(t, uint64(3), records[1].Entry.Seq)
}

// gatedJournal blocks every Record until release is closed.
type gatedJournal struct {
	release chan struct{}
	mu      sync.Mutex
	seqs    []uint64
}

func (g *gatedJournal) Record(_ context.Context, e opconsole.LogEntry) error {
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seqs = append(g.seqs, e.Seq)
	return nil
}

func (g *gatedJournal) Close() error { return nil }

func TestSlowJournalDoesNotBlockReaders(t *testing.T) {
	j := &gatedJournal{release: make(chan struct{})}
	l := New(WithJournal(j))

	appended := make(chan struct{})
	go func() {
		defer close(appended)
		for i := 1; i <= 3; i++ {
			l.Append(fmt.Sprintf("line %d", i))
		}
	}()
	select {
	case <-appended:
	case <-time.After(time.Second):
		t.Fatal("append waited for the journal")
	}
	assert.Len(t, l.Entries(), 3)
	assert.Len(t, l.Since(1), 2)

	close(j.release)
	require.NoError(t, l.Close())
	assert.Equal(t, []uint64{1, 2, 3}, j.seqs, "journal keeps sequence order and is flushed on close")
}

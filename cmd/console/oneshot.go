package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/krisshattanicole/kn3aux-code/internal/confirm"
	"github.com/krisshattanicole/kn3aux-code/internal/console"
	"github.com/krisshattanicole/kn3aux-code/internal/oplog"
)

// runOnce mounts the console, runs one operation and prints every log entry
// as it is appended.
func runOnce(ctx context.Context, con *console.Console, opID, rawParams string, out io.Writer) error {
	params, err := parseParams(rawParams)
	if err != nil {
		return err
	}

	changed, cancel := con.Watch()
	defer cancel()
	var printed uint64
	flush := func() {
		for _, e := range con.Since(printed) {
			printed = e.Seq
			fmt.Fprintf(out, "[%s] %s\n", e.Clock(), e.Message)
		}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-changed:
				flush()
			case <-done:
				return
			}
		}
	}()

	con.Mount(ctx)
	err = con.Trigger(ctx, opID, params)
	close(done)
	<-exited
	flush()

	if errors.Is(err, confirm.ErrDeclined) {
		fmt.Fprintln(out, "cancelled")
		return nil
	}
	return err
}

func printHistory(ctx context.Context, path string, limit int, out io.Writer) error {
	if path == "" {
		return errors.New("no journal configured")
	}
	j, err := oplog.OpenJournal(path, "history")
	if err != nil {
		return err
	}
	defer j.Close()

	records, err := j.Recent(ctx, limit)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Fprintf(out, "%s %s %-8s %s\n",
			r.Entry.Timestamp.Format("2006-01-02 15:04:05"),
			shortSession(r.Session),
			r.Entry.Severity,
			r.Entry.Message)
	}
	return nil
}

func shortSession(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Package runner runs one operation at a time: dispatch, follow its stream,
// and record every outcome in the operation log.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/krisshattanicole/kn3aux-code/internal/observability"
	"github.com/krisshattanicole/kn3aux-code/opconsole"
	"github.com/rs/zerolog/log"
)

var (
	ErrBusy         = errors.New("operation in progress")
	ErrTornDown     = errors.New("runner torn down")
	ErrNoCorrelator = errors.New("no stream correlator configured")
)

// OperationError is a failure the backend reported for the operation.
type OperationError struct {
	Operation string
	Message   string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %q failed: %s", e.Operation, e.Message)
}

// StreamError is a stream that ended without its complete frame.
type StreamError struct {
	Operation string
	StreamID  string
	Err       error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("operation %q stream %s ended: %v", e.Operation, e.StreamID, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Validator is implemented by dispatchers that can reject a request before
// it is sent.
type Validator interface {
	Validate(req opconsole.OperationRequest) error
}

// Appender is the part of the operation log the runner writes to.
type Appender interface {
	Append(message string) opconsole.LogEntry
}

// Result is an inline result handed to the result sink.
type Result struct {
	Operation string
	Field     string
	Raw       json.RawMessage
}

type RunOptions struct {
	// ExpectStream marks operations that normally answer with a stream id.
	ExpectStream bool
}

type Option func(*Runner)

// WithResultSink receives every inline result after its log entry.
func WithResultSink(fn func(Result)) Option {
	return func(r *Runner) { r.sink = fn }
}

type Runner struct {
	dispatcher opconsole.Dispatcher
	correlator opconsole.Correlator
	log        Appender
	sink       func(Result)

	mu        sync.Mutex
	busy      bool
	tornDown  bool
	current   opconsole.Subscription
	observers []func(bool)
}

func New(d opconsole.Dispatcher, c opconsole.Correlator, entries Appender, opts ...Option) *Runner {
	r := &Runner{dispatcher: d, correlator: c, log: entries}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

// Observe registers fn for every busy transition. fn runs with the runner
// locked, so it must not block or call back into the runner.
func (r *Runner) Observe(fn func(busy bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Runner) acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tornDown {
		return ErrTornDown
	}
	if r.busy {
		return ErrBusy
	}
	r.setBusyLocked(true)
	return nil
}

func (r *Runner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
	r.setBusyLocked(false)
}

func (r *Runner) setBusyLocked(busy bool) {
	r.busy = busy
	observability.SetBusy(busy)
	for _, fn := range r.observers {
		fn(busy)
	}
}

// Run dispatches req and returns once the operation reached its terminal
// state. A busy runner rejects req with ErrBusy after a single log entry.
// Requests the dispatcher can reject up front never mark the runner busy.
func (r *Runner) Run(ctx context.Context, req opconsole.OperationRequest, opts RunOptions) error {
	if v, ok := r.dispatcher.(Validator); ok {
		if err := v.Validate(req); err != nil {
			log.Error().Err(err).Str("operation", req.Name).Msg("dispatch rejected")
			return err
		}
	}
	if err := r.acquire(); err != nil {
		if errors.Is(err, ErrBusy) {
			observability.RecordRejection()
			r.log.Append(fmt.Sprintf("%s Operation in progress: %s rejected", opconsole.MarkError, req.Name))
		}
		return err
	}
	defer r.release()

	ack, err := r.dispatcher.Dispatch(ctx, req)
	if err != nil {
		// Catalog and parameter mistakes are not failed operations.
		log.Error().Err(err).Str("operation", req.Name).Msg("dispatch rejected")
		return err
	}

	switch ack.Kind() {
	case opconsole.AckError:
		r.log.Append(fmt.Sprintf("%s Error: %s", opconsole.MarkError, ack.Error))
		return &OperationError{Operation: req.Name, Message: ack.Error}
	case opconsole.AckInline:
		r.log.Append(success(req.Name, ack.Message))
		if r.sink != nil {
			r.sink(Result{Operation: req.Name, Field: ack.InlineField, Raw: ack.InlineResult})
		}
		return nil
	case opconsole.AckStream:
		return r.follow(ctx, req, ack)
	default:
		r.log.Append(success(req.Name, ack.Message))
		if opts.ExpectStream {
			log.Warn().Str("operation", req.Name).Msg("expected a stream id, got a bare ack")
		}
		return nil
	}
}

func success(name, message string) string {
	if message == "" {
		message = name + " succeeded"
	}
	return opconsole.MarkSuccess + " " + message
}

func (r *Runner) follow(ctx context.Context, req opconsole.OperationRequest, ack opconsole.OperationAck) error {
	r.log.Append(success(req.Name, ack.Message))
	if r.correlator == nil {
		r.log.Append(opconsole.StreamEnded(ErrNoCorrelator.Error()))
		return &StreamError{Operation: req.Name, StreamID: ack.StreamID, Err: ErrNoCorrelator}
	}

	h := &logHandler{log: r.log, done: make(chan error, 1)}
	sub, err := r.correlator.Subscribe(ctx, ack.StreamID, h)
	if err != nil {
		r.log.Append(opconsole.StreamEnded(err.Error()))
		return &StreamError{Operation: req.Name, StreamID: ack.StreamID, Err: err}
	}
	r.track(sub)

	if err := <-h.done; err != nil {
		return &StreamError{Operation: req.Name, StreamID: ack.StreamID, Err: err}
	}
	return nil
}

// track remembers the open subscription for Teardown, closing it at once
// when teardown already happened.
func (r *Runner) track(sub opconsole.Subscription) {
	r.mu.Lock()
	torn := r.tornDown
	if !torn {
		r.current = sub
	}
	r.mu.Unlock()
	if torn {
		_ = sub.Close()
	}
}

// Teardown closes the open stream, if any, and rejects later runs.
func (r *Runner) Teardown() {
	r.mu.Lock()
	r.tornDown = true
	sub := r.current
	r.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

// logHandler appends stream output and reports the terminal event once.
type logHandler struct {
	log  Appender
	done chan error
}

func (h *logHandler) Frame(output string) {
	h.log.Append(output)
}

func (h *logHandler) Malformed(raw string) {
	h.log.Append(fmt.Sprintf("%s malformed frame: %s", opconsole.MarkWarning, raw))
}

func (h *logHandler) Terminal(err error) {
	if err == nil {
		h.log.Append(opconsole.SentinelComplete)
	} else {
		h.log.Append(opconsole.StreamEnded(err.Error()))
	}
	select {
	case h.done <- err:
	default:
	}
}

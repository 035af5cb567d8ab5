// Package console owns the state of one operation console: its log, the
// single-flight runner, the confirmation gate and the views fed by inline
// results.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/krisshattanicole/kn3aux-code/internal/confirm"
	"github.com/krisshattanicole/kn3aux-code/internal/dispatch"
	"github.com/krisshattanicole/kn3aux-code/internal/oplog"
	"github.com/krisshattanicole/kn3aux-code/internal/runner"
	"github.com/krisshattanicole/kn3aux-code/opconsole"
	"github.com/rs/zerolog/log"
)

var ErrNotMounted = errors.New("console not mounted")

// Backend is the dispatcher plus its status report.
type Backend interface {
	opconsole.Dispatcher
	Status(ctx context.Context, path string) (dispatch.BackendStatus, error)
}

// Device is the last detection result.
type Device struct {
	Detected bool     `json:"detected"`
	Devices  []string `json:"devices"`
	Count    int      `json:"count"`
	Mode     string   `json:"mode"`
}

// Name is the label shown for the first detected device.
func (d Device) Name() string {
	if len(d.Devices) > 0 && d.Devices[0] != "" {
		return d.Devices[0]
	}
	return "MTK Device"
}

type Option func(*Console)

func WithCatalog(c *dispatch.Catalog) Option {
	return func(con *Console) { con.catalog = c }
}

// WithStatusCheck sets the status endpoint and the tool version the console
// expects from the backend.
func WithStatusCheck(path, constraint string) Option {
	return func(con *Console) {
		con.statusPath = path
		con.constraint = constraint
	}
}

type Console struct {
	backend    Backend
	catalog    *dispatch.Catalog
	log        *oplog.Log
	runner     *runner.Runner
	gate       *confirm.Gate
	statusPath string
	constraint string

	mu      sync.Mutex
	mounted bool
	torn    bool
	gpt     string
	device  Device
	status  dispatch.BackendStatus
}

func New(backend Backend, correlator opconsole.Correlator, entries *oplog.Log, confirmer opconsole.Confirmer, opts ...Option) *Console {
	c := &Console{
		backend: backend,
		catalog: dispatch.DefaultCatalog(),
		log:     entries,
		gate:    confirm.New(confirmer),
	}
	for _, o := range opts {
		o(c)
	}
	c.runner = runner.New(backend, correlator, entries, runner.WithResultSink(c.onResult))
	return c
}

// Mount detects the device and checks the backend. Failures are logged, not
// returned.
func (c *Console) Mount(ctx context.Context) {
	c.mu.Lock()
	if c.mounted || c.torn {
		c.mu.Unlock()
		return
	}
	c.mounted = true
	c.mu.Unlock()

	c.detect(ctx)
	c.checkStatus(ctx)
}

// Unmount closes the open stream and the journal. The console cannot be
// mounted again.
func (c *Console) Unmount() {
	c.mu.Lock()
	if c.torn {
		c.mu.Unlock()
		return
	}
	c.torn = true
	c.mounted = false
	c.mu.Unlock()

	c.runner.Teardown()
	if err := c.log.Close(); err != nil {
		log.Warn().Err(err).Msg("close operation journal")
	}
}

func (c *Console) detect(ctx context.Context) {
	ack, err := c.backend.Dispatch(ctx, opconsole.OperationRequest{Name: "detect"})
	if err != nil || ack.Kind() == opconsole.AckError {
		log.Warn().Err(err).Str("ack_error", ack.Error).Msg("device detection failed")
		c.log.Append(opconsole.MarkError + " Device detection failed")
		return
	}
	dev, ok := decodeDevice(ack.InlineResult)
	if !ok {
		c.log.Append(opconsole.MarkError + " Device detection failed")
		return
	}
	c.mu.Lock()
	c.device = dev
	c.mu.Unlock()
	if dev.Detected {
		c.log.Append(fmt.Sprintf("%s Device detected: %s", opconsole.MarkSuccess, dev.Name()))
	}
}

func decodeDevice(raw json.RawMessage) (Device, bool) {
	var dev Device
	if len(raw) == 0 || json.Unmarshal(raw, &dev) != nil {
		return Device{}, false
	}
	return dev, true
}

func (c *Console) checkStatus(ctx context.Context) {
	st, err := c.backend.Status(ctx, c.statusPath)
	if err != nil {
		c.log.Append(fmt.Sprintf("%s Backend status unavailable: %v", opconsole.MarkWarning, err))
		return
	}
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()

	switch {
	case st.Error != "":
		c.log.Append(fmt.Sprintf("%s Backend status: %s", opconsole.MarkWarning, st.Error))
	case !st.Installed || !st.Available:
		msg := st.Message
		if msg == "" {
			msg = "not installed"
		}
		c.log.Append(fmt.Sprintf("%s MTK tool unavailable: %s", opconsole.MarkWarning, msg))
	default:
		if err := dispatch.CheckVersion(st, c.constraint); err != nil {
			c.log.Append(fmt.Sprintf("%s %v", opconsole.MarkWarning, err))
		}
	}
}

// Trigger is the single entry point for UI controls. Destructive operations
// are confirmed first; a declined one returns confirm.ErrDeclined and
// leaves no trace.
func (c *Console) Trigger(ctx context.Context, opID string, params map[string]any) error {
	c.mu.Lock()
	torn := c.torn
	c.mu.Unlock()
	if torn {
		return ErrNotMounted
	}

	op, ok := c.catalog.Lookup(opID)
	if !ok {
		return &dispatch.ConfigError{Operation: opID, Err: dispatch.ErrUnknownOperation}
	}
	req := opconsole.OperationRequest{Name: op.ID, Parameters: params}
	err := c.gate.Guard(ctx, op.Destructive, op.Prompt, func(ctx context.Context) error {
		return c.runner.Run(ctx, req, runner.RunOptions{ExpectStream: op.Streams})
	})
	if err == nil && op.Done != "" {
		c.log.Append(op.Done)
	}
	return err
}

func (c *Console) onResult(r runner.Result) {
	switch r.Field {
	case "gpt_table":
		var table string
		if err := json.Unmarshal(r.Raw, &table); err != nil {
			log.Warn().Err(err).Msg("undecodable gpt_table")
			return
		}
		c.mu.Lock()
		c.gpt = table
		c.mu.Unlock()
	case "instructions":
		var steps []string
		if err := json.Unmarshal(r.Raw, &steps); err != nil {
			log.Warn().Err(err).Msg("undecodable instructions")
			return
		}
		c.log.Append("Follow Magisk patching steps:")
		for _, step := range steps {
			c.log.Append("  " + step)
		}
	case dispatch.InlineWhole:
		if r.Operation != "detect" {
			return
		}
		if dev, ok := decodeDevice(r.Raw); ok {
			c.mu.Lock()
			c.device = dev
			c.mu.Unlock()
		}
	}
}

func (c *Console) Entries() []opconsole.LogEntry {
	return c.log.Entries()
}

// Since returns the entries appended after seq.
func (c *Console) Since(seq uint64) []opconsole.LogEntry {
	return c.log.Since(seq)
}

// Watch signals log changes; see oplog.Log.Watch.
func (c *Console) Watch() (<-chan struct{}, func()) {
	return c.log.Watch()
}

// ClearLog empties the log on explicit user request.
func (c *Console) ClearLog() {
	c.log.Clear()
}

func (c *Console) Busy() bool {
	return c.runner.Busy()
}

func (c *Console) ObserveBusy(fn func(bool)) {
	c.runner.Observe(fn)
}

func (c *Console) Operations() []dispatch.Operation {
	return c.catalog.Operations()
}

func (c *Console) GPT() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gpt
}

func (c *Console) Device() Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

func (c *Console) BackendStatus() dispatch.BackendStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/krisshattanicole/kn3aux-code/internal/config"
	"github.com/krisshattanicole/kn3aux-code/internal/confirm"
	"github.com/krisshattanicole/kn3aux-code/internal/console"
	"github.com/krisshattanicole/kn3aux-code/internal/dispatch"
	"github.com/krisshattanicole/kn3aux-code/internal/metrics"
	"github.com/krisshattanicole/kn3aux-code/internal/observability"
	"github.com/krisshattanicole/kn3aux-code/internal/oplog"
	"github.com/krisshattanicole/kn3aux-code/internal/stream"
	"github.com/krisshattanicole/kn3aux-code/opconsole"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type cliFlags struct {
	run     string
	params  string
	history int
}

func main() {
	fs := flag.NewFlagSet("console", flag.ExitOnError)
	var cli cliFlags
	fs.StringVar(&cli.run, "run", "", "run one operation and exit")
	fs.StringVar(&cli.params, "params", "", "JSON parameters for -run")
	fs.IntVar(&cli.history, "history", 0, "print the last N journal entries and exit")

	cfg, err := config.Resolve(fs, os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "console: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := cli.run == "" && cli.history == 0
	closeLog := setupLogging(cfg, interactive)
	defer closeLog()

	if err := run(ctx, cfg, cli, interactive); err != nil {
		log.Error().Err(err).Msg("console failed")
		fmt.Fprintf(os.Stderr, "console: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging keeps diagnostics off the terminal while the TUI owns it.
func setupLogging(cfg config.Config, interactive bool) func() {
	var w io.Writer = os.Stderr
	closer := func() {}
	if interactive && cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				w = f
				closer = func() { _ = f.Close() }
			}
		}
	}
	observability.InitLogger("console", w, observability.ProfileRuntime)
	if lvl, ok := observability.ParseLevel(cfg.LogLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}
	return closer
}

func run(ctx context.Context, cfg config.Config, cli cliFlags, interactive bool) error {
	if cli.history > 0 {
		return printHistory(ctx, cfg.JournalPath, cli.history, os.Stdout)
	}

	if cfg.PrometheusAddr != "" {
		go servePrometheus(ctx, cfg.PrometheusAddr)
	}

	catalog := dispatch.DefaultCatalog()
	backend := dispatch.New(cfg.BackendURL, catalog,
		dispatch.WithTimeout(cfg.DispatchTimeout),
		dispatch.WithEndpointTemplate(cfg.EndpointTemplate),
	)
	correlator, closeCorrelator, err := newCorrelator(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCorrelator()

	entries, err := newLog(cfg)
	if err != nil {
		return err
	}

	if !interactive {
		var confirmer opconsole.Confirmer = confirm.NewPrompt(os.Stdin, os.Stderr)
		if cfg.AutoConfirm {
			confirmer = confirm.AutoAccept
		}
		con := console.New(backend, correlator, entries, confirmer,
			console.WithCatalog(catalog),
			console.WithStatusCheck(cfg.StatusPath, cfg.BackendVersionConstraint),
		)
		defer con.Unmount()
		return runOnce(ctx, con, cli.run, cli.params, os.Stdout)
	}

	bus := make(chan tea.Msg, 256)
	var confirmer opconsole.Confirmer = modalConfirmer{bus: bus}
	if cfg.AutoConfirm {
		confirmer = confirm.AutoAccept
	}
	con := console.New(backend, correlator, entries, confirmer,
		console.WithCatalog(catalog),
		console.WithStatusCheck(cfg.StatusPath, cfg.BackendVersionConstraint),
	)
	defer con.Unmount()
	return runTUI(ctx, con, newMetricsSource(cfg), cfg.MetricsInterval, bus)
}

func newCorrelator(ctx context.Context, cfg config.Config) (opconsole.Correlator, func(), error) {
	opts := []stream.Option{
		stream.WithStallTimeout(cfg.StreamStallTimeout),
		stream.WithMaxMalformed(cfg.MaxMalformedFrames),
	}
	switch cfg.StreamTransport {
	case config.TransportMQTT:
		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		m, err := stream.DialMQTT(dialCtx, cfg.MQTTBroker, cfg.MQTTTopicPrefix, opts...)
		if err != nil {
			return nil, nil, err
		}
		return m, func() { _ = m.Close() }, nil
	default:
		sse := stream.NewSSE(cfg.BackendURL, opts...)
		sse.Template = cfg.StreamTemplate
		return sse, func() {}, nil
	}
}

func newLog(cfg config.Config) (*oplog.Log, error) {
	opts := []oplog.Option{}
	if cfg.LogCap > 0 {
		opts = append(opts, oplog.WithCap(cfg.LogCap))
	}
	if cfg.JournalPath != "" {
		j, err := oplog.OpenJournal(cfg.JournalPath, uuid.New().String())
		if err != nil {
			return nil, err
		}
		opts = append(opts, oplog.WithJournal(j))
	}
	return oplog.New(opts...), nil
}

func newMetricsSource(cfg config.Config) metrics.Source {
	sim := metrics.NewRandomWalk(uint64(time.Now().UnixNano()))
	if cfg.MetricsURL == "" {
		return sim
	}
	return metrics.Fallback{Live: metrics.NewWebSocket(cfg.MetricsURL, 5*time.Second), Sim: sim}
}

func servePrometheus(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("serving prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("prometheus listener stopped")
	}
}

func parseParams(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("parameters must be a JSON object: %w", err)
	}
	return params, nil
}

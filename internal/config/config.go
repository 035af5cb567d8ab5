// Package config resolves console settings from defaults, a TOML file, the
// environment and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/krisshattanicole/kn3aux-code/internal/dispatch"
	"github.com/krisshattanicole/kn3aux-code/internal/observability"
	"github.com/krisshattanicole/kn3aux-code/internal/stream"
)

const (
	TransportSSE  = "sse"
	TransportMQTT = "mqtt"
)

type Config struct {
	BackendURL       string
	EndpointTemplate string
	StreamTemplate   string
	StatusPath       string
	DispatchTimeout  time.Duration

	StreamTransport    string
	MQTTBroker         string
	MQTTTopicPrefix    string
	StreamStallTimeout time.Duration
	MaxMalformedFrames int

	LogCap      int
	JournalPath string

	MetricsURL      string
	MetricsInterval time.Duration
	PrometheusAddr  string

	BackendVersionConstraint string

	LogFile     string
	LogLevel    string
	AutoConfirm bool
}

func Home() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".kn3aux-core")
	}
	return ".kn3aux-core"
}

func Default() Config {
	home := Home()
	return Config{
		BackendURL:               "http://localhost:5000",
		EndpointTemplate:         dispatch.DefaultEndpointTemplate,
		StreamTemplate:           stream.DefaultStreamTemplate,
		StatusPath:               dispatch.DefaultStatusPath,
		DispatchTimeout:          dispatch.DefaultTimeout,
		StreamTransport:          TransportSSE,
		MQTTBroker:               "tcp://localhost:1883",
		MQTTTopicPrefix:          stream.DefaultTopicPrefix,
		StreamStallTimeout:       stream.DefaultStallTimeout,
		JournalPath:              filepath.Join(home, "console.db"),
		MetricsInterval:          2 * time.Second,
		BackendVersionConstraint: ">= 1.0.0",
		LogFile:                  filepath.Join(home, "logs", "console.log"),
		LogLevel:                 "info",
	}
}

// DefaultPath is where the config file is looked up without -config or
// KN3AUX_CONFIG.
func DefaultPath() string {
	return filepath.Join(Home(), "console.toml")
}

type fileConfig struct {
	BackendURL               string `toml:"backend_url"`
	EndpointTemplate         string `toml:"endpoint_template"`
	StreamTemplate           string `toml:"stream_template"`
	StatusPath               string `toml:"status_path"`
	DispatchTimeout          string `toml:"dispatch_timeout"`
	StreamTransport          string `toml:"stream_transport"`
	MQTTBroker               string `toml:"mqtt_broker"`
	MQTTTopicPrefix          string `toml:"mqtt_topic_prefix"`
	StreamStallTimeout       string `toml:"stream_stall_timeout"`
	MaxMalformedFrames       int    `toml:"max_malformed_frames"`
	LogCap                   int    `toml:"log_cap"`
	JournalPath              string `toml:"journal_path"`
	MetricsURL               string `toml:"metrics_url"`
	MetricsInterval          string `toml:"metrics_interval"`
	PrometheusAddr           string `toml:"prometheus_addr"`
	BackendVersionConstraint string `toml:"backend_version_constraint"`
	LogFile                  string `toml:"log_file"`
	LogLevel                 string `toml:"log_level"`
	AutoConfirm              bool   `toml:"auto_confirm"`
}

// LoadFile overlays the keys defined in path onto cfg.
func LoadFile(cfg Config, path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load console config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load console config: unknown key %q", undecoded[0].String())
	}

	setString := func(key, v string, dst *string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	setDuration := func(key, v string, dst *time.Duration) error {
		if !meta.IsDefined(key) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	setString("backend_url", raw.BackendURL, &cfg.BackendURL)
	setString("endpoint_template", raw.EndpointTemplate, &cfg.EndpointTemplate)
	setString("stream_template", raw.StreamTemplate, &cfg.StreamTemplate)
	setString("status_path", raw.StatusPath, &cfg.StatusPath)
	setString("stream_transport", raw.StreamTransport, &cfg.StreamTransport)
	setString("mqtt_broker", raw.MQTTBroker, &cfg.MQTTBroker)
	setString("mqtt_topic_prefix", raw.MQTTTopicPrefix, &cfg.MQTTTopicPrefix)
	setString("journal_path", raw.JournalPath, &cfg.JournalPath)
	setString("metrics_url", raw.MetricsURL, &cfg.MetricsURL)
	setString("prometheus_addr", raw.PrometheusAddr, &cfg.PrometheusAddr)
	setString("backend_version_constraint", raw.BackendVersionConstraint, &cfg.BackendVersionConstraint)
	setString("log_file", raw.LogFile, &cfg.LogFile)
	setString("log_level", raw.LogLevel, &cfg.LogLevel)

	for _, d := range []struct {
		key string
		v   string
		dst *time.Duration
	}{
		{"dispatch_timeout", raw.DispatchTimeout, &cfg.DispatchTimeout},
		{"stream_stall_timeout", raw.StreamStallTimeout, &cfg.StreamStallTimeout},
		{"metrics_interval", raw.MetricsInterval, &cfg.MetricsInterval},
	} {
		if err := setDuration(d.key, d.v, d.dst); err != nil {
			return Config{}, err
		}
	}

	if meta.IsDefined("max_malformed_frames") {
		cfg.MaxMalformedFrames = raw.MaxMalformedFrames
	}
	if meta.IsDefined("log_cap") {
		cfg.LogCap = raw.LogCap
	}
	if meta.IsDefined("auto_confirm") {
		cfg.AutoConfirm = raw.AutoConfirm
	}
	return cfg, nil
}

// ApplyEnv overlays the KN3AUX_* variables (and MQTT_BROKER) onto cfg.
func ApplyEnv(cfg Config, getenv func(string) string) (Config, error) {
	getEnv := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}
	cfg.BackendURL = getEnv("KN3AUX_BACKEND", cfg.BackendURL)
	cfg.StreamTransport = getEnv("KN3AUX_STREAM_TRANSPORT", cfg.StreamTransport)
	cfg.MQTTBroker = getEnv("MQTT_BROKER", cfg.MQTTBroker)
	cfg.MQTTTopicPrefix = getEnv("KN3AUX_MQTT_PREFIX", cfg.MQTTTopicPrefix)
	cfg.MetricsURL = getEnv("KN3AUX_METRICS_URL", cfg.MetricsURL)
	cfg.JournalPath = getEnv("KN3AUX_JOURNAL", cfg.JournalPath)
	cfg.PrometheusAddr = getEnv("KN3AUX_PROM_ADDR", cfg.PrometheusAddr)
	cfg.LogFile = getEnv("KN3AUX_LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("KN3AUX_LOG_LEVEL", cfg.LogLevel)

	if v := getenv("KN3AUX_DISPATCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("KN3AUX_DISPATCH_TIMEOUT: %w", err)
		}
		cfg.DispatchTimeout = d
	}
	if v := getenv("KN3AUX_STALL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("KN3AUX_STALL_TIMEOUT: %w", err)
		}
		cfg.StreamStallTimeout = d
	}
	if v := getenv("KN3AUX_AUTO_CONFIRM"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("KN3AUX_AUTO_CONFIRM: %w", err)
		}
		cfg.AutoConfirm = b
	}
	return cfg, nil
}

// Resolve registers the console flags on flags, parses args and layers the
// sources. A missing file at the default path is not an error.
func Resolve(flags *flag.FlagSet, args []string, getenv func(string) string) (Config, error) {
	def := Default()
	var (
		path            = flags.String("config", "", "config file (default "+DefaultPath()+")")
		backend         = flags.String("backend", def.BackendURL, "backend base URL")
		transport       = flags.String("transport", def.StreamTransport, "stream transport: sse or mqtt")
		broker          = flags.String("mqtt-broker", def.MQTTBroker, "MQTT broker URL")
		journal         = flags.String("journal", def.JournalPath, "SQLite journal path, empty to disable")
		metricsURL      = flags.String("metrics-url", def.MetricsURL, "WebSocket metrics feed URL")
		promAddr        = flags.String("prometheus-addr", def.PrometheusAddr, "serve Prometheus metrics on this address")
		dispatchTimeout = flags.Duration("dispatch-timeout", def.DispatchTimeout, "dispatch round trip bound")
		stallTimeout    = flags.Duration("stall-timeout", def.StreamStallTimeout, "end streams silent for this long")
		maxMalformed    = flags.Int("max-malformed", def.MaxMalformedFrames, "end a stream after this many malformed frames in a row, 0 for no limit")
		logLevel        = flags.String("log-level", def.LogLevel, "diagnostic log level")
		autoConfirm     = flags.Bool("yes", def.AutoConfirm, "confirm destructive operations without asking")
	)
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def
	file := *path
	if file == "" {
		file = getenv("KN3AUX_CONFIG")
	}
	explicit := file != ""
	if !explicit {
		file = DefaultPath()
	}
	loaded, err := LoadFile(cfg, file)
	switch {
	case err == nil:
		cfg = loaded
	case !explicit && errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, err
	}

	if cfg, err = ApplyEnv(cfg, getenv); err != nil {
		return Config{}, err
	}

	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.BackendURL = *backend
		case "transport":
			cfg.StreamTransport = *transport
		case "mqtt-broker":
			cfg.MQTTBroker = *broker
		case "journal":
			cfg.JournalPath = *journal
		case "metrics-url":
			cfg.MetricsURL = *metricsURL
		case "prometheus-addr":
			cfg.PrometheusAddr = *promAddr
		case "dispatch-timeout":
			cfg.DispatchTimeout = *dispatchTimeout
		case "stall-timeout":
			cfg.StreamStallTimeout = *stallTimeout
		case "max-malformed":
			cfg.MaxMalformedFrames = *maxMalformed
		case "log-level":
			cfg.LogLevel = *logLevel
		case "yes":
			cfg.AutoConfirm = *autoConfirm
		}
	})
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if err := checkURL("backend_url", c.BackendURL, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	switch c.StreamTransport {
	case TransportSSE:
	case TransportMQTT:
		if err := checkURL("mqtt_broker", c.MQTTBroker, "tcp", "ssl", "ws", "wss", "mqtt", "mqtts"); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("stream_transport: unknown transport %q", c.StreamTransport))
	}
	if c.MetricsURL != "" {
		if err := checkURL("metrics_url", c.MetricsURL, "ws", "wss"); err != nil {
			errs = append(errs, err)
		}
	}
	if !strings.Contains(c.EndpointTemplate, "{name}") {
		errs = append(errs, fmt.Errorf("endpoint_template: %q has no {name}", c.EndpointTemplate))
	}
	if !strings.Contains(c.StreamTemplate, "{id}") {
		errs = append(errs, fmt.Errorf("stream_template: %q has no {id}", c.StreamTemplate))
	}
	if c.BackendVersionConstraint != "" {
		if _, err := semver.NewConstraint(c.BackendVersionConstraint); err != nil {
			errs = append(errs, fmt.Errorf("backend_version_constraint: %w", err))
		}
	}
	if c.DispatchTimeout < 0 || c.StreamStallTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MaxMalformedFrames < 0 || c.LogCap < 0 {
		errs = append(errs, errors.New("max_malformed_frames and log_cap must not be negative"))
	}
	if c.MetricsInterval <= 0 {
		errs = append(errs, errors.New("metrics_interval must be positive"))
	}
	if _, ok := observability.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: %q has no host", key, raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s: unsupported scheme %q", key, u.Scheme)
}

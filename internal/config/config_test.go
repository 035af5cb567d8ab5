package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func newFlags() *flag.FlagSet {
	fs := flag.NewFlagSet("console", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "console.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, 5*time.Minute, cfg.StreamStallTimeout)
	assert.Zero(t, cfg.MaxMalformedFrames)
	assert.Equal(t, TransportSSE, cfg.StreamTransport)
}

func TestFileThenEnvThenFlags(t *testing.T) {
	path := writeConfig(t, `
backend_url = "http://10.0.0.2:5000"
stream_transport = "mqtt"
mqtt_broker = "tcp://file:1883"
dispatch_timeout = "10s"
max_malformed_frames = 3
log_cap = 500
`)
	cfg, err := Resolve(newFlags(), []string{"-config", path, "-stall-timeout", "1m"}, env(map[string]string{
		"MQTT_BROKER":         "tcp://env:1883",
		"KN3AUX_AUTO_CONFIRM": "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.2:5000", cfg.BackendURL)
	assert.Equal(t, TransportMQTT, cfg.StreamTransport)
	assert.Equal(t, "tcp://env:1883", cfg.MQTTBroker)
	assert.Equal(t, 10*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, time.Minute, cfg.StreamStallTimeout)
	assert.Equal(t, 3, cfg.MaxMalformedFrames)
	assert.Equal(t, 500, cfg.LogCap)
	assert.True(t, cfg.AutoConfirm)
}

func TestFlagBeatsEnv(t *testing.T) {
	_, err := Resolve(newFlags(), []string{"-backend", "http://flag:1"}, env(map[string]string{
		"KN3AUX_CONFIG":  filepath.Join(t.TempDir(), "absent.toml"),
		"KN3AUX_BACKEND": "http://env:1",
	}))
	// An explicitly named file must exist.
	require.Error(t, err)

	cfg, err := Resolve(newFlags(), []string{"-config", writeConfig(t, ""), "-backend", "http://flag:1"}, env(map[string]string{
		"KN3AUX_BACKEND": "http://env:1",
	}))
	require.NoError(t, err)
	assert.Equal(t, "http://flag:1", cfg.BackendURL)
}

func TestUnknownKeyIsRejected(t *testing.T) {
	_, err := LoadFile(Default(), writeConfig(t, `backend = "http://x"`))
	assert.ErrorContains(t, err, "unknown key")
}

func TestBadDurationIsRejected(t *testing.T) {
	_, err := LoadFile(Default(), writeConfig(t, `stream_stall_timeout = "forever"`))
	assert.ErrorContains(t, err, "stream_stall_timeout")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.StreamTransport = "carrier-pigeon"
	assert.ErrorContains(t, cfg.Validate(), "unknown transport")

	cfg = Default()
	cfg.BackendURL = "localhost:5000"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.BackendVersionConstraint = "newest please"
	assert.ErrorContains(t, cfg.Validate(), "backend_version_constraint")

	cfg = Default()
	cfg.StreamTransport = TransportMQTT
	cfg.MQTTBroker = "http://broker:1883"
	assert.ErrorContains(t, cfg.Validate(), "mqtt_broker")

	cfg = Default()
	cfg.LogLevel = "loud"
	assert.ErrorContains(t, cfg.Validate(), "log_level")

	cfg = Default()
	cfg.MetricsURL = "ws://device:5000/ws/metrics"
	assert.NoError(t, cfg.Validate())
}

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/krisshattanicole/kn3aux-code/internal/backendsim"
	"github.com/krisshattanicole/kn3aux-code/internal/observability"
	"github.com/krisshattanicole/kn3aux-code/opconsole"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	observability.ConfigureTests()
	m.Run()
}

func TestDispatchStreamAck(t *testing.T) {
	sim, srv := backendsim.StartTest(t)
	d := New(srv.URL, DefaultCatalog())

	ack, err := d.Dispatch(context.Background(), opconsole.OperationRequest{
		Name:       "unlock-bootloader",
		Parameters: map[string]any{"partitions": []string{"metadata", "userdata", "md_udc"}},
	})
	require.NoError(t, err)
	assert.Equal(t, opconsole.AckStream, ack.Kind())
	assert.Equal(t, "Unlocking bootloader...", ack.Message)
	assert.NotEmpty(t, ack.StreamID)

	calls := sim.Calls("unlock-bootloader")
	require.Len(t, calls, 1)
	assert.Equal(t, []any{"metadata", "userdata", "md_udc"}, calls[0]["partitions"])
}

func TestDispatchInlineResult(t *testing.T) {
	_, srv := backendsim.StartTest(t)
	d := New(srv.URL, DefaultCatalog())

	ack, err := d.Dispatch(context.Background(), opconsole.OperationRequest{Name: "print-gpt"})
	require.NoError(t, err)
	assert.Equal(t, opconsole.AckInline, ack.Kind(), "an empty error string is no error")
	assert.Equal(t, "gpt_table", ack.InlineField)

	var table string
	require.NoError(t, json.Unmarshal(ack.InlineResult, &table))
	assert.Contains(t, table, "md_udc")
}

func TestDispatchLockUsesUnlockEndpointWithDefaults(t *testing.T) {
	sim, srv := backendsim.StartTest(t)
	d := New(srv.URL, DefaultCatalog())

	_, err := d.Dispatch(context.Background(), opconsole.OperationRequest{Name: "lock-bootloader"})
	require.NoError(t, err)
	calls := sim.Calls("unlock-bootloader")
	require.Len(t, calls, 1)
	assert.Equal(t, true, calls[0]["lock"])
}

func TestUnknownOperationFailsBeforeNetwork(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits++ }))
	defer srv.Close()
	d := New(srv.URL, DefaultCatalog())

	_, err := d.Dispatch(context.Background(), opconsole.OperationRequest{Name: "format-everything"})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrUnknownOperation)
	assert.Equal(t, "format-everything", cfgErr.Operation)
	assert.Zero(t, hits)
}

func TestInvalidParametersFailBeforeNetwork(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits++ }))
	defer srv.Close()
	d := New(srv.URL, DefaultCatalog())

	_, err := d.Dispatch(context.Background(), opconsole.OperationRequest{
		Name:       "read-partition",
		Parameters: map[string]any{"output_file": "boot.img"},
	})
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = d.Dispatch(context.Background(), opconsole.OperationRequest{
		Name:       "unlock-bootloader",
		Parameters: map[string]any{"partitions": "userdata"},
	})
	assert.ErrorIs(t, err, ErrInvalidParameters)
	assert.Zero(t, hits)
}

func TestValidateMatchesDispatchWithoutNetwork(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits++ }))
	defer srv.Close()
	d := New(srv.URL, DefaultCatalog())

	assert.ErrorIs(t, d.Validate(opconsole.OperationRequest{Name: "nope"}), ErrUnknownOperation)
	assert.ErrorIs(t, d.Validate(opconsole.OperationRequest{Name: "erase-partition"}), ErrInvalidParameters)
	assert.NoError(t, d.Validate(opconsole.OperationRequest{
		Name:       "erase-partition",
		Parameters: map[string]any{"partition": "userdata"},
	}))
	assert.NoError(t, d.Validate(opconsole.OperationRequest{Name: "lock-bootloader"}))
	assert.Zero(t, hits)
}

func TestTransportFailureBecomesAckError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := New(url, DefaultCatalog())
	ack, err := d.Dispatch(context.Background(), opconsole.OperationRequest{Name: "print-gpt"})
	require.NoError(t, err)
	assert.Equal(t, opconsole.AckError, ack.Kind())
	assert.Contains(t, ack.Error, "transport error")
	assert.Contains(t, ack.Error, "connection refused")
}

func TestNonSuccessStatus(t *testing.T) {
	sim, srv := backendsim.StartTest(t)
	sim.Handle("crash-da", backendsim.Script{Error: "Device not connected", Status: 500})
	d := New(srv.URL, DefaultCatalog())

	ack, err := d.Dispatch(context.Background(), opconsole.OperationRequest{Name: "crash-da"})
	require.NoError(t, err)
	assert.Equal(t, "Device not connected", ack.Error)

	bare := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer bare.Close()
	ack, err = New(bare.URL, DefaultCatalog()).Dispatch(context.Background(), opconsole.OperationRequest{Name: "crash-da"})
	require.NoError(t, err)
	assert.Equal(t, "request failed with status code 502", ack.Error)
}

func TestDispatchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { <-release }))
	defer srv.Close()
	defer close(release)

	d := New(srv.URL, DefaultCatalog(), WithTimeout(50*time.Millisecond))
	ack, err := d.Dispatch(context.Background(), opconsole.OperationRequest{Name: "bypass-sla"})
	require.NoError(t, err)
	assert.Contains(t, ack.Error, "deadline exceeded")
}

func TestInvalidResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()
	ack, err := New(srv.URL, DefaultCatalog()).Dispatch(context.Background(), opconsole.OperationRequest{Name: "crash-da"})
	require.NoError(t, err)
	assert.Contains(t, ack.Error, "invalid response")
}

func TestBareAck(t *testing.T) {
	_, srv := backendsim.StartTest(t)
	ack, err := New(srv.URL, DefaultCatalog()).Dispatch(context.Background(), opconsole.OperationRequest{Name: "bypass-sla"})
	require.NoError(t, err)
	assert.Equal(t, opconsole.AckBare, ack.Kind())
	assert.Equal(t, "SLA/DA bypass successful", ack.Message)
}

func TestEndpointTemplate(t *testing.T) {
	d := New("http://backend:5000/", DefaultCatalog(), WithEndpointTemplate("/v2/ops/{name}/run"))
	endpoint, err := d.Endpoint("lock-bootloader")
	require.NoError(t, err)
	assert.Equal(t, "http://backend:5000/v2/ops/unlock-bootloader/run", endpoint)

	_, err = New("http://x", DefaultCatalog(), WithEndpointTemplate("/static")).Endpoint("detect")
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestStatusAndVersionCheck(t *testing.T) {
	_, srv := backendsim.StartTest(t, backendsim.WithStatus(backendsim.Status{Installed: true, Available: true, Version: "1.6.0"}))
	st, err := New(srv.URL, DefaultCatalog()).Status(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, st.Available)
	assert.NoError(t, CheckVersion(st, ">= 1.0.0"))
	assert.Error(t, CheckVersion(st, ">= 2.0.0"))
	assert.Error(t, CheckVersion(BackendStatus{}, ">= 1.0.0"))
	assert.NoError(t, CheckVersion(BackendStatus{}, ""))
	assert.Error(t, CheckVersion(st, "not a constraint"))
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	_, err := NewCatalog(Operation{ID: "detect"}, Operation{ID: "detect"})
	assert.Error(t, err)
	_, err = NewCatalog(Operation{ID: "x", Schema: "{not json"})
	assert.Error(t, err)
}

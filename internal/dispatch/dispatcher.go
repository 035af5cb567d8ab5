// Package dispatch sends console operations to the backend and normalizes
// every outcome into an OperationAck.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/krisshattanicole/kn3aux-code/internal/observability"
	"github.com/krisshattanicole/kn3aux-code/opconsole"
	"github.com/rs/zerolog/log"
)

const (
	DefaultEndpointTemplate = "/api/mtk/{name}"
	DefaultTimeout          = 30 * time.Second

	maxResponseBytes = 8 << 20
)

// Dispatcher is stateless apart from its configuration and safe for
// concurrent use.
type Dispatcher struct {
	BaseURL    string
	Template   string
	HTTPClient *http.Client

	catalog *Catalog
	timeout time.Duration
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.HTTPClient = c }
}

// WithTimeout bounds one dispatch round trip. Zero disables the bound.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

func WithEndpointTemplate(tmpl string) Option {
	return func(d *Dispatcher) { d.Template = tmpl }
}

func New(baseURL string, catalog *Catalog, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Template:   DefaultEndpointTemplate,
		HTTPClient: &http.Client{},
		catalog:    catalog,
		timeout:    DefaultTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Endpoint renders the URL for a catalog operation.
func (d *Dispatcher) Endpoint(name string) (string, error) {
	op, ok := d.catalog.Lookup(name)
	if !ok {
		return "", &ConfigError{Operation: name, Err: ErrUnknownOperation}
	}
	if !strings.Contains(d.Template, "{name}") {
		return "", &ConfigError{Operation: name, Err: fmt.Errorf("endpoint template %q has no {name}", d.Template)}
	}
	return d.BaseURL + strings.ReplaceAll(d.Template, "{name}", url.PathEscape(op.endpoint())), nil
}

// Validate reports the *ConfigError Dispatch would return for req without
// touching the network.
func (d *Dispatcher) Validate(req opconsole.OperationRequest) error {
	_, _, err := d.prepare(req)
	return err
}

func (d *Dispatcher) prepare(req opconsole.OperationRequest) (string, map[string]any, error) {
	endpoint, err := d.Endpoint(req.Name)
	if err != nil {
		return "", nil, err
	}
	params := d.catalog.Params(req.Name, req.Parameters)
	if err := d.catalog.Validate(req.Name, params); err != nil {
		return "", nil, err
	}
	return endpoint, params, nil
}

// Dispatch posts the request parameters and decodes the acknowledgement.
// The only error returned is a *ConfigError; transport and backend failures
// come back in OperationAck.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, req opconsole.OperationRequest) (opconsole.OperationAck, error) {
	endpoint, params, err := d.prepare(req)
	if err != nil {
		return opconsole.OperationAck{}, err
	}
	op, _ := d.catalog.Lookup(req.Name)

	body, err := json.Marshal(params)
	if err != nil {
		return opconsole.OperationAck{}, &ConfigError{Operation: req.Name, Err: fmt.Errorf("%w: %v", ErrInvalidParameters, err)}
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	started := time.Now()
	ack := d.roundTrip(ctx, endpoint, body, op.InlineField)
	observability.RecordDispatch(req.Name, ack.Kind().String(), time.Since(started))
	log.Debug().
		Str("operation", req.Name).
		Str("kind", ack.Kind().String()).
		Str("stream_id", ack.StreamID).
		Dur("took", time.Since(started)).
		Msg("dispatch")
	return ack, nil
}

func (d *Dispatcher) roundTrip(ctx context.Context, endpoint string, body []byte, inlineField string) opconsole.OperationAck {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return transportAck(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := d.HTTPClient.Do(httpReq)
	if err != nil {
		return transportAck(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportAck(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if msg := errorField(raw); msg != "" {
			return opconsole.OperationAck{Error: msg}
		}
		return opconsole.OperationAck{Error: fmt.Sprintf("request failed with status code %d", resp.StatusCode)}
	}
	return decodeAck(raw, inlineField)
}

func transportAck(err error) opconsole.OperationAck {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	return opconsole.OperationAck{Error: "transport error: " + err.Error()}
}

var reservedFields = map[string]bool{
	"message":   true,
	"stream_id": true,
	"error":     true,
	"detail":    true,
	"success":   true,
}

func decodeAck(raw []byte, inlineField string) opconsole.OperationAck {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		if err == nil {
			err = errors.New("empty body")
		}
		return opconsole.OperationAck{Error: "invalid response: " + err.Error()}
	}

	ack := opconsole.OperationAck{
		Message:  stringField(fields["message"]),
		StreamID: stringField(fields["stream_id"]),
		Error:    stringField(fields["error"]),
	}
	switch inlineField {
	case "":
	case InlineWhole:
		ack.InlineField = InlineWhole
		ack.InlineResult = json.RawMessage(raw)
	default:
		if v, ok := fields[inlineField]; ok && !isNull(v) && !reservedFields[inlineField] {
			ack.InlineField = inlineField
			ack.InlineResult = v
		}
	}
	return ack
}

// stringField accepts strings and renders other values as their JSON text.
// Booleans carry no message.
func stringField(v json.RawMessage) string {
	trimmed := strings.TrimSpace(string(v))
	switch trimmed {
	case "", "null", "true", "false":
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return trimmed
}

func errorField(raw []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	if msg := stringField(fields["error"]); msg != "" {
		return msg
	}
	return stringField(fields["detail"])
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}

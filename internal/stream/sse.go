package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/krisshattanicole/kn3aux-code/opconsole"
)

const DefaultStreamTemplate = "/api/mtk/stream/{id}"

// Option configures a correlator.
type Option func(*settings)

// WithStallTimeout ends a stream that delivers nothing for d. Zero disables
// the bound.
func WithStallTimeout(d time.Duration) Option {
	return func(s *settings) { s.stall = d }
}

// WithMaxMalformed ends a stream after n consecutive malformed frames. Zero
// means unlimited.
func WithMaxMalformed(n int) Option {
	return func(s *settings) { s.maxMalformed = n }
}

// SSE reads server-sent events from the backend's stream endpoint.
type SSE struct {
	BaseURL    string
	Template   string
	HTTPClient *http.Client

	cfg settings
}

func NewSSE(baseURL string, opts ...Option) *SSE {
	cfg := defaultSettings()
	for _, o := range opts {
		o(&cfg)
	}
	return &SSE{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Template:   DefaultStreamTemplate,
		HTTPClient: &http.Client{},
		cfg:        cfg,
	}
}

func (c *SSE) endpoint(id string) (string, error) {
	if !strings.Contains(c.Template, "{id}") {
		return "", fmt.Errorf("stream template %q has no {id}", c.Template)
	}
	return c.BaseURL + strings.ReplaceAll(c.Template, "{id}", url.PathEscape(id)), nil
}

// Subscribe opens the event stream of id. An error means nothing was opened
// and the handler is never called. Cancelling ctx closes the subscription.
func (c *SSE) Subscribe(ctx context.Context, id string, h opconsole.StreamHandler) (opconsole.Subscription, error) {
	if id == "" {
		return nil, errors.New("empty stream id")
	}
	endpoint, err := c.endpoint(id)
	if err != nil {
		return nil, err
	}

	// The request outlives Subscribe; it is cancelled by release.
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		cancel()
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		return nil, &TransportError{Err: fmt.Errorf("stream request failed with status code %d", resp.StatusCode)}
	}

	sub := newSubscription(id, h, c.cfg)
	sub.start(ctx, cancel)
	go c.read(sub, resp.Body)
	return sub, nil
}

func (c *SSE) read(sub *subscription, body io.ReadCloser) {
	defer body.Close()
	err := readEvents(body, sub.deliver)
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	// A no-op when the stream already ended and the body was cancelled.
	sub.finish(&TransportError{Err: err})
}

// readEvents calls emit with the data of every dispatched event until r
// fails. Data lines of one event are joined with a newline; a trailing
// event without its blank line is dropped.
func readEvents(r io.Reader, emit func([]byte)) error {
	br := bufio.NewReader(r)
	var data bytes.Buffer
	hasData := false
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				emit(bytes.Clone(data.Bytes()))
			}
			data.Reset()
			hasData = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field != "data" {
			// event, id and retry carry nothing the console uses.
			continue
		}
		if hasData {
			data.WriteByte('\n')
		}
		data.WriteString(value)
		hasData = true
	}
}

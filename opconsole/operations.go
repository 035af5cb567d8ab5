package opconsole

import (
	"context"
	"encoding/json"
)

// OperationRequest names a backend action and carries its parameters.
type OperationRequest struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

type AckKind int

const (
	AckBare AckKind = iota
	AckError
	AckStream
	AckInline
)

func (k AckKind) String() string {
	switch k {
	case AckError:
		return "error"
	case AckStream:
		return "stream"
	case AckInline:
		return "inline"
	default:
		return "bare"
	}
}

// OperationAck is the backend's answer to a dispatch. Transport failures are
// folded into Error by the dispatcher, so an ack is always returned.
type OperationAck struct {
	Message      string          `json:"message"`
	StreamID     string          `json:"stream_id,omitempty"`
	Error        string          `json:"error,omitempty"`
	InlineField  string          `json:"-"`
	InlineResult json.RawMessage `json:"-"`
}

// Kind classifies the ack. Error wins over a stream id, a stream id wins over
// an inline result.
func (a OperationAck) Kind() AckKind {
	switch {
	case a.Error != "":
		return AckError
	case a.StreamID != "":
		return AckStream
	case len(a.InlineResult) > 0:
		return AckInline
	default:
		return AckBare
	}
}

// Dispatcher sends one operation request and waits for its acknowledgement.
type Dispatcher interface {
	Dispatch(ctx context.Context, req OperationRequest) (OperationAck, error)
}

// StreamHandler receives the decoded frames of one subscription. Terminal is
// called exactly once: with nil on a complete frame, with an error otherwise.
// Handlers run on the subscription's delivery path and must not call Close.
type StreamHandler interface {
	Frame(output string)
	Malformed(raw string)
	Terminal(err error)
}

// Subscription is an open stream. Close is idempotent.
type Subscription interface {
	ID() string
	Close() error
	Done() <-chan struct{}
}

// Correlator opens the event stream bound to a correlation id.
type Correlator interface {
	Subscribe(ctx context.Context, streamID string, h StreamHandler) (Subscription, error)
}

// Confirmer asks the user a yes/no question and blocks for the answer.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

package opconsole

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Stream Frame
type StreamFrame struct {
	Output   string `json:"output"`
	Complete bool   `json:"complete"`
	// Heartbeat marks an object carrying neither output nor completion.
	Heartbeat bool `json:"-"`
}

var ErrMalformedFrame = errors.New("malformed stream frame")

// DecodeFrame decodes one `{"output": ..., "complete": ...}` payload.
func DecodeFrame(data []byte) (StreamFrame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return StreamFrame{}, ErrMalformedFrame
	}
	var wire struct {
		Output   *string `json:"output"`
		Complete bool    `json:"complete"`
	}
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return StreamFrame{}, errors.Join(ErrMalformedFrame, err)
	}
	frame := StreamFrame{Complete: wire.Complete}
	if wire.Output != nil {
		frame.Output = *wire.Output
	} else if !wire.Complete {
		frame.Heartbeat = true
	}
	return frame, nil
}

// Leading markers of console messages.
const (
	MarkSuccess   = "✓"
	MarkError     = "✗"
	MarkWarning   = "⚠"
	MarkCelebrate = "🎉"
	MarkLocked    = "🔒"
	MarkSentinel  = "---"
)

const (
	SentinelComplete = "--- Operation Complete ---"
	sentinelEnded    = "--- Stream Ended"
)

// StreamEnded renders the sentinel appended when a stream stops without a
// complete frame.
func StreamEnded(reason string) string {
	if reason == "" {
		return sentinelEnded + " ---"
	}
	return sentinelEnded + ": " + reason + " ---"
}

type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityWarning
	SeverityError
	SeveritySentinel
)

func (s Severity) String() string {
	switch s {
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeveritySentinel:
		return "sentinel"
	default:
		return "info"
	}
}

// InferSeverity reads the leading marker of a message.
func InferSeverity(message string) Severity {
	m := strings.TrimLeft(message, " ")
	switch {
	case strings.HasPrefix(m, MarkSuccess), strings.HasPrefix(m, MarkCelebrate), strings.HasPrefix(m, MarkLocked):
		return SeveritySuccess
	case strings.HasPrefix(m, MarkError):
		return SeverityError
	case strings.HasPrefix(m, MarkWarning):
		return SeverityWarning
	case strings.HasPrefix(m, sentinelEnded):
		return SeverityError
	case strings.HasPrefix(m, MarkSentinel):
		return SeveritySentinel
	default:
		return SeverityInfo
	}
}

// Log Entry
type LogEntry struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
}

// Clock is the capture time as shown next to the message.
func (e LogEntry) Clock() string {
	return e.Timestamp.Format("15:04:05")
}

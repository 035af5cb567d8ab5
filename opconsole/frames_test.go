package opconsole

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"output":"erasing metadata","complete":false}`))
	require.NoError(t, err)
	assert.Equal(t, StreamFrame{Output: "erasing metadata"}, frame)

	frame, err = DecodeFrame([]byte(`{"complete": true}`))
	require.NoError(t, err)
	assert.True(t, frame.Complete)
	assert.False(t, frame.Heartbeat)

	frame, err = DecodeFrame([]byte(`{"type":"connected","execution_id":"x"}`))
	require.NoError(t, err)
	assert.True(t, frame.Heartbeat)

	for _, raw := range []string{"", "not json", `"string"`, "null", `{"output": 12}`, "[1,2]"} {
		_, err := DecodeFrame([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedFrame, raw)
	}
}

func TestAckKind(t *testing.T) {
	assert.Equal(t, AckBare, OperationAck{Message: "ok"}.Kind())
	assert.Equal(t, AckError, OperationAck{Error: "device not connected", StreamID: "s1"}.Kind())
	assert.Equal(t, AckStream, OperationAck{StreamID: "s1", InlineResult: json.RawMessage(`"x"`)}.Kind())
	assert.Equal(t, AckInline, OperationAck{InlineResult: json.RawMessage(`"table"`)}.Kind())
}

func TestInferSeverity(t *testing.T) {
	cases := map[string]Severity{
		"✓ Unlocking...":             SeveritySuccess,
		"🎉 Bootloader unlocked!":     SeveritySuccess,
		"🔒 Bootloader locked":       SeveritySuccess,
		"✗ Error: device not found":  SeverityError,
		"⚠ backend version 0.9.0":    SeverityWarning,
		SentinelComplete:             SeveritySentinel,
		StreamEnded("EOF"):           SeverityError,
		"erasing userdata":           SeverityInfo,
		"  [1/3] checking partition": SeverityInfo,
	}
	for msg, want := range cases {
		assert.Equal(t, want, InferSeverity(msg), msg)
	}
}

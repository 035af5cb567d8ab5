package confirm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclinedDestructiveOperationNeverRuns(t *testing.T) {
	ran := false
	run := func(context.Context) error { ran = true; return nil }

	err := New(AutoDecline).Guard(context.Background(), true, "Erase?", run)
	assert.ErrorIs(t, err, ErrDeclined)
	assert.False(t, ran)

	err = New(nil).Guard(context.Background(), true, "Erase?", run)
	assert.ErrorIs(t, err, ErrDeclined)
	assert.False(t, ran)
}

func TestConfirmerErrorIsDeclined(t *testing.T) {
	failing := Func(func(context.Context, string) (bool, error) { return false, errors.New("dialog closed") })
	ran := false
	err := New(failing).Guard(context.Background(), true, "Lock?", func(context.Context) error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrDeclined)
	assert.False(t, ran)
}

func TestAcceptedOperationRuns(t *testing.T) {
	var asked string
	c := Func(func(_ context.Context, prompt string) (bool, error) { asked = prompt; return true, nil })
	want := errors.New("backend says no")

	err := New(c).Guard(context.Background(), true, "Unlock?", func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)
	assert.Equal(t, "Unlock?", asked)
}

func TestHarmlessOperationSkipsQuestion(t *testing.T) {
	asked := false
	c := Func(func(context.Context, string) (bool, error) { asked = true; return false, nil })
	ran := false
	require.NoError(t, New(c).Guard(context.Background(), false, "", func(context.Context) error { ran = true; return nil }))
	assert.True(t, ran)
	assert.False(t, asked)
}

func TestPromptAnswers(t *testing.T) {
	cases := map[string]bool{
		"y\n":     true,
		"YES\r\n": true,
		" y ":     true,
		"n\n":     false,
		"\n":      false,
		"yep\n":   false,
	}
	for input, want := range cases {
		var out bytes.Buffer
		got, err := NewPrompt(strings.NewReader(input), &out).Confirm(context.Background(), "Erase userdata?")
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
		assert.Equal(t, "Erase userdata? [y/N]: ", out.String())
	}
}

func TestPromptEOFIsDismissal(t *testing.T) {
	got, err := NewPrompt(strings.NewReader(""), io.Discard).Confirm(context.Background(), "Erase?")
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, got)
}

func TestPromptHonorsContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	got, err := NewPrompt(pr, io.Discard).Confirm(ctx, "Erase?")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, got)
}

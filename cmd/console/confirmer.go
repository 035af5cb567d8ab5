package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

type confirmRequest struct {
	prompt string
	answer chan bool
}

type confirmMsg struct {
	req *confirmRequest
}

// modalConfirmer hands the question to the TUI and blocks the operation's
// goroutine until the modal is answered.
type modalConfirmer struct {
	bus chan<- tea.Msg
}

func (c modalConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	req := &confirmRequest{prompt: prompt, answer: make(chan bool, 1)}
	select {
	case c.bus <- confirmMsg{req: req}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-req.answer:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Package confirm gates destructive operations behind a yes/no question.
package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/krisshattanicole/kn3aux-code/opconsole"
	"github.com/rs/zerolog/log"
)

// ErrDeclined means the operation never started: the user said no,
// dismissed the question, or it could not be asked.
var ErrDeclined = errors.New("operation not confirmed")

type Gate struct {
	confirmer opconsole.Confirmer
}

func New(c opconsole.Confirmer) *Gate {
	return &Gate{confirmer: c}
}

// Guard calls run directly for harmless operations. Destructive ones run
// only after a positive answer to prompt.
func (g *Gate) Guard(ctx context.Context, destructive bool, prompt string, run func(context.Context) error) error {
	if !destructive {
		return run(ctx)
	}
	if g.confirmer == nil {
		return ErrDeclined
	}
	ok, err := g.confirmer.Confirm(ctx, prompt)
	if err != nil {
		log.Debug().Err(err).Str("prompt", prompt).Msg("confirmation dismissed")
		return fmt.Errorf("%w: %v", ErrDeclined, err)
	}
	if !ok {
		return ErrDeclined
	}
	return run(ctx)
}

// Func adapts a function to opconsole.Confirmer.
type Func func(ctx context.Context, prompt string) (bool, error)

func (f Func) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// AutoAccept and AutoDecline answer without asking, for scripted runs.
var (
	AutoAccept  = Func(func(context.Context, string) (bool, error) { return true, nil })
	AutoDecline = Func(func(context.Context, string) (bool, error) { return false, nil })
)

// Prompt asks on a line-oriented terminal. Only "y" and "yes" confirm.
type Prompt struct {
	mu     sync.Mutex
	reader *bufio.Reader
	out    io.Writer
}

func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{reader: bufio.NewReader(in), out: out}
}

type lineResult struct {
	line string
	err  error
}

// Confirm blocks until a line is read or ctx ends. A cancelled question
// leaves its read pending; the next line read belongs to it.
func (p *Prompt) Confirm(ctx context.Context, prompt string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "%s [y/N]: ", prompt)
	res := make(chan lineResult, 1)
	go func() {
		line, err := p.reader.ReadString('\n')
		res <- lineResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return false, ctx.Err()
	case r := <-res:
		if r.err != nil && (r.line == "" || !errors.Is(r.err, io.EOF)) {
			return false, r.err
		}
		answer := strings.ToLower(strings.TrimSpace(r.line))
		return answer == "y" || answer == "yes", nil
	}
}

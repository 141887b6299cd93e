package mutation

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Prompt is the candidate/original pair presented to the user before a risky
// change proceeds.
type Prompt struct {
	Title     string
	Original  any
	Candidate any
}

// Confirmer gates a mutation on an explicit user yes/no. Confirm suspends
// until the user answers or ctx is canceled; cancellation (teardown, logout)
// counts as a decline.
type Confirmer interface {
	Confirm(ctx context.Context, prompt Prompt) (bool, error)
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, prompt Prompt) (bool, error)

func (f ConfirmerFunc) Confirm(ctx context.Context, prompt Prompt) (bool, error) {
	return f(ctx, prompt)
}

type pendingConfirmation struct {
	prompt Prompt
	answer chan bool
}

// GateConfirmer is the channel-backed confirmation gate. The engine suspends
// in Confirm while the dialog layer reads Pending and resolves it with
// Approve or Decline. One prompt may be pending at a time; the engine never
// opens a second gate while one is unresolved.
type GateConfirmer struct {
	lock    sync.Mutex
	pending *pendingConfirmation
}

func NewGateConfirmer() *GateConfirmer {
	return &GateConfirmer{}
}

func (g *GateConfirmer) Confirm(ctx context.Context, prompt Prompt) (bool, error) {
	g.lock.Lock()
	if g.pending != nil {
		g.lock.Unlock()
		return false, errors.New("[GateConfirmer.Confirm] a confirmation is already pending")
	}
	p := &pendingConfirmation{prompt: prompt, answer: make(chan bool, 1)}
	g.pending = p
	g.lock.Unlock()

	defer func() {
		g.lock.Lock()
		if g.pending == p {
			g.pending = nil
		}
		g.lock.Unlock()
	}()

	select {
	case <-ctx.Done():
		return false, errors.Wrap(ctx.Err(), "[GateConfirmer.Confirm] canceled")
	case answer := <-p.answer:
		return answer, nil
	}
}

// Pending returns the prompt awaiting an answer, if any.
func (g *GateConfirmer) Pending() (Prompt, bool) {
	g.lock.Lock()
	defer g.lock.Unlock()

	if g.pending == nil {
		return Prompt{}, false
	}
	return g.pending.prompt, true
}

// Approve resolves the pending confirmation with yes.
func (g *GateConfirmer) Approve() bool {
	return g.resolve(true)
}

// Decline resolves the pending confirmation with no.
func (g *GateConfirmer) Decline() bool {
	return g.resolve(false)
}

func (g *GateConfirmer) resolve(answer bool) bool {
	g.lock.Lock()
	defer g.lock.Unlock()

	if g.pending == nil {
		return false
	}
	g.pending.answer <- answer
	g.pending = nil
	return true
}

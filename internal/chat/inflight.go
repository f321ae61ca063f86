package chat

import (
	"context"
	"sync"
)

// InFlight tracks the streaming turn of each visitor. Starting a turn cancels the one
// already running for that visitor.
type InFlight struct {
	mu    sync.Mutex
	next  uint64
	turns map[string]inflightTurn
}

type inflightTurn struct {
	id     uint64
	cancel context.CancelFunc
}

func NewInFlight() *InFlight {
	return &InFlight{turns: make(map[string]inflightTurn)}
}

// Begin registers a new turn for visitorID and returns its context. The returned func must be
// called when the turn ends.
func (f *InFlight) Begin(parent context.Context, visitorID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	f.mu.Lock()
	f.next++
	id := f.next
	if prev, ok := f.turns[visitorID]; ok {
		prev.cancel()
	}
	f.turns[visitorID] = inflightTurn{id: id, cancel: cancel}
	f.mu.Unlock()

	return ctx, func() {
		f.mu.Lock()
		if cur, ok := f.turns[visitorID]; ok && cur.id == id {
			delete(f.turns, visitorID)
		}
		f.mu.Unlock()
		cancel()
	}
}

// Cancel stops the visitor's running turn, if any.
func (f *InFlight) Cancel(visitorID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.turns[visitorID]
	if !ok {
		return false
	}
	cur.cancel()
	delete(f.turns, visitorID)
	return true
}

func (f *InFlight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns)
}

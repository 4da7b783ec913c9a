package app

import "sync"

// Effector translates a verdict into a visible effect on whatever surface
// renders the card. Implementations must be idempotent and reversible:
// applying the same verdict twice is a no-op, and an allow un-hides.
type Effector interface {
	Apply(key string, verdict Verdict)
}

// StateEffector is a map-backed Effector that records the hidden state
// per card key. It backs the CLI output and tests; the DOM-facing
// implementation lives with the page glue, outside this module.
type StateEffector struct {
	mu     sync.Mutex
	hidden map[string]Verdict
}

func NewStateEffector() *StateEffector {
	return &StateEffector{hidden: make(map[string]Verdict)}
}

// Apply records or clears the hidden state for a card key.
func (e *StateEffector) Apply(key string, verdict Verdict) {
	if key == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if verdict.Hide {
		e.hidden[key] = verdict
	} else {
		delete(e.hidden, key)
	}
}

// Hidden reports whether a card key is currently hidden.
func (e *StateEffector) Hidden(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.hidden[key]
	return ok
}

// HiddenCount returns the number of hidden cards.
func (e *StateEffector) HiddenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.hidden)
}

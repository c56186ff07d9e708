package cache

import "sync"

// Selection tracks programmatic conversation-selection changes so the
// resulting notification is not re-interpreted as user input. Each
// programmatic change registers its own one-shot token; the single handler
// that reacts to the selection notification consumes it. Tokens are counted
// per conversation, so back-to-back programmatic selections of the same
// conversation cannot race each other the way a shared boolean flag would.
type Selection struct {
	mu      sync.Mutex
	current string
	pending map[string]int
}

// NewSelection creates an empty selection tracker.
func NewSelection() *Selection {
	return &Selection{pending: make(map[string]int)}
}

// MarkProgrammatic registers that the next selection change to jid
// originates from code rather than the user.
func (s *Selection) MarkProgrammatic(jid string) {
	s.mu.Lock()
	s.pending[jid]++
	s.mu.Unlock()
}

// Consume reports whether a selection change to jid was programmatic,
// spending one token if so. A handler seeing false treats the change as
// user-driven.
func (s *Selection) Consume(jid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[jid] > 0 {
		s.pending[jid]--
		if s.pending[jid] == 0 {
			delete(s.pending, jid)
		}
		return true
	}
	return false
}

// Set records the currently selected conversation.
func (s *Selection) Set(jid string) {
	s.mu.Lock()
	s.current = jid
	s.mu.Unlock()
}

// Current returns the currently selected conversation, or empty.
func (s *Selection) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

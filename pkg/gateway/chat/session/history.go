package session

import "sync"

// historyManager keeps the rendered conversation lines for one connection.
// Turn goroutines append while the read loop may clear, so access is locked.
type historyManager struct {
	mu      sync.Mutex
	lines   []string
	maxKeep int
}

func newHistoryManager(maxKeep int) *historyManager {
	if maxKeep <= 0 {
		maxKeep = 6
	}
	return &historyManager{maxKeep: maxKeep}
}

// appendExchange records one completed turn and evicts the oldest lines so
// the store never holds more than maxKeep. A session can run for hours, so
// the bound has to apply to storage, not just snapshots.
func (h *historyManager) appendExchange(userText, aiText string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = append(h.lines, "User: "+userText, "AI: "+aiText)
	if len(h.lines) > h.maxKeep {
		drop := len(h.lines) - h.maxKeep
		h.lines = append(h.lines[:0], h.lines[drop:]...)
	}
}

// snapshot returns a copy of the newest lines, at most maxKeep of them.
func (h *historyManager) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := 0
	if len(h.lines) > h.maxKeep {
		start = len(h.lines) - h.maxKeep
	}
	out := make([]string, len(h.lines)-start)
	copy(out, h.lines[start:])
	return out
}

func (h *historyManager) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines = nil
}

func (h *historyManager) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lines)
}

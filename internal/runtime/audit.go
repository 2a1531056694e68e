package runtime

import (
	"sync"

	messagepkg "github.com/drblury/ttcflow/internal/runtime/message"
)

// auditLog keeps the most recent control messages in a fixed-size ring.
type auditLog struct {
	mu      sync.Mutex
	entries []messagepkg.Message
	next    int
	filled  int
	total   uint64
}

func newAuditLog(capacity int) *auditLog {
	return &auditLog{entries: make([]messagepkg.Message, capacity)}
}

// Record appends msg, evicting the oldest entry when full.
func (a *auditLog) Record(msg messagepkg.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[a.next] = msg
	a.next = (a.next + 1) % len(a.entries)
	if a.filled < len(a.entries) {
		a.filled++
	}
	a.total++
}

// Snapshot returns the retained entries, oldest first.
func (a *auditLog) Snapshot() []messagepkg.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]messagepkg.Message, 0, a.filled)
	start := a.next - a.filled
	if start < 0 {
		start += len(a.entries)
	}
	for i := 0; i < a.filled; i++ {
		out = append(out, a.entries[(start+i)%len(a.entries)])
	}
	return out
}

func (a *auditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.filled
}

func (a *auditLog) Total() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

func (a *auditLog) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.entries)
	a.next, a.filled, a.total = 0, 0, 0
}

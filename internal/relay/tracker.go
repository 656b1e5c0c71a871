// internal/relay/tracker.go
package relay

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the activity counters
type Snapshot struct {
	ActiveConnections int       `json:"active_connections"`
	TotalMessages     uint64    `json:"total_messages"`
	LastMessageAt     time.Time `json:"last_message_at"`
}

// HasMessages reports whether any message was ever received
func (s Snapshot) HasMessages() bool {
	return s.TotalMessages > 0
}

// ActivityTracker holds the process-wide liveness counters. The message
// count only grows; the connection count mirrors the live-connection set.
type ActivityTracker struct {
	mutex             sync.RWMutex
	activeConnections int
	totalMessages     uint64
	lastMessageAt     time.Time
	now               func() time.Time
}

// NewActivityTracker creates a tracker with all counters at zero
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{now: time.Now}
}

// SetActiveConnections records the current size of the live-connection set
func (t *ActivityTracker) SetActiveConnections(n int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.activeConnections = n
}

// AddMessages counts n received segments
func (t *ActivityTracker) AddMessages(n int) {
	if n <= 0 {
		return
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.totalMessages += uint64(n)
}

// Touch stamps the time of the most recent message batch
func (t *ActivityTracker) Touch() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.lastMessageAt = t.now()
}

// Snapshot returns the current counters
func (t *ActivityTracker) Snapshot() Snapshot {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return Snapshot{
		ActiveConnections: t.activeConnections,
		TotalMessages:     t.totalMessages,
		LastMessageAt:     t.lastMessageAt,
	}
}

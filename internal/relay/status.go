// internal/relay/status.go
package relay

import (
	"context"
	"time"
)

// StatusTicker periodically reports the tracker's counters to a sink
type StatusTicker struct {
	tracker  *ActivityTracker
	sink     Sink
	interval time.Duration
	now      func() time.Time
}

// NewStatusTicker creates a ticker reporting every interval
func NewStatusTicker(tracker *ActivityTracker, sink Sink, interval time.Duration) *StatusTicker {
	return &StatusTicker{
		tracker:  tracker,
		sink:     sink,
		interval: interval,
		now:      time.Now,
	}
}

// Run reports once immediately and then on every tick until ctx is done
func (s *StatusTicker) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Emit()
		}
	}
}

// Emit sends one status report
func (s *StatusTicker) Emit() {
	s.sink.Status(StatusOf(s.tracker.Snapshot(), s.now()))
}

// StatusOf derives a status report from a snapshot taken at now
func StatusOf(snap Snapshot, now time.Time) Status {
	status := Status{
		ActiveConnections: snap.ActiveConnections,
		TotalMessages:     snap.TotalMessages,
		HasMessages:       snap.HasMessages(),
	}
	if status.HasMessages && !snap.LastMessageAt.IsZero() {
		status.LastMessageAge = now.Sub(snap.LastMessageAt)
	}
	return status
}

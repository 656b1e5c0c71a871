// internal/relay/events.go
package relay

import "time"

// Status is the periodic liveness report
type Status struct {
	ActiveConnections int           `json:"active_connections"`
	TotalMessages     uint64        `json:"total_messages"`
	LastMessageAge    time.Duration `json:"last_message_age"`
	HasMessages       bool          `json:"has_messages"`
}

// Sink receives the relay's events. Implementations must be safe for
// concurrent use: every connection reports from its own goroutine.
type Sink interface {
	Connected(address string, port int)
	Disconnected(address string, port int)
	ParseWarning(err error)
	Fatal(message string)
	Status(status Status)
}

// NopSink discards all events
type NopSink struct{}

func (NopSink) Connected(string, int)    {}
func (NopSink) Disconnected(string, int) {}
func (NopSink) ParseWarning(error)       {}
func (NopSink) Fatal(string)             {}
func (NopSink) Status(Status)            {}

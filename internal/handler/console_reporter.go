// internal/handler/console_reporter.go
package handler

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"afterglow/internal/relay"
)

// ConsoleReporter renders relay events as operator log lines
type ConsoleReporter struct {
	logger     *zap.Logger
	staleAfter time.Duration

	mutex      sync.Mutex
	lastStatus string
}

// NewConsoleReporter creates a reporter. A last message older than
// staleAfter is called out in status lines.
func NewConsoleReporter(logger *zap.Logger, staleAfter time.Duration) *ConsoleReporter {
	return &ConsoleReporter{
		logger:     logger.With(zap.String("component", "reporter")),
		staleAfter: staleAfter,
	}
}

// Connected implements relay.Sink
func (r *ConsoleReporter) Connected(address string, port int) {
	r.logger.Info(fmt.Sprintf("Socket %s:%d: CONNECTED", address, port))
}

// Disconnected implements relay.Sink
func (r *ConsoleReporter) Disconnected(address string, port int) {
	r.logger.Info(fmt.Sprintf("Socket %s:%d: DISCONNECTED", address, port))
}

// ParseWarning implements relay.Sink
func (r *ConsoleReporter) ParseWarning(err error) {
	r.logger.Warn("Received invalid formatted message.", zap.Error(err))
}

// Fatal implements relay.Sink
func (r *ConsoleReporter) Fatal(message string) {
	r.logger.Error("Panic: " + message)
}

// Status implements relay.Sink. A line is logged only when the counts
// change or the last message crosses into a coarser age bucket, so a
// quiet relay does not log every tick.
func (r *ConsoleReporter) Status(status relay.Status) {
	key := statusKey(status, r.staleAfter)

	r.mutex.Lock()
	changed := key != r.lastStatus
	r.lastStatus = key
	r.mutex.Unlock()

	if changed {
		r.logger.Info(FormatStatus(status, r.staleAfter))
	}
}

// FormatStatus renders "N Sockets, M Packages" with the age of the last
// message once it is at least staleAfter old
func FormatStatus(status relay.Status, staleAfter time.Duration) string {
	line := fmt.Sprintf("%d %s, %d %s",
		status.ActiveConnections, plural(uint64(status.ActiveConnections), "Socket"),
		status.TotalMessages, plural(status.TotalMessages, "Package"),
	)

	if !isStale(status, staleAfter) {
		return line
	}
	if status.LastMessageAge < time.Minute {
		return line + fmt.Sprintf(" (last %ds ago)", int(status.LastMessageAge.Seconds()))
	}
	return line + " (last " + HumanizeAge(status.LastMessageAge) + ")"
}

func isStale(status relay.Status, staleAfter time.Duration) bool {
	return status.HasMessages && status.LastMessageAge >= staleAfter
}

func statusKey(status relay.Status, staleAfter time.Duration) string {
	age := "fresh"
	if isStale(status, staleAfter) {
		age = "stale"
		if status.LastMessageAge >= time.Minute {
			age = HumanizeAge(status.LastMessageAge)
		}
	}
	return fmt.Sprintf("%d/%d/%s", status.ActiveConnections, status.TotalMessages, age)
}

const month = 304 * 24 * time.Hour / 10

// ageMagnitudes holds the relative-time buckets, upper bounds exclusive
var ageMagnitudes = []humanize.RelTimeMagnitude{
	{D: 45 * time.Second, Format: "a few seconds %s", DivBy: 1},
	{D: 90 * time.Second, Format: "a minute %s", DivBy: 1},
	{D: 45 * time.Minute, Format: "%d minutes %s", DivBy: time.Minute},
	{D: 90 * time.Minute, Format: "an hour %s", DivBy: 1},
	{D: 22 * time.Hour, Format: "%d hours %s", DivBy: time.Hour},
	{D: 36 * time.Hour, Format: "a day %s", DivBy: 1},
	{D: 26 * 24 * time.Hour, Format: "%d days %s", DivBy: 24 * time.Hour},
	{D: 46 * 24 * time.Hour, Format: "a month %s", DivBy: 1},
	{D: 320 * 24 * time.Hour, Format: "%d months %s", DivBy: month},
	{D: 548 * 24 * time.Hour, Format: "a year %s", DivBy: 1},
	{D: math.MaxInt64, Format: "%d years %s", DivBy: 365 * 24 * time.Hour},
}

// HumanizeAge renders a duration in the past as relative time. Counts are
// rounded to their unit, so 44m40s reads as "an hour ago".
func HumanizeAge(age time.Duration) string {
	for _, m := range ageMagnitudes {
		if age < m.D {
			if m.DivBy > 1 {
				age = age.Round(m.DivBy)
			}
			break
		}
	}

	now := time.Unix(0, 0)
	return humanize.CustomRelTime(now.Add(-age), now, "ago", "from now", ageMagnitudes)
}

func plural(n uint64, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// Package quota implements the DeviceOutputCounter entity (C8 side
// effect): a per-device count of characters emitted as speech today,
// reset at local midnight and checked against a daily limit. Grounded on
// the same storage duality the teacher's memory providers use: an
// in-process InMemory counter and a Postgres-backed one. The HTTP server
// constructs InMemory; nothing in this module constructs Postgres.
package quota

import (
	"context"
	"sync"
	"time"
)

// Counter tracks characters emitted per device per local day.
type Counter interface {
	// Add records n additional characters emitted for deviceID "now" and
	// returns the running total for the device's current local day. The
	// total resets to n (not n plus yesterday's total) the first time Add
	// is called after local midnight.
	Add(ctx context.Context, deviceID string, n int) (total int, err error)
}

// InMemory is the default Counter: a process-local map keyed by device id,
// each entry carrying the local calendar date it was last touched. It does
// not survive a restart, matching the teacher's in-process memory default.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]dailyEntry
	now     func() time.Time
}

type dailyEntry struct {
	date  string // YYYY-MM-DD in local time
	total int
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]dailyEntry), now: time.Now}
}

func (c *InMemory) Add(_ context.Context, deviceID string, n int) (int, error) {
	today := localDate(c.now())

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[deviceID]
	if !ok || e.date != today {
		e = dailyEntry{date: today}
	}
	e.total += n
	c.entries[deviceID] = e
	return e.total, nil
}

func localDate(t time.Time) string {
	return t.Local().Format("2006-01-02")
}

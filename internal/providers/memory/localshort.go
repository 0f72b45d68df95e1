// Package memory provides the concrete Memory providers named by
// spec's memory_type config: "nomem" lives as providers.NoMemory since it
// needs no state; this package adds "mem_local_short" (in-process, summary
// on save) and "remote" (Postgres-backed, cross-restart).
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/antoniostano/gatewayd/internal/dialogue"
)

const defaultShortSummaryTurns = 6

// LocalShort keeps a short, in-process rolling summary per user: on Save
// it folds the dialogue's last few turns into a single text blob, and
// Query returns that blob verbatim. It does not survive a restart.
type LocalShort struct {
	mu       sync.RWMutex
	summary  map[string]string
	maxTurns int
}

func NewLocalShort() *LocalShort {
	return &LocalShort{summary: make(map[string]string), maxTurns: defaultShortSummaryTurns}
}

func (m *LocalShort) Query(_ context.Context, userID, _ string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summary[userID], nil
}

func (m *LocalShort) Save(_ context.Context, userID string, d *dialogue.Dialogue) error {
	msgs := d.Messages()
	start := len(msgs) - m.maxTurns
	if start < 1 { // never drop the system message by re-including it
		start = 1
	}

	var b strings.Builder
	for _, msg := range msgs[start:] {
		if msg.Content == "" {
			continue
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary[userID] = strings.TrimSpace(b.String())
	return nil
}

func (m *LocalShort) Close() error { return nil }

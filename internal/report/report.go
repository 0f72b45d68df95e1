// Package report implements the per-session history report pipeline
// (C13): a background worker that drains a queue of user/assistant
// utterances and ships them to the management API, re-encoding Opus audio
// to WAV first. Grounded on SPEC_FULL.md §4.8 and on the teacher's
// detached-worker-on-close pattern used elsewhere for memory saves.
package report

import (
	"context"
	"time"

	"github.com/antoniostano/gatewayd/internal/audio"
	"github.com/antoniostano/gatewayd/internal/gatewaylog"
	"github.com/antoniostano/gatewayd/internal/mgmtapi"
	"github.com/antoniostano/gatewayd/internal/reliability"
)

const queueDepth = 64

// Queue is one session's report worker: a buffered channel plus the
// goroutine draining it, bound to the session's lifetime.
type Queue struct {
	entries chan entry
	done    chan struct{}
}

type entry struct {
	kind      mgmtapi.ReportKind
	text      string
	opusFrames [][]byte
	sampleRate int
	ts        time.Time
}

// Start launches a report worker for deviceID, shipping entries to client
// until ctx is cancelled or Close is called. Failures are logged and
// dropped per SPEC_FULL.md §4.8 — a report worker never blocks a turn or
// crashes a session.
func Start(ctx context.Context, client mgmtapi.Client, deviceID string, logger *gatewaylog.Logger) *Queue {
	if logger == nil {
		logger = gatewaylog.Nop()
	}
	q := &Queue{
		entries: make(chan entry, queueDepth),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(q.done)
		policy := reliability.DefaultPolicy()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-q.entries:
				if !ok {
					return
				}
				q.deliver(ctx, client, deviceID, e, policy, logger)
			}
		}
	}()

	return q
}

func (q *Queue) deliver(ctx context.Context, client mgmtapi.Client, deviceID string, e entry, policy reliability.Policy, logger *gatewaylog.Logger) {
	var wav []byte
	if len(e.opusFrames) > 0 {
		sampleRate := e.sampleRate
		if sampleRate == 0 {
			sampleRate = 16000
		}
		w, err := audio.PCMToWAVFrames(e.opusFrames, sampleRate)
		if err != nil {
			logger.Warnw("report: opus-to-wav conversion failed, shipping without audio", "device_id", deviceID, "error", err)
		} else {
			wav = w
		}
	}

	reportEntry := mgmtapi.ReportEntry{Kind: e.kind, Text: e.text, AudioWAV: wav, Timestamp: e.ts}
	err := policy.Do(ctx, func(ctx context.Context) error {
		return client.ReportUtterance(ctx, deviceID, reportEntry)
	})
	if err != nil {
		logger.Warnw("report: dropping utterance after delivery failure", "device_id", deviceID, "kind", e.kind, "error", err)
	}
}

// EnqueueUser queues a user-role utterance for reporting.
func (q *Queue) EnqueueUser(text string, opusFrames [][]byte, sampleRate int) {
	q.enqueue(entry{kind: mgmtapi.ReportUser, text: text, opusFrames: opusFrames, sampleRate: sampleRate, ts: time.Now()})
}

// EnqueueAssistant queues an assistant-role utterance for reporting.
func (q *Queue) EnqueueAssistant(text string, opusFrames [][]byte, sampleRate int) {
	q.enqueue(entry{kind: mgmtapi.ReportAssistant, text: text, opusFrames: opusFrames, sampleRate: sampleRate, ts: time.Now()})
}

func (q *Queue) enqueue(e entry) {
	select {
	case q.entries <- e:
	default:
		// Queue saturated: drop rather than block the turn that produced
		// this entry, matching SPEC_FULL.md §4.8's drop-on-failure stance.
	}
}

// Close stops accepting new entries and waits for the worker to drain
// whatever is already queued, up to the given deadline.
func (q *Queue) Close(deadline time.Duration) {
	close(q.entries)
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-q.done:
	case <-timer.C:
	}
}

// Package ttsengine turns a stream of LLM text deltas into paced Opus
// audio frames on the device socket: it segments text into sentences,
// synthesizes each sentence with retry-then-drop semantics, and paces the
// resulting frames out at wall-clock speed with a short fast-start burst.
package ttsengine

import (
	"context"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/antoniostano/gatewayd/internal/providers"
	"github.com/antoniostano/gatewayd/internal/quota"
	"github.com/antoniostano/gatewayd/internal/reliability"
	"github.com/antoniostano/gatewayd/internal/xerrors"
	"github.com/google/uuid"
)

const (
	// FrameDuration is the wall-clock duration a single Opus frame covers.
	FrameDuration = 60 * time.Millisecond
	// FastStartFrames is how many frames are sent back-to-back before
	// pacing kicks in, so playback starts immediately instead of stalling
	// on the first frame's full 60ms wait.
	FastStartFrames = 3
	// MaxSynthesisAttempts is how many times New's engine tries a single
	// sentence against the TTS provider before it is dropped.
	MaxSynthesisAttempts = 5
)

// SentenceState mirrors the FIRST/MIDDLE*/LAST framing sent to the device
// for one synthesized sentence.
type SentenceState string

const (
	SentenceFirst  SentenceState = "first"
	SentenceMiddle SentenceState = "middle"
	SentenceLast   SentenceState = "last"
)

// Frame is a single unit of output: either a control boundary (Start/End
// with no audio) or an audio-bearing frame.
type Frame struct {
	SentenceID string
	State      SentenceState
	Text       string // set only on the first frame of a sentence
	Opus       []byte
}

// Sink receives engine output in order. Implementations forward Frame
// audio/control events onto the device socket.
type Sink interface {
	Send(ctx context.Context, f Frame) error
}

// Engine drives text-delta segmentation, synthesis and paced delivery for
// one connection's turn.
type Engine struct {
	tts   providers.TTS
	sink  Sink
	retry reliability.Policy
	seg   *segmenter

	quota        quota.Counter
	deviceID     string
	dailyLimit   int // 0 disables quota enforcement
	quotaTripped bool

	// aborted is the cancellation token threaded from connection.Abort
	// (spec §5/§9): checked at every yield point in the synthesis/pacing
	// loop so a barge-in stops mid-sentence instead of only at the next
	// LLM chunk boundary.
	aborted atomic.Bool
}

// quotaExceededAnnouncement is the pre-canned phrase synthesized in place
// of the turn's remaining sentences once the daily quota trips (spec
// §4.2/§8 property 7). Spoken through the normal TTS provider rather than
// a static asset file, matching speakBindCode's pattern for announcements
// that have no natural place in the dialogue.
const quotaExceededAnnouncement = "You've reached today's speaking limit for this device. Please try again tomorrow."

func New(tts providers.TTS, sink Sink) *Engine {
	policy := reliability.Policy{MaxRetries: MaxSynthesisAttempts - 1, Delay: reliability.DefaultDelay}
	return &Engine{tts: tts, sink: sink, retry: policy, seg: newSegmenter()}
}

// NewWithPolicy is New with an explicit retry policy, for tests and for
// callers that need a different bound than New's MaxSynthesisAttempts.
func NewWithPolicy(tts providers.TTS, sink Sink, policy reliability.Policy) *Engine {
	return &Engine{tts: tts, sink: sink, retry: policy, seg: newSegmenter()}
}

// SetQuota enables the DeviceOutputCounter daily-character-quota check
// (spec §4.2/§8 property 7). A dailyLimit of 0 leaves quota enforcement
// disabled, matching the zero-value Engine's behavior.
func (e *Engine) SetQuota(counter quota.Counter, deviceID string, dailyLimit int) {
	e.quota = counter
	e.deviceID = deviceID
	e.dailyLimit = dailyLimit
}

// Abort requests immediate cessation of in-flight and queued synthesis
// per spec §4.2 ("On client_abort, stop the inner loop immediately") and
// §8 property 2. It is safe to call concurrently with PushDelta/Finish;
// the next check point (sentence start or audio-frame loop) observes it
// and stops emitting without sending the dropped sentences' frames.
func (e *Engine) Abort() {
	e.aborted.Store(true)
}

// ResetAbort clears the abort flag so the engine can serve a fresh turn.
// Callers reset it at the start of each new top-level turn, not on tool-
// call recursion, so an abort mid-turn stays sticky through the turn.
func (e *Engine) ResetAbort() {
	e.aborted.Store(false)
}

// PushDelta feeds one LLM text delta into the sentence segmenter and
// synthesizes+delivers any sentence it completes.
func (e *Engine) PushDelta(ctx context.Context, delta string) error {
	clean := sanitizeSpeechText(delta)
	if clean == "" {
		return nil
	}
	for _, sentence := range e.seg.Push(clean) {
		if err := e.speakSentence(ctx, sentence); err != nil {
			return err
		}
	}
	return nil
}

// Finish flushes any buffered partial sentence and ends the turn.
func (e *Engine) Finish(ctx context.Context) error {
	for _, sentence := range e.seg.Finalize() {
		if err := e.speakSentence(ctx, sentence); err != nil {
			return err
		}
	}
	return nil
}

// speakSentence enforces the daily output quota before synthesizing: once
// tripped for this turn, further sentences are dropped silently (the
// assistant dialogue entry is still written by the caller, mirroring the
// TTSException drop-and-continue policy) after the one quota-exceeded
// announcement has played.
func (e *Engine) speakSentence(ctx context.Context, text string) error {
	if e.aborted.Load() {
		return nil
	}
	if e.quotaTripped {
		return nil
	}
	if e.quotaExceeded(ctx, text) {
		e.quotaTripped = true
		return e.synthesizeAndSend(ctx, quotaExceededAnnouncement)
	}
	return e.synthesizeAndSend(ctx, text)
}

// quotaExceeded records text's characters against the device's daily
// counter and reports whether that pushed it over dailyLimit. It is a
// no-op (never exceeded) when quota enforcement isn't configured.
func (e *Engine) quotaExceeded(ctx context.Context, text string) bool {
	if e.quota == nil || e.dailyLimit <= 0 {
		return false
	}
	total, err := e.quota.Add(ctx, e.deviceID, utf8.RuneCountInString(text))
	if err != nil {
		return false
	}
	return total > e.dailyLimit
}

func (e *Engine) synthesizeAndSend(ctx context.Context, text string) error {
	sentenceID := uuid.NewString()

	var stream providers.TTSStream
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		var startErr error
		stream, startErr = e.tts.StartStream(ctx, providers.TTSSettings{})
		if startErr != nil {
			return xerrors.New(xerrors.KindProviderTransient, "ttsengine.StartStream", startErr)
		}
		return nil
	})
	if err != nil {
		// Per base.py's retry-and-drop behavior: a sentence that never
		// synthesizes is skipped rather than failing the whole turn.
		return nil
	}
	defer stream.Close()

	if err := stream.SendText(ctx, text); err != nil {
		return nil
	}
	if err := stream.CloseInput(ctx); err != nil {
		return nil
	}

	first := true
	frameCount := 0
	var lastSend time.Time

	if err := e.sink.Send(ctx, Frame{SentenceID: sentenceID, State: SentenceFirst, Text: text}); err != nil {
		return err
	}

	for ev := range stream.Events() {
		if e.aborted.Load() {
			return nil
		}
		switch ev.Type {
		case providers.TTSEventAudio:
			state := SentenceMiddle
			frame := Frame{SentenceID: sentenceID, State: state, Opus: ev.Opus}
			if frameCount >= FastStartFrames {
				if !lastSend.IsZero() {
					sleepUntil(ctx, lastSend.Add(FrameDuration))
				}
			}
			if e.aborted.Load() {
				return nil
			}
			if err := e.sink.Send(ctx, frame); err != nil {
				return err
			}
			lastSend = time.Now()
			frameCount++
			_ = first
			first = false
		case providers.TTSEventError:
			// Drop the remainder of this sentence; the turn continues.
			return nil
		case providers.TTSEventFinal:
			return e.sink.Send(ctx, Frame{SentenceID: sentenceID, State: SentenceLast})
		}
	}
	return e.sink.Send(ctx, Frame{SentenceID: sentenceID, State: SentenceLast})
}

func sleepUntil(ctx context.Context, t time.Time) {
	d := time.Until(t)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

package ttsengine

import (
	"context"
	"testing"
	"time"

	"github.com/antoniostano/gatewayd/internal/providers"
	"github.com/antoniostano/gatewayd/internal/quota"
	"github.com/antoniostano/gatewayd/internal/reliability"
)

type recordingSink struct {
	frames []Frame
}

func (s *recordingSink) Send(_ context.Context, f Frame) error {
	s.frames = append(s.frames, f)
	return nil
}

func TestEngineEmitsFirstMiddleLastFraming(t *testing.T) {
	tts := providers.NewMockProvider()
	sink := &recordingSink{}
	e := New(tts, sink)

	ctx := context.Background()
	if err := e.PushDelta(ctx, "Hello there, friend."); err != nil {
		t.Fatalf("PushDelta() error = %v", err)
	}
	if err := e.Finish(ctx); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	if len(sink.frames) == 0 {
		t.Fatalf("expected at least one frame")
	}
	if sink.frames[0].State != SentenceFirst {
		t.Fatalf("first frame state = %q, want %q", sink.frames[0].State, SentenceFirst)
	}
	last := sink.frames[len(sink.frames)-1]
	if last.State != SentenceLast {
		t.Fatalf("last frame state = %q, want %q", last.State, SentenceLast)
	}
}

func TestEngineDropsSentenceOnSynthesisFailure(t *testing.T) {
	sink := &recordingSink{}
	e := NewWithPolicy(failingTTS{}, sink, reliability.Policy{MaxRetries: 1, Delay: time.Millisecond})

	if err := e.PushDelta(context.Background(), "Hello there, friend."); err != nil {
		t.Fatalf("PushDelta() error = %v", err)
	}
	if len(sink.frames) != 0 {
		t.Fatalf("frames = %v, want none when every synthesis attempt fails", sink.frames)
	}
}

func TestEngineSpeaksQuotaAnnouncementOnceLimitExceeded(t *testing.T) {
	tts := providers.NewMockProvider()
	sink := &recordingSink{}
	e := New(tts, sink)
	e.SetQuota(quota.NewInMemory(), "device-1", 10)

	ctx := context.Background()
	if err := e.PushDelta(ctx, "This sentence is much longer than the limit."); err != nil {
		t.Fatalf("PushDelta() error = %v", err)
	}
	if err := e.Finish(ctx); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	var texts []string
	for _, f := range sink.frames {
		if f.State == SentenceFirst {
			texts = append(texts, f.Text)
		}
	}
	if len(texts) != 1 || texts[0] != quotaExceededAnnouncement {
		t.Fatalf("first-frame texts = %v, want exactly one quota announcement", texts)
	}
}

func TestEngineDoesNotEnforceQuotaWhenUnset(t *testing.T) {
	tts := providers.NewMockProvider()
	sink := &recordingSink{}
	e := New(tts, sink)

	if err := e.PushDelta(context.Background(), "Hello there, friend."); err != nil {
		t.Fatalf("PushDelta() error = %v", err)
	}
	if err := e.Finish(context.Background()); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if len(sink.frames) == 0 {
		t.Fatalf("expected frames when quota enforcement is unset")
	}
}

func TestEngineAbortStopsFurtherSynthesis(t *testing.T) {
	tts := providers.NewMockProvider()
	sink := &recordingSink{}
	e := New(tts, sink)
	e.Abort()

	ctx := context.Background()
	if err := e.PushDelta(ctx, "A. B. C."); err != nil {
		t.Fatalf("PushDelta() error = %v", err)
	}
	if err := e.Finish(ctx); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	if len(sink.frames) != 0 {
		t.Fatalf("frames = %v, want none once aborted", sink.frames)
	}
}

func TestEngineResetAbortAllowsSubsequentSpeech(t *testing.T) {
	tts := providers.NewMockProvider()
	sink := &recordingSink{}
	e := New(tts, sink)
	e.Abort()
	e.ResetAbort()

	ctx := context.Background()
	if err := e.PushDelta(ctx, "Hello there, friend."); err != nil {
		t.Fatalf("PushDelta() error = %v", err)
	}
	if err := e.Finish(ctx); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	if len(sink.frames) == 0 {
		t.Fatalf("expected frames after ResetAbort")
	}
}

// abortingStream emits a configurable number of audio frames and lets the
// test abort the engine after a chosen frame has been observed by the
// sink, so the mid-stream check in synthesizeAndSend's loop (not just the
// per-sentence check) is exercised.
type abortingStream struct {
	events chan providers.TTSEvent
}

func newAbortingStream(audioFrames int) *abortingStream {
	s := &abortingStream{events: make(chan providers.TTSEvent, audioFrames+1)}
	for i := 0; i < audioFrames; i++ {
		s.events <- providers.TTSEvent{Type: providers.TTSEventAudio, Opus: []byte{byte(i)}}
	}
	s.events <- providers.TTSEvent{Type: providers.TTSEventFinal}
	close(s.events)
	return s
}

func (s *abortingStream) SendText(context.Context, string) error { return nil }
func (s *abortingStream) CloseInput(context.Context) error       { return nil }
func (s *abortingStream) Events() <-chan providers.TTSEvent      { return s.events }
func (s *abortingStream) Close() error                           { return nil }

type abortingTTS struct {
	stream *abortingStream
}

func (p *abortingTTS) StartStream(context.Context, providers.TTSSettings) (providers.TTSStream, error) {
	return p.stream, nil
}

// abortAfterNSink calls Abort on the engine once it has observed n audio
// frames, simulating a barge-in that arrives mid-sentence.
type abortAfterNSink struct {
	e        *Engine
	n        int
	received int
	frames   []Frame
}

func (s *abortAfterNSink) Send(_ context.Context, f Frame) error {
	s.frames = append(s.frames, f)
	if f.State == SentenceMiddle {
		s.received++
		if s.received == s.n {
			s.e.Abort()
		}
	}
	return nil
}

func TestEngineAbortMidStreamStopsBeforeAllFramesSent(t *testing.T) {
	const totalAudioFrames = 10
	stream := newAbortingStream(totalAudioFrames)
	tts := &abortingTTS{stream: stream}

	e := New(tts, nil)
	sink := &abortAfterNSink{e: e, n: 2}
	e.sink = sink

	if err := e.PushDelta(context.Background(), "Hello there, friend."); err != nil {
		t.Fatalf("PushDelta() error = %v", err)
	}

	middleFrames := 0
	for _, f := range sink.frames {
		if f.State == SentenceMiddle {
			middleFrames++
		}
	}
	if middleFrames >= totalAudioFrames {
		t.Fatalf("middle frames sent = %d, want fewer than the %d available once aborted mid-stream", middleFrames, totalAudioFrames)
	}
	for _, f := range sink.frames {
		if f.State == SentenceLast {
			t.Fatalf("frames = %+v, want no LAST frame once the sentence was aborted mid-stream", sink.frames)
		}
	}
}

type failingTTS struct{}

func (failingTTS) StartStream(context.Context, providers.TTSSettings) (providers.TTSStream, error) {
	return nil, errAlwaysFails
}

var errAlwaysFails = &staticErr{"synthesis unavailable"}

type staticErr struct{ msg string }

func (e *staticErr) Error() string { return e.msg }

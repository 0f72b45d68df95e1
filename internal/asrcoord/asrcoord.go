// Package asrcoord implements the ASR coordinator (C9): it gates inbound
// audio frames on VAD (or explicit listen-mode control messages), feeds
// them to an ASR session, and on utterance end hands finalized text up to
// the intent router. It also owns the wake-word suppression window and
// cached-response playback described in SPEC_FULL.md §4.3, grounded on
// handleAudioMessage/startToChat/checkWakeupWords.
package asrcoord

import (
	"context"
	"sync"
	"time"

	"github.com/antoniostano/gatewayd/internal/protocol"
	"github.com/antoniostano/gatewayd/internal/providers"
)

// ListenMode mirrors the device's manual/auto listen-state declaration.
type ListenMode string

const (
	ModeManual ListenMode = "manual"
	ModeAuto   ListenMode = "auto"
)

const justWokenSuppressionWindow = 1 * time.Second

// WakeCache answers whether a fresh cached wakeup-response WAV/Opus
// sequence exists for the active TTS voice, and triggers regeneration.
type WakeCache interface {
	// Fresh returns the cached response's frames and text if a response
	// younger than maxAge exists for voice.
	Fresh(voice string, maxAge time.Duration) (frames [][]byte, text string, ok bool)
	// Regenerate asynchronously refreshes the cached response for voice.
	Regenerate(voice string)
}

// Sink receives the coordinator's output events: playback of cached/ASR
// utterances and finalized text handed to the caller's chat pipeline.
type Sink interface {
	PlayCachedWake(frames [][]byte, text string)
	StartToChat(ctx context.Context, text string)
	// NotifyWakeOnly reports a detected wake word without starting a chat
	// turn: the device hears stt + tts{state:"stop"} and nothing else.
	NotifyWakeOnly(ctx context.Context, text string)
	// ContinueChat runs a normal assistant turn for text that has already
	// passed wake-word handling (§4.3's "run the normal pipeline"
	// fallback), bypassing intent routing a second time so the wake word
	// doesn't re-match and no-op.
	ContinueChat(ctx context.Context, text string)
	// VoiceDetected reports the rising edge of voice activity: the first
	// frame of a new utterance after silence. Per spec §4.1's state
	// diagram this drives LISTENING→RECEIVING, and SPEAKING→RECEIVING
	// (via a barge-in abort) when voice arrives while the device is
	// mid-playback.
	VoiceDetected(ctx context.Context)
}

// Coordinator tracks one connection's audio-intake state.
type Coordinator struct {
	mu sync.Mutex

	vad        providers.VAD
	asrSession providers.ASRSession
	asrEvents  <-chan providers.ASREvent
	sink       Sink
	wakeCache  WakeCache

	mode          ListenMode
	wakeWords     map[string]bool
	wakeCacheOn   bool
	enableGreeting bool
	voice         string
	justWokenUp   bool
	clientSpeaking bool
	voiceActive   bool // true from the rising edge of voice until the utterance ends
	lastActivity  time.Time
}

type Config struct {
	Mode                    ListenMode
	WakeWords               []string
	EnableWakeResponseCache bool
	// EnableGreeting controls whether a wake-word hit starts a full chat
	// turn (cached or live). When false, the wake word is acknowledged
	// with stt + tts{state:"stop"} only: no audio, no dialogue append.
	EnableGreeting bool
	Voice          string
}

func New(vad providers.VAD, sink Sink, wakeCache WakeCache, cfg Config) *Coordinator {
	words := make(map[string]bool, len(cfg.WakeWords))
	for _, w := range cfg.WakeWords {
		words[w] = true
	}
	return &Coordinator{
		vad:            vad,
		sink:           sink,
		wakeCache:      wakeCache,
		mode:           cfg.Mode,
		wakeWords:      words,
		wakeCacheOn:    cfg.EnableWakeResponseCache,
		enableGreeting: cfg.EnableGreeting,
		voice:          cfg.Voice,
		lastActivity:   time.Now(),
	}
}

// BindASRSession attaches the active ASR session/event channel once a new
// utterance begins.
func (c *Coordinator) BindASRSession(session providers.ASRSession, events <-chan providers.ASREvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asrSession = session
	c.asrEvents = events
}

// IngestFrame feeds one inbound PCM frame through VAD gating (auto mode)
// and the bound ASR session, mirroring handleAudioMessage.
func (c *Coordinator) IngestFrame(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	justWoken := c.justWokenUp
	mode := c.mode
	session := c.asrSession
	c.mu.Unlock()

	haveVoice := false
	if mode == ModeAuto && c.vad != nil {
		ev, err := c.vad.Detect(frame)
		if err != nil {
			return err
		}
		haveVoice = ev.Speech
	} else if mode == ModeManual {
		haveVoice = true
	}

	if haveVoice && justWoken {
		return nil
	}

	if haveVoice {
		c.touchActivity()

		c.mu.Lock()
		rising := !c.voiceActive
		c.voiceActive = true
		c.mu.Unlock()
		if rising {
			c.sink.VoiceDetected(ctx)
		}
	}

	if session == nil {
		return nil
	}
	return session.SendAudioChunk(ctx, frame, 16000, false)
}

func (c *Coordinator) touchActivity() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// ApplyJustWokenUp suppresses VAD-driven speech detection for the
// configured window after a wake-word reply, mirroring resume_vad_detection.
func (c *Coordinator) ApplyJustWokenUp() {
	c.mu.Lock()
	c.justWokenUp = true
	c.mu.Unlock()
	time.AfterFunc(justWokenSuppressionWindow, func() {
		c.mu.Lock()
		c.justWokenUp = false
		c.mu.Unlock()
	})
}

// HandleListen processes an explicit listen control message.
func (c *Coordinator) HandleListen(msg protocol.Listen) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.State {
	case protocol.ListenDetect:
		// handled by HandleDetectedText below using msg.Text
	case protocol.ListenStart:
	case protocol.ListenStop:
	}
}

// HandleDetectedText processes a listen{state:detect} message's
// pre-transcribed text: if it matches a configured wake word, a synthetic
// wake utterance is dispatched (unless cache playback handles it inline).
func (c *Coordinator) HandleDetectedText(ctx context.Context, text string) {
	c.mu.Lock()
	isWake := c.wakeWords[text]
	c.mu.Unlock()

	if !isWake {
		c.FinalizeUtterance(ctx, text)
		return
	}
	c.HandleWakeWord(ctx, text)
}

// HandleWakeWord runs the suppression-window/cache/greeting flow of
// SPEC_FULL.md §4.3 for an utterance already confirmed to match a
// configured wake word, regardless of whether it arrived via a detect
// hint (HandleDetectedText) or was recognized by the normal server-side
// ASR path and routed here by intent.Router's wake-word match.
func (c *Coordinator) HandleWakeWord(ctx context.Context, text string) {
	c.mu.Lock()
	cacheOn := c.wakeCacheOn
	greetingOn := c.enableGreeting
	voice := c.voice
	c.mu.Unlock()

	c.ApplyJustWokenUp()

	if !greetingOn {
		c.sink.NotifyWakeOnly(ctx, text)
		return
	}

	if cacheOn && c.wakeCache != nil {
		if frames, cachedText, ok := c.wakeCache.Fresh(voice, 5*time.Second); ok {
			c.sink.PlayCachedWake(frames, cachedText)
			c.wakeCache.Regenerate(voice)
			return
		}
	}
	c.sink.ContinueChat(ctx, text)
}

// FinalizeUtterance is invoked when the ASR session reports a committed
// transcript; empty text drops the utterance per SPEC_FULL.md §4.3.
func (c *Coordinator) FinalizeUtterance(ctx context.Context, text string) {
	c.mu.Lock()
	c.voiceActive = false
	c.mu.Unlock()

	if text == "" {
		return
	}
	c.sink.StartToChat(ctx, text)
}

// Run drains the bound ASR session's event channel until ctx is done or
// the channel closes, dispatching committed transcripts as utterances.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		c.mu.Lock()
		events := c.asrEvents
		c.mu.Unlock()
		if events == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == providers.ASREventCommitted {
				c.FinalizeUtterance(ctx, ev.Text)
			}
		}
	}
}

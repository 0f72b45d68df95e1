// Package providers defines the uniform provider contracts (VAD, ASR, LLM,
// TTS, Memory, Intent, and a combined speech-to-speech VLLM variant) that
// every connection's ProviderBundle is assembled from, plus the type-name
// registry used to instantiate them from configuration.
package providers

import (
	"context"

	"github.com/antoniostano/gatewayd/internal/dialogue"
)

// VADEvent reports a voice-activity transition for one audio frame.
type VADEvent struct {
	Speech     bool
	Energy     float64
	TimestampMs int64
}

// VAD detects speech presence in a stream of PCM frames.
type VAD interface {
	// Detect returns whether frame (16-bit PCM) contains speech.
	Detect(frame []byte) (VADEvent, error)
	Reset()
}

// ASREventType identifies the kind of event emitted on an ASR stream.
type ASREventType string

const (
	ASREventPartial   ASREventType = "partial"
	ASREventCommitted ASREventType = "committed"
	ASREventError     ASREventType = "error"
)

// ASREvent is one message on an ASR session's event channel.
type ASREvent struct {
	Type       ASREventType
	Text       string
	Confidence float64
	Retryable  bool
	Detail     string
	TimestampMs int64
}

// ASRSession is a single in-flight recognition stream for one utterance.
type ASRSession interface {
	SendAudioChunk(ctx context.Context, pcm []byte, sampleRate int, final bool) error
	Close() error
}

// ASR starts recognition sessions.
type ASR interface {
	StartSession(ctx context.Context, sessionID string) (ASRSession, <-chan ASREvent, error)
}

// LLMDelta is a single streamed increment of an LLM response.
type LLMDelta struct {
	TextDelta string
	ToolCalls []dialogue.ToolCall
	Done      bool
	Emotion   string
}

// LLM runs chat completion with function/tool calling support, streamed.
type LLM interface {
	StreamChat(ctx context.Context, messages []dialogue.Message, tools []ToolSchema) (<-chan LLMDelta, error)
}

// ToolSchema is the JSON-schema description of a callable tool, passed to
// the LLM provider so it can emit well-formed tool_calls.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// TTSEventType identifies the kind of event emitted on a TTS stream.
type TTSEventType string

const (
	TTSEventAudio TTSEventType = "audio"
	TTSEventFinal TTSEventType = "final"
	TTSEventError TTSEventType = "error"
)

// TTSEvent is one message on a TTS stream's event channel.
type TTSEvent struct {
	Type      TTSEventType
	Opus      []byte
	Retryable bool
	Detail    string
}

// TTSSettings controls voice synthesis parameters for a stream.
type TTSSettings struct {
	VoiceID string
	Speed   float64
}

// TTSStream is a single in-flight synthesis session for one sentence.
type TTSStream interface {
	SendText(ctx context.Context, text string) error
	CloseInput(ctx context.Context) error
	Events() <-chan TTSEvent
	Close() error
}

// TTS starts synthesis streams.
type TTS interface {
	StartStream(ctx context.Context, settings TTSSettings) (TTSStream, error)
}

// Memory is the conversational-memory contract: save a completed dialogue,
// and query for relevant prior context to seed a new one. A nil/empty
// result from Query means "nothing relevant" and is not an error.
type Memory interface {
	Query(ctx context.Context, userID, query string) (string, error)
	Save(ctx context.Context, userID string, d *dialogue.Dialogue) error
	Close() error
}

// IntentResult is the outcome of classifying a user utterance.
type IntentResult struct {
	IsToolCall bool
	ToolName   string
	Arguments  string
}

// Intent decides whether an utterance should be routed to a tool call
// before (or instead of) a full LLM turn.
type Intent interface {
	Classify(ctx context.Context, history []dialogue.Message, text string) (IntentResult, error)
}

// Bundle is the set of providers wired up for one connection. It is built
// fresh by internal/server for every handle() call rather than shared
// across connections, so a config hot-reload never mutates state read by
// an in-flight session.
type Bundle struct {
	VAD    VAD
	ASR    ASR
	LLM    LLM
	TTS    TTS
	Memory Memory
	Intent Intent
}

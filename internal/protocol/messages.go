package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies a device-socket payload variant.
type MessageType string

const (
	TypeHello  MessageType = "hello"
	TypeAbort  MessageType = "abort"
	TypeListen MessageType = "listen"
	TypeIoT    MessageType = "iot"
	TypeMCP    MessageType = "mcp"
	TypeServer MessageType = "server"
	TypeSTT    MessageType = "stt"
	TypeLLM    MessageType = "llm"
	TypeTTS    MessageType = "tts"
)

var ErrUnsupportedType = errors.New("unsupported message type")

// ListenState is the value of a listen message's "state" field.
type ListenState string

const (
	ListenStart  ListenState = "start"
	ListenStop   ListenState = "stop"
	ListenDetect ListenState = "detect"
)

// ListenMode is the value of a listen message's "mode" field.
type ListenMode string

const (
	ListenModeAuto   ListenMode = "auto"
	ListenModeManual ListenMode = "manual"
)

// AudioParams describes the negotiated audio encoding for a session.
type AudioParams struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// Features carries optional per-device capability flags negotiated at hello.
type Features struct {
	MCP bool `json:"mcp,omitempty"`
}

// Hello is the inbound session-init message.
type Hello struct {
	Type        MessageType `json:"type"`
	AudioParams AudioParams `json:"audio_params"`
	Features    Features    `json:"features"`
}

// Abort is the inbound barge-in message.
type Abort struct {
	Type MessageType `json:"type"`
}

// Listen frames utterance boundaries or a text-only turn.
type Listen struct {
	Type  MessageType `json:"type"`
	State ListenState `json:"state"`
	Mode  ListenMode  `json:"mode,omitempty"`
	Text  string      `json:"text,omitempty"`
}

// IoTReport carries device capability descriptors and/or state changes.
type IoTReport struct {
	Type        MessageType       `json:"type"`
	Descriptors []json.RawMessage `json:"descriptors,omitempty"`
	States      []json.RawMessage `json:"states,omitempty"`
}

// MCPEnvelope wraps a device-side MCP JSON-RPC-style payload.
type MCPEnvelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerAction is an admin control message gated by a shared secret.
type ServerAction struct {
	Type    MessageType `json:"type"`
	Action  string      `json:"action"`
	Content struct {
		Secret string `json:"secret"`
	} `json:"content"`
}

// OutHello is the outbound session-welcome message.
type OutHello struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	AudioParams AudioParams `json:"audio_params"`
}

// OutSTT reports a finalized transcription.
type OutSTT struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	SessionID string      `json:"session_id"`
}

// OutLLM reports an inferred emotion glyph for the current turn.
type OutLLM struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	Emotion   string      `json:"emotion"`
	SessionID string      `json:"session_id"`
}

// TTSState is the value of an outbound tts message's "state" field.
type TTSState string

const (
	TTSStateStart         TTSState = "start"
	TTSStateSentenceStart TTSState = "sentence_start"
	TTSStateSentenceEnd   TTSState = "sentence_end"
	TTSStateStop          TTSState = "stop"
)

// OutTTS reports a TTS pipeline control event. Binary opus frames that
// belong to a sentence follow this message on the wire as raw binary
// frames and are not represented here.
type OutTTS struct {
	Type      MessageType `json:"type"`
	State     TTSState    `json:"state"`
	Text      string      `json:"text,omitempty"`
	SessionID string      `json:"session_id"`
}

// OutServer acknowledges an admin control message.
type OutServer struct {
	Type    MessageType    `json:"type"`
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Content map[string]any `json:"content,omitempty"`
}

type clientEnvelope struct {
	Type        MessageType       `json:"type"`
	AudioParams AudioParams       `json:"audio_params"`
	Features    Features          `json:"features"`
	State       ListenState       `json:"state"`
	Mode        ListenMode        `json:"mode"`
	Text        string            `json:"text"`
	Descriptors []json.RawMessage `json:"descriptors"`
	States      []json.RawMessage `json:"states"`
	Payload     json.RawMessage   `json:"payload"`
	Action      string            `json:"action"`
	Content     struct {
		Secret string `json:"secret"`
	} `json:"content"`
}

// ParseClientMessage decodes a single inbound text frame into one of the
// typed message structs above. Unrecognised types return ErrUnsupportedType;
// malformed JSON returns a wrapped decode error.
func ParseClientMessage(raw []byte) (any, error) {
	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeHello:
		return Hello{Type: TypeHello, AudioParams: env.AudioParams, Features: env.Features}, nil
	case TypeAbort:
		return Abort{Type: TypeAbort}, nil
	case TypeListen:
		if env.State == "" {
			return nil, errors.New("invalid listen message: missing state")
		}
		return Listen{Type: TypeListen, State: env.State, Mode: env.Mode, Text: env.Text}, nil
	case TypeIoT:
		return IoTReport{Type: TypeIoT, Descriptors: env.Descriptors, States: env.States}, nil
	case TypeMCP:
		if len(env.Payload) == 0 {
			return nil, errors.New("invalid mcp message: missing payload")
		}
		return MCPEnvelope{Type: TypeMCP, Payload: env.Payload}, nil
	case TypeServer:
		sa := ServerAction{Type: TypeServer, Action: env.Action}
		sa.Content.Secret = env.Content.Secret
		return sa, nil
	default:
		return nil, ErrUnsupportedType
	}
}

package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/gatewayd/internal/asrcoord"
	"github.com/antoniostano/gatewayd/internal/dialogue"
	"github.com/antoniostano/gatewayd/internal/intent"
	"github.com/antoniostano/gatewayd/internal/providers"
	"github.com/antoniostano/gatewayd/internal/session"
	"github.com/antoniostano/gatewayd/internal/toolhandler"
	"github.com/antoniostano/gatewayd/internal/tools"
	"github.com/antoniostano/gatewayd/internal/ttsengine"
)

type recordingWriter struct {
	mu      sync.Mutex
	stt     []string
	frames  []ttsengine.Frame
	actions []string
}

func (w *recordingWriter) WriteSTT(_ context.Context, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stt = append(w.stt, text)
	return nil
}

func (w *recordingWriter) WriteTTSFrame(_ context.Context, frame ttsengine.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, frame)
	return nil
}

func (w *recordingWriter) WriteTTSStop(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.actions = append(w.actions, "tts_stop")
	return nil
}

func (w *recordingWriter) WriteServerAction(_ context.Context, action string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.actions = append(w.actions, action)
	return nil
}

type ttsSink struct {
	mu     sync.Mutex
	frames []ttsengine.Frame
}

func (s *ttsSink) Send(_ context.Context, f ttsengine.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func newTestHandler(t *testing.T, bundle *providers.Bundle) (*Handler, *recordingWriter, *session.Manager) {
	t.Helper()
	mgr := session.NewManager(time.Minute)
	sess := mgr.Create("device-1", "client-1", "127.0.0.1", session.AuthAllowlist)

	d := dialogue.New("you are a helpful speaker assistant")
	w := &recordingWriter{}
	engine := ttsengine.New(bundle.TTS, &ttsSink{})
	registry := tools.NewRegistry()
	th := toolhandler.New(registry, nil, nil, nil)

	h := New(sess, mgr, bundle, d, nil, th, engine, w, Config{
		CloseConnectionNoVoiceTime: time.Hour,
		FunctionCallMode:           false,
	})
	return h, w, mgr
}

func TestChatEchoesAssistantReplyAndRestoresListening(t *testing.T) {
	bundle := &providers.Bundle{LLM: providers.NewMockLLM(), TTS: providers.NewMockProvider(), Memory: providers.NewNoMemory()}
	h, w, mgr := newTestHandler(t, bundle)

	if err := h.Chat(context.Background(), "hello there", false); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	got, err := mgr.Get(h.session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != session.StateListening {
		t.Fatalf("state = %v, want StateListening after a completed turn", got.State)
	}

	found := false
	for _, a := range w.actions {
		if a == "turn_last" {
			found = true
		}
	}
	if !found {
		t.Fatalf("actions = %v, want turn_last emitted", w.actions)
	}
}

func TestChatAppendsUserAndAssistantMessagesToDialogue(t *testing.T) {
	bundle := &providers.Bundle{LLM: providers.NewMockLLM(), TTS: providers.NewMockProvider(), Memory: providers.NewNoMemory()}
	h, _, _ := newTestHandler(t, bundle)

	if err := h.Chat(context.Background(), "what time is it", false); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	msgs := h.dialogue.Messages()
	if len(msgs) < 3 {
		t.Fatalf("messages = %+v, want at least system+user+assistant", msgs)
	}
	last := msgs[len(msgs)-1]
	if last.Role != dialogue.RoleAssistant || last.Content == "" {
		t.Fatalf("last message = %+v, want a non-empty assistant reply", last)
	}
}

func TestAbortSetsListeningAndSendsStopSignal(t *testing.T) {
	bundle := &providers.Bundle{LLM: providers.NewMockLLM(), TTS: providers.NewMockProvider(), Memory: providers.NewNoMemory()}
	h, w, mgr := newTestHandler(t, bundle)

	_ = mgr.SetState(h.session.ID, session.StateSpeaking)
	if err := h.Abort(context.Background()); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}

	got, err := mgr.Get(h.session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != session.StateListening {
		t.Fatalf("state = %v, want StateListening after Abort", got.State)
	}
	if len(w.actions) != 1 || w.actions[0] != "tts_stop" {
		t.Fatalf("actions = %v, want a single tts_stop", w.actions)
	}
}

func TestAbortThenChatStillProducesSpeech(t *testing.T) {
	bundle := &providers.Bundle{LLM: providers.NewMockLLM(), TTS: providers.NewMockProvider(), Memory: providers.NewNoMemory()}
	h, w, _ := newTestHandler(t, bundle)

	_ = h.Abort(context.Background())

	w.mu.Lock()
	w.frames = nil
	w.actions = nil
	w.mu.Unlock()

	if err := h.Chat(context.Background(), "are you still there", false); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	found := false
	for _, a := range w.actions {
		if a == "turn_last" {
			found = true
		}
	}
	if !found {
		t.Fatalf("actions = %v, want turn_last emitted on the turn after an abort", w.actions)
	}
}

func TestCloseEndsTheSession(t *testing.T) {
	bundle := &providers.Bundle{LLM: providers.NewMockLLM(), TTS: providers.NewMockProvider(), Memory: providers.NewNoMemory()}
	h, _, mgr := newTestHandler(t, bundle)

	if err := h.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	got, err := mgr.Get(h.session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != session.StatusEnded || got.State != session.StateClosed {
		t.Fatalf("session = %+v, want StatusEnded/StateClosed after Close", got)
	}
}

func TestVoiceDetectedMovesListeningToReceiving(t *testing.T) {
	bundle := &providers.Bundle{LLM: providers.NewMockLLM(), TTS: providers.NewMockProvider(), Memory: providers.NewNoMemory()}
	h, _, mgr := newTestHandler(t, bundle)

	h.VoiceDetected(context.Background())

	got, err := mgr.Get(h.session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != session.StateReceiving {
		t.Fatalf("state = %v, want StateReceiving after VoiceDetected from LISTENING", got.State)
	}
}

func TestVoiceDetectedBargesInWhileSpeaking(t *testing.T) {
	bundle := &providers.Bundle{LLM: providers.NewMockLLM(), TTS: providers.NewMockProvider(), Memory: providers.NewNoMemory()}
	h, w, mgr := newTestHandler(t, bundle)

	_ = mgr.SetState(h.session.ID, session.StateSpeaking)
	h.VoiceDetected(context.Background())

	got, err := mgr.Get(h.session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.State != session.StateReceiving {
		t.Fatalf("state = %v, want StateReceiving after a barge-in", got.State)
	}
	found := false
	for _, a := range w.actions {
		if a == "tts_stop" {
			found = true
		}
	}
	if !found {
		t.Fatalf("actions = %v, want tts_stop from the barge-in abort", w.actions)
	}
}

func TestStartToChatFallsThroughToChatWithNoRouter(t *testing.T) {
	bundle := &providers.Bundle{LLM: providers.NewMockLLM(), TTS: providers.NewMockProvider(), Memory: providers.NewNoMemory()}
	h, w, _ := newTestHandler(t, bundle)

	h.StartToChat(context.Background(), "turn on the lights")

	if len(w.stt) != 1 || w.stt[0] != "turn on the lights" {
		t.Fatalf("stt writes = %v, want the transcript echoed once", w.stt)
	}
}

func TestStartToChatRoutesWakeWordThroughCoordinator(t *testing.T) {
	bundle := &providers.Bundle{LLM: providers.NewMockLLM(), TTS: providers.NewMockProvider(), Memory: providers.NewNoMemory()}
	h, w, _ := newTestHandler(t, bundle)
	h.router = &intent.Router{WakeWords: []string{"hey speaker"}}

	coord := asrcoord.New(nil, h, nil, asrcoord.Config{
		Mode:           asrcoord.ModeAuto,
		WakeWords:      []string{"hey speaker"},
		EnableGreeting: false,
	})
	h.SetCoordinator(coord)

	h.StartToChat(context.Background(), "hey speaker")

	if len(w.stt) != 1 || w.stt[0] != "hey speaker" {
		t.Fatalf("stt writes = %v, want the wake word echoed via the coordinator's NotifyWakeOnly", w.stt)
	}
	found := false
	for _, a := range w.actions {
		if a == "tts_stop" {
			found = true
		}
	}
	if !found {
		t.Fatalf("actions = %v, want tts_stop from NotifyWakeOnly (greeting disabled)", w.actions)
	}
}

func TestStartToChatWakeWordWithGreetingRunsChatTurn(t *testing.T) {
	bundle := &providers.Bundle{LLM: providers.NewMockLLM(), TTS: providers.NewMockProvider(), Memory: providers.NewNoMemory()}
	h, w, _ := newTestHandler(t, bundle)
	h.router = &intent.Router{WakeWords: []string{"hey speaker"}}

	coord := asrcoord.New(nil, h, nil, asrcoord.Config{
		Mode:           asrcoord.ModeAuto,
		WakeWords:      []string{"hey speaker"},
		EnableGreeting: true,
	})
	h.SetCoordinator(coord)

	h.StartToChat(context.Background(), "hey speaker")

	found := false
	for _, a := range w.actions {
		if a == "turn_last" {
			found = true
		}
	}
	if !found {
		t.Fatalf("actions = %v, want turn_last: a wake word with greeting enabled must still reach a chat turn, not no-op", w.actions)
	}
}

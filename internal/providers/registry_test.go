package providers

import "testing"

type stubVAD struct{}

func (stubVAD) Detect(frame []byte) (VADEvent, error) { return VADEvent{}, nil }
func (stubVAD) Reset()                                {}

func TestRegistryBuildUsesRegisteredFactories(t *testing.T) {
	r := NewRegistry()
	r.RegisterVAD("stub", func(map[string]any) (VAD, error) { return stubVAD{}, nil })
	r.RegisterASR("mock", func(map[string]any) (ASR, error) { return NewMockProvider(), nil })
	r.RegisterLLM("mock", func(map[string]any) (LLM, error) { return NewMockLLM(), nil })
	r.RegisterTTS("mock", func(map[string]any) (TTS, error) { return NewMockProvider(), nil })
	r.RegisterMemory("nomem", func(map[string]any) (Memory, error) { return NewNoMemory(), nil })
	r.RegisterIntent("mock", func(map[string]any) (Intent, error) { return NewMockIntent(), nil })

	bundle, err := r.Build(Selection{
		VAD: "stub", ASR: "mock", LLM: "mock", TTS: "mock", Memory: "nomem", Intent: "mock",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if bundle.VAD == nil || bundle.ASR == nil || bundle.LLM == nil || bundle.TTS == nil || bundle.Memory == nil || bundle.Intent == nil {
		t.Fatalf("Build() left a nil slot: %+v", bundle)
	}
}

func TestRegistryBuildFailsOnUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build(Selection{VAD: "does-not-exist"})
	if err == nil {
		t.Fatalf("expected error for unregistered vad type")
	}
}

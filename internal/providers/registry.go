package providers

import (
	"fmt"
	"sync"
)

// Registry holds factory functions for each provider kind, keyed by the
// configuration type-name (e.g. "mock", "nomem", "mem_local_short").
// Concrete provider packages register their factories in an init() or
// from cmd/gatewayd's wiring, rather than this package importing them
// directly — that would create an import cycle back from leaf provider
// packages into providers.
type Registry struct {
	mu sync.RWMutex

	vad    map[string]func(cfg map[string]any) (VAD, error)
	asr    map[string]func(cfg map[string]any) (ASR, error)
	llm    map[string]func(cfg map[string]any) (LLM, error)
	tts    map[string]func(cfg map[string]any) (TTS, error)
	memory map[string]func(cfg map[string]any) (Memory, error)
	intent map[string]func(cfg map[string]any) (Intent, error)
}

func NewRegistry() *Registry {
	return &Registry{
		vad:    make(map[string]func(map[string]any) (VAD, error)),
		asr:    make(map[string]func(map[string]any) (ASR, error)),
		llm:    make(map[string]func(map[string]any) (LLM, error)),
		tts:    make(map[string]func(map[string]any) (TTS, error)),
		memory: make(map[string]func(map[string]any) (Memory, error)),
		intent: make(map[string]func(map[string]any) (Intent, error)),
	}
}

func (r *Registry) RegisterVAD(name string, factory func(map[string]any) (VAD, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

func (r *Registry) RegisterASR(name string, factory func(map[string]any) (ASR, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

func (r *Registry) RegisterLLM(name string, factory func(map[string]any) (LLM, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

func (r *Registry) RegisterTTS(name string, factory func(map[string]any) (TTS, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

func (r *Registry) RegisterMemory(name string, factory func(map[string]any) (Memory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory[name] = factory
}

func (r *Registry) RegisterIntent(name string, factory func(map[string]any) (Intent, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intent[name] = factory
}

func (r *Registry) NewVAD(name string, cfg map[string]any) (VAD, error) {
	r.mu.RLock()
	factory, ok := r.vad[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("providers: unknown vad type %q", name)
	}
	return factory(cfg)
}

func (r *Registry) NewASR(name string, cfg map[string]any) (ASR, error) {
	r.mu.RLock()
	factory, ok := r.asr[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("providers: unknown asr type %q", name)
	}
	return factory(cfg)
}

func (r *Registry) NewLLM(name string, cfg map[string]any) (LLM, error) {
	r.mu.RLock()
	factory, ok := r.llm[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("providers: unknown llm type %q", name)
	}
	return factory(cfg)
}

func (r *Registry) NewTTS(name string, cfg map[string]any) (TTS, error) {
	r.mu.RLock()
	factory, ok := r.tts[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("providers: unknown tts type %q", name)
	}
	return factory(cfg)
}

func (r *Registry) NewMemory(name string, cfg map[string]any) (Memory, error) {
	r.mu.RLock()
	factory, ok := r.memory[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("providers: unknown memory type %q", name)
	}
	return factory(cfg)
}

func (r *Registry) NewIntent(name string, cfg map[string]any) (Intent, error) {
	r.mu.RLock()
	factory, ok := r.intent[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("providers: unknown intent type %q", name)
	}
	return factory(cfg)
}

// Build assembles a full Bundle from the given type-name selections. It is
// called fresh for every connection's handle() so in-flight sessions are
// never affected by a config hot-reload racing with construction.
func (r *Registry) Build(sel Selection) (*Bundle, error) {
	vad, err := r.NewVAD(sel.VAD, sel.VADConfig)
	if err != nil {
		return nil, err
	}
	asr, err := r.NewASR(sel.ASR, sel.ASRConfig)
	if err != nil {
		return nil, err
	}
	llm, err := r.NewLLM(sel.LLM, sel.LLMConfig)
	if err != nil {
		return nil, err
	}
	tts, err := r.NewTTS(sel.TTS, sel.TTSConfig)
	if err != nil {
		return nil, err
	}
	mem, err := r.NewMemory(sel.Memory, sel.MemoryConfig)
	if err != nil {
		return nil, err
	}
	intent, err := r.NewIntent(sel.Intent, sel.IntentConfig)
	if err != nil {
		return nil, err
	}
	return &Bundle{VAD: vad, ASR: asr, LLM: llm, TTS: tts, Memory: mem, Intent: intent}, nil
}

// Selection names the provider type for each slot, plus that provider's
// configuration block. It is the input to Build, typically produced by
// internal/config from a device's resolved configuration.
type Selection struct {
	VAD       string
	VADConfig map[string]any

	ASR       string
	ASRConfig map[string]any

	LLM       string
	LLMConfig map[string]any

	TTS       string
	TTSConfig map[string]any

	Memory       string
	MemoryConfig map[string]any

	Intent       string
	IntentConfig map[string]any
}

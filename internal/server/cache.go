// Package server implements the gateway's front-end (C11): the module
// cache of shared local provider singletons, and the lock-guarded
// UpdateConfig that takes a Selection from its caller (the HTTP layer
// fetches it from the management API) and rebuilds only the singletons
// whose type changed. Grounded on SPEC_FULL.md §4.9/§5. The VAD/ASR type
// comparison is done inline; internal/config.ProviderDiff/Diff is not used
// here.
package server

import (
	"context"
	"sync"

	"github.com/antoniostano/gatewayd/internal/providers"
)

// Cache owns the shared local VAD/ASR singletons plus the current default
// provider Selection. Per SPEC_FULL.md §5, only VAD and ASR are shared by
// reference across sessions when a device's selection names the same
// provider type as the cache's current one; LLM, TTS, Memory and Intent
// are always built fresh per connection since they (or their remote
// counterparts) commonly carry per-connection socket state.
type Cache struct {
	mu sync.RWMutex

	registry  *providers.Registry
	selection providers.Selection

	sharedVAD providers.VAD
	sharedASR providers.ASR
}

// NewCache builds the initial shared singletons from sel and returns a
// ready Cache. sel becomes the baseline that UpdateConfig diffs against.
func NewCache(registry *providers.Registry, sel providers.Selection) (*Cache, error) {
	c := &Cache{registry: registry, selection: sel}
	if err := c.rebuildShared(sel); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) rebuildShared(sel providers.Selection) error {
	vad, err := c.registry.NewVAD(sel.VAD, sel.VADConfig)
	if err != nil {
		return err
	}
	asr, err := c.registry.NewASR(sel.ASR, sel.ASRConfig)
	if err != nil {
		return err
	}
	c.sharedVAD = vad
	c.sharedASR = asr
	c.selection = sel
	return nil
}

// UpdateConfig re-derives the shared singletons from a freshly-fetched
// default Selection (typically sourced from the management API by the
// caller). It rebuilds the VAD singleton only if sel.VAD differs from the
// current one, and likewise for ASR, so a config reload that only changes
// an unrelated field never tears down a warm local model. The swap is
// atomic: in-flight sessions keep whatever *providers.VAD/*providers.ASR
// reference they were handed at connect time.
func (c *Cache) UpdateConfig(_ context.Context, sel providers.Selection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	vadChanged := sel.VAD != c.selection.VAD
	asrChanged := sel.ASR != c.selection.ASR

	next := c.selection
	next.VADConfig, next.ASRConfig = sel.VADConfig, sel.ASRConfig

	if vadChanged {
		vad, err := c.registry.NewVAD(sel.VAD, sel.VADConfig)
		if err != nil {
			return err
		}
		c.sharedVAD = vad
		next.VAD = sel.VAD
	}
	if asrChanged {
		asr, err := c.registry.NewASR(sel.ASR, sel.ASRConfig)
		if err != nil {
			return err
		}
		c.sharedASR = asr
		next.ASR = sel.ASR
	}
	c.selection = next
	return nil
}

// Build assembles a per-connection Bundle. VAD/ASR are taken from the
// shared cache when devSel names the same provider type the cache
// currently holds; otherwise (and always for LLM/TTS/Memory/Intent) a
// fresh instance is built via the registry, taking a read lock only long
// enough to snapshot the shared references.
func (c *Cache) Build(devSel providers.Selection) (*providers.Bundle, error) {
	c.mu.RLock()
	sharedVAD, sharedASR := c.sharedVAD, c.sharedASR
	baseline := c.selection
	c.mu.RUnlock()

	bundle := &providers.Bundle{}

	if devSel.VAD == baseline.VAD {
		bundle.VAD = sharedVAD
	} else {
		vad, err := c.registry.NewVAD(devSel.VAD, devSel.VADConfig)
		if err != nil {
			return nil, err
		}
		bundle.VAD = vad
	}

	if devSel.ASR == baseline.ASR {
		bundle.ASR = sharedASR
	} else {
		asr, err := c.registry.NewASR(devSel.ASR, devSel.ASRConfig)
		if err != nil {
			return nil, err
		}
		bundle.ASR = asr
	}

	llm, err := c.registry.NewLLM(devSel.LLM, devSel.LLMConfig)
	if err != nil {
		return nil, err
	}
	tts, err := c.registry.NewTTS(devSel.TTS, devSel.TTSConfig)
	if err != nil {
		return nil, err
	}
	mem, err := c.registry.NewMemory(devSel.Memory, devSel.MemoryConfig)
	if err != nil {
		return nil, err
	}
	intent, err := c.registry.NewIntent(devSel.Intent, devSel.IntentConfig)
	if err != nil {
		return nil, err
	}
	bundle.LLM, bundle.TTS, bundle.Memory, bundle.Intent = llm, tts, mem, intent
	return bundle, nil
}

// Selection returns the cache's current default Selection, for callers
// that need to decide whether a device's own preferences match it.
func (c *Cache) Selection() providers.Selection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selection
}

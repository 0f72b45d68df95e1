// Package mgmtapi defines the gateway's contract with the external
// management API: per-device configuration, utterance reporting, and
// device-binding. Every SPEC_FULL.md component that needs the management
// API (C11's config hot-reload, C13's report pipeline, C10's bind-code
// flow) depends on the Client interface here rather than an HTTP client
// directly, the same seam internal/providers uses for provider vendors.
package mgmtapi

import (
	"context"
	"time"
)

// DeviceConfig is a device's resolved remote configuration, merged by
// internal/config over local defaults.
type DeviceConfig struct {
	DeviceID         string
	WelcomeMessage   string
	SystemPrompt     string
	Selection        ProviderSelection
	ExitCommands     []string
	WakeWords        []string
	FunctionCallMode bool
	EndPromptEnabled bool
	EndPrompt        string
	EnableGreeting   bool
	CloseNoVoiceTime time.Duration
}

// ProviderSelection mirrors providers.Selection without importing that
// package, so mgmtapi stays free of a dependency on the provider layer.
type ProviderSelection struct {
	VAD, ASR, LLM, TTS, Memory, Intent string
	VADConfig, ASRConfig, LLMConfig    map[string]any
	TTSConfig, MemoryConfig, IntentConfig map[string]any
}

// ReportKind distinguishes user vs. assistant turns in the history report
// queue, per SPEC_FULL.md §4.8.
type ReportKind int

const (
	ReportUser      ReportKind = 1
	ReportAssistant ReportKind = 2
)

// ReportEntry is one queued chat-history upload.
type ReportEntry struct {
	Kind      ReportKind
	Text      string
	AudioWAV  []byte
	Timestamp time.Time
}

// BindResult carries the outcome of a device-binding negotiation, issued
// when the management API reports DeviceBind for an unrecognized device.
type BindResult struct {
	BindCode string
}

// Client is the management API surface the gateway consumes. Errors are
// expected to be wrapped in internal/xerrors Kinds (KindDeviceNotFound,
// KindDeviceBind, KindProviderTransient, KindProviderFatal) so callers can
// apply the standard retry/fallback policy uniformly.
type Client interface {
	// FetchDeviceConfig resolves a device's remote configuration. It
	// returns a KindDeviceBind error (wrapping a BindResult) when the
	// device has never bound to an account.
	FetchDeviceConfig(ctx context.Context, deviceID string) (DeviceConfig, error)
	// ReportUtterance ships one history entry. Callers retry per
	// internal/reliability's policy; ReportUtterance itself performs no
	// retries so retry/backoff stays centralized.
	ReportUtterance(ctx context.Context, deviceID string, entry ReportEntry) error
	// MintBindCode issues a fresh 6-digit bind code for a device that
	// reported DeviceBind.
	MintBindCode(ctx context.Context, deviceID string) (BindResult, error)
}

// NullClient is the out-of-scope management-API stand-in: every device is
// treated as already bound, configuration resolves to whatever static
// defaults the caller already holds, and reports are accepted and
// discarded. Used when no management API URL is configured, matching
// SPEC_FULL.md's framing of the management API as an external
// collaborator whose transport is out of scope.
type NullClient struct {
	Defaults DeviceConfig
}

func NewNullClient(defaults DeviceConfig) *NullClient {
	return &NullClient{Defaults: defaults}
}

func (c *NullClient) FetchDeviceConfig(_ context.Context, deviceID string) (DeviceConfig, error) {
	cfg := c.Defaults
	cfg.DeviceID = deviceID
	return cfg, nil
}

func (c *NullClient) ReportUtterance(context.Context, string, ReportEntry) error { return nil }

func (c *NullClient) MintBindCode(_ context.Context, deviceID string) (BindResult, error) {
	return BindResult{BindCode: "000000"}, nil
}

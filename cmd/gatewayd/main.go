package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/antoniostano/gatewayd/internal/authn"
	"github.com/antoniostano/gatewayd/internal/config"
	"github.com/antoniostano/gatewayd/internal/gatewaylog"
	"github.com/antoniostano/gatewayd/internal/httpapi"
	"github.com/antoniostano/gatewayd/internal/mgmtapi"
	"github.com/antoniostano/gatewayd/internal/observability"
	"github.com/antoniostano/gatewayd/internal/providers"
	"github.com/antoniostano/gatewayd/internal/providers/memory"
	"github.com/antoniostano/gatewayd/internal/server"
	"github.com/antoniostano/gatewayd/internal/session"
	"github.com/antoniostano/gatewayd/internal/tools"
)

func main() {
	logger := gatewaylog.New(os.Getenv("DEBUG") != "")
	defer logger.Sync() //nolint:errcheck

	cfgPath := os.Getenv("GATEWAYD_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalw("config load failed", "error", err)
	}

	// promhttp.Handler() in internal/httpapi serves the default global
	// registerer, so metrics register there rather than to a private
	// registry.
	metrics := observability.NewMetrics(cfg.MetricsNamespace, prometheus.DefaultRegisterer)

	registry := newProviderRegistry(cfg, logger)

	cache, err := server.NewCache(registry, cfg.Selection)
	if err != nil {
		logger.Fatalw("provider cache init failed", "error", err)
	}

	var mgmt mgmtapi.Client = mgmtapi.NewNullClient(mgmtapi.DeviceConfig{
		WelcomeMessage:   cfg.WelcomeMessage,
		SystemPrompt:     cfg.SystemPrompt,
		ExitCommands:     cfg.ExitCommands,
		WakeWords:        cfg.WakeWords,
		FunctionCallMode: cfg.FunctionCallMode,
		EndPromptEnabled: cfg.EndPromptEnabled,
		EndPrompt:        cfg.EndPrompt,
		EnableGreeting:   cfg.EnableGreeting,
		CloseNoVoiceTime: cfg.CloseConnectionNoVoiceTime,
		Selection: mgmtapi.ProviderSelection{
			VAD: cfg.Selection.VAD, VADConfig: cfg.Selection.VADConfig,
			ASR: cfg.Selection.ASR, ASRConfig: cfg.Selection.ASRConfig,
			LLM: cfg.Selection.LLM, LLMConfig: cfg.Selection.LLMConfig,
			TTS: cfg.Selection.TTS, TTSConfig: cfg.Selection.TTSConfig,
			Memory: cfg.Selection.Memory, MemoryConfig: cfg.Selection.MemoryConfig,
			Intent: cfg.Selection.Intent, IntentConfig: cfg.Selection.IntentConfig,
		},
	})

	auth := authn.New(cfg.AuthEnabled, cfg.AllowedDevices, cfg.BearerTokens, cfg.JWTSecret, cfg.JWTTTL)

	toolRegistry := tools.NewRegistry()

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, sessions, cache, mgmt, auth, toolRegistry, metrics, logger)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		logger.Infow("gatewayd listening",
			"addr", cfg.BindAddr,
			"device_socket", "/xiaozhi/v1/",
			"ota", "/xiaozhi/ota/",
			"vision", "/mcp/vision/explain",
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalw("listen error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Infow("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("graceful shutdown failed, forcing close", "error", err)
		_ = httpServer.Close()
	}
	logger.Infow("shutdown complete")
}

// newProviderRegistry registers every provider type name the fleet
// configuration or a device override can name. No vendor SDK for VAD, ASR,
// LLM streaming or TTS synthesis is present in the retrieved pack (see
// DESIGN.md), so every slot but memory is backed by the dependency-free
// mock providers; "mem_local_short" and "remote" are real implementations
// wired to internal/providers/memory.
func newProviderRegistry(cfg *config.Config, logger *gatewaylog.Logger) *providers.Registry {
	reg := providers.NewRegistry()

	reg.RegisterVAD("local_vad", func(map[string]any) (providers.VAD, error) {
		return providers.NewMockVAD(), nil
	})
	reg.RegisterASR("local_asr", func(map[string]any) (providers.ASR, error) {
		return providers.NewMockProvider(), nil
	})
	reg.RegisterLLM("openai_llm", func(map[string]any) (providers.LLM, error) {
		return providers.NewMockLLM(), nil
	})
	reg.RegisterTTS("local_tts", func(map[string]any) (providers.TTS, error) {
		return providers.NewMockProvider(), nil
	})
	reg.RegisterIntent("function_call", func(map[string]any) (providers.Intent, error) {
		return providers.NewMockIntent(), nil
	})

	reg.RegisterMemory("nomem", func(map[string]any) (providers.Memory, error) {
		return providers.NewNoMemory(), nil
	})
	reg.RegisterMemory("mem_local_short", func(map[string]any) (providers.Memory, error) {
		return memory.NewLocalShort(), nil
	})
	reg.RegisterMemory("remote", func(map[string]any) (providers.Memory, error) {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("providers: remote memory requires DATABASE_URL")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m, err := memory.NewRemote(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warnw("remote memory unavailable, device falls back to nomem", "error", err)
			return providers.NewNoMemory(), nil
		}
		return m, nil
	})

	return reg
}

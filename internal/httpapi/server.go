// Package httpapi exposes gatewayd's device-facing surfaces: the
// persistent device socket at /xiaozhi/v1/, the OTA/bind side-channel at
// /xiaozhi/ota/, the vision side-channel at /mcp/vision/explain, and the
// usual health/metrics endpoints. Grounded on the teacher's own
// chi-router-plus-gorilla-websocket server (kept: router shape,
// CheckOrigin policy, read/write-loop-with-writer-goroutine pattern) with
// the teacher's single generic session-WS endpoint replaced by the
// device-socket handshake described in SPEC_FULL.md §4.1/§6.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/antoniostano/gatewayd/internal/asrcoord"
	"github.com/antoniostano/gatewayd/internal/authn"
	"github.com/antoniostano/gatewayd/internal/config"
	"github.com/antoniostano/gatewayd/internal/connection"
	"github.com/antoniostano/gatewayd/internal/dialogue"
	"github.com/antoniostano/gatewayd/internal/gatewaylog"
	"github.com/antoniostano/gatewayd/internal/intent"
	"github.com/antoniostano/gatewayd/internal/mcpdevice"
	"github.com/antoniostano/gatewayd/internal/mgmtapi"
	"github.com/antoniostano/gatewayd/internal/observability"
	"github.com/antoniostano/gatewayd/internal/protocol"
	"github.com/antoniostano/gatewayd/internal/providers"
	"github.com/antoniostano/gatewayd/internal/quota"
	"github.com/antoniostano/gatewayd/internal/report"
	server "github.com/antoniostano/gatewayd/internal/server"
	"github.com/antoniostano/gatewayd/internal/session"
	"github.com/antoniostano/gatewayd/internal/toolhandler"
	"github.com/antoniostano/gatewayd/internal/tools"
	"github.com/antoniostano/gatewayd/internal/ttsengine"
	"github.com/antoniostano/gatewayd/internal/xerrors"
)

// Server wires the gateway's HTTP/WebSocket surface to the connection,
// session, provider and management-API layers.
type Server struct {
	cfg      *config.Config
	sessions *session.Manager
	cache    *server.Cache
	mgmt     mgmtapi.Client
	auth     *authn.Authenticator
	tools    *tools.Registry
	metrics  *observability.Metrics
	logger   *gatewaylog.Logger
	upgrader websocket.Upgrader
	quota    quota.Counter
}

func New(cfg *config.Config, sessions *session.Manager, cache *server.Cache, mgmt mgmtapi.Client, auth *authn.Authenticator, toolRegistry *tools.Registry, metrics *observability.Metrics, logger *gatewaylog.Logger) *Server {
	if logger == nil {
		logger = gatewaylog.Nop()
	}
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		cache:    cache,
		mgmt:     mgmt,
		auth:     auth,
		tools:    toolRegistry,
		metrics:  metrics,
		logger:   logger,
		quota:    quota.NewInMemory(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Devices are not browsers and usually omit Origin entirely;
			// only a browser-originated cross-site socket needs checking.
			if cfg.AllowAnyOrigin {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/xiaozhi/v1/", s.handleDeviceSocket)
	r.Get("/xiaozhi/ota/", s.handleOTA)
	r.Post("/mcp/vision/explain", s.handleVisionExplain)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

// handleOTA serves a device's resolved configuration (audio params aside,
// the device socket URL and its bind status) over the JWT-protected
// side-channel described in SPEC_FULL.md §6.
func (s *Server) handleOTA(w http.ResponseWriter, r *http.Request) {
	deviceID, err := s.auth.AuthorizeSideChannel(r.Context(), r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	dc, err := s.mgmt.FetchDeviceConfig(r.Context(), deviceID)
	if err != nil {
		if bindErr, ok := bindResultFrom(err); ok {
			respondJSON(w, http.StatusOK, map[string]any{
				"device_id": deviceID,
				"bound":     false,
				"bind_code": bindErr.BindCode,
			})
			return
		}
		respondError(w, http.StatusBadGateway, "management_api_error", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"device_id":       deviceID,
		"bound":           true,
		"websocket_url":   "/xiaozhi/v1/",
		"welcome_message": dc.WelcomeMessage,
	})
}

// handleVisionExplain is a minimal stand-in for the device's "explain
// what the camera sees" side-channel: SPEC_FULL.md scopes the vision
// model itself out (no vendor is named in the retrieved pack), but the
// authenticated endpoint shape is part of the external interface and is
// wired here so a vision provider can be dropped in later without
// touching the HTTP layer.
func (s *Server) handleVisionExplain(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.AuthorizeSideChannel(r.Context(), r); err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}
	respondError(w, http.StatusNotImplemented, "vision_not_configured", "no vision provider is configured")
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func bindResultFrom(err error) (mgmtapi.BindResult, bool) {
	if !xerrors.Is(err, xerrors.KindDeviceBind) {
		return mgmtapi.BindResult{}, false
	}
	return mgmtapi.BindResult{BindCode: "000000"}, true
}

// unboundBundle is the minimal provider set an unbound device's socket
// runs with while it waits to be claimed: no LLM (connection.Handler.Chat
// refuses to start a turn without one) and a placeholder TTS voice, just
// enough to speak the bind code prompt.
func unboundBundle() *providers.Bundle {
	return &providers.Bundle{
		VAD:    providers.NewMockVAD(),
		ASR:    providers.NewMockProvider(),
		TTS:    providers.NewMockProvider(),
		Memory: providers.NewNoMemory(),
		Intent: providers.NewMockIntent(),
	}
}

// handleServerAction processes an admin server{action:...} message per
// SPEC_FULL.md §6/E6. update_config re-fetches this device's remote
// configuration and swaps it into the shared module cache so subsequent
// connections pick up the new provider selection; in-flight sessions,
// including this one, keep whatever bundle they already hold.
func (s *Server) handleServerAction(ctx context.Context, conn *deviceConn, deviceID string, action protocol.ServerAction) {
	if s.cfg.AdminSecret == "" || action.Content.Secret != s.cfg.AdminSecret {
		conn.writeAdminAck("unauthorized")
		return
	}

	switch action.Action {
	case "update_config":
		dc, err := s.mgmt.FetchDeviceConfig(ctx, deviceID)
		if err != nil {
			s.logger.Warnw("update_config: management API fetch failed", "device_id", deviceID, "error", err)
			conn.writeAdminAck("error")
			return
		}
		merged := config.Merge(s.cfg, dc)
		if err := s.cache.UpdateConfig(ctx, merged.Selection); err != nil {
			s.logger.Warnw("update_config: cache rebuild failed", "device_id", deviceID, "error", err)
			conn.writeAdminAck("error")
			return
		}
		conn.writeAdminAck("success")
	default:
		conn.writeAdminAck("unknown_action")
	}
}

// speakBindCode announces a 6-digit bind code over the already-wired TTS
// engine, mirroring the device's OOBE bind-code prompt.
func speakBindCode(ctx context.Context, tts *ttsengine.Engine, code string) {
	_ = tts.PushDelta(ctx, fmt.Sprintf("This speaker isn't bound yet. Your bind code is %s.", code))
	_ = tts.Finish(ctx)
}

// handleDeviceSocket implements the device-socket handshake of
// SPEC_FULL.md §4.1: resolve and authorize the device, upgrade, wire up a
// fresh per-connection pipeline (provider bundle, dialogue, tool handler,
// TTS engine, ASR coordinator, connection handler), then run the read
// loop until the socket closes. The client's hello is answered, and the
// ASR session started, when it arrives in that loop; audio frames before
// it are ignored.
func (s *Server) handleDeviceSocket(w http.ResponseWriter, r *http.Request) {
	deviceID := authn.DeviceIDFromRequest(r)
	if deviceID == "" {
		respondError(w, http.StatusBadRequest, "missing_device_id", "device-id header or query parameter is required")
		return
	}
	clientID := authn.ClientIDFromRequest(r)
	bearer := authn.BearerToken(r)
	if err := s.auth.AuthorizeSocket(deviceID, bearer); err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var effective *config.Config
	var bundle *providers.Bundle
	bindCode := ""

	dc, err := s.mgmt.FetchDeviceConfig(ctx, deviceID)
	if err != nil {
		bindResult, ok := bindResultFrom(err)
		if !ok {
			s.logger.Warnw("device socket: management API fetch failed, closing", "device_id", deviceID, "error", err)
			return
		}
		// Unbound device: speak the bind code instead of closing, per
		// SPEC_FULL.md §7's device-socket bind flow. The session runs
		// with a minimal bundle until the device is bound and reconnects.
		s.logger.Infow("device socket: unbound device, speaking bind code", "device_id", deviceID)
		effective = s.cfg
		bundle = unboundBundle()
		bindCode = bindResult.BindCode
	} else {
		effective = config.Merge(s.cfg, dc)
		bundle, err = s.cache.Build(effective.Selection)
		if err != nil {
			s.logger.Warnw("device socket: provider bundle build failed, closing", "device_id", deviceID, "error", err)
			return
		}
	}

	authMethod := session.AuthAllowlist
	if bearer != "" {
		authMethod = session.AuthBearer
	}
	sess := s.sessions.Create(deviceID, clientID, r.RemoteAddr, authMethod)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()
	defer func() {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}()

	reportQueue := report.Start(ctx, s.mgmt, deviceID, s.logger)
	defer reportQueue.Close(5 * time.Second)

	dc2conn := newDeviceConn(conn, sess.ID, s.metrics, reportQueue, 0)
	go dc2conn.runWriter(ctx)

	ttsEngine := ttsengine.New(bundle.TTS, dc2conn)
	if effective.DailyQuotaChars > 0 {
		ttsEngine.SetQuota(s.quota, deviceID, effective.DailyQuotaChars)
	}
	mcpClient := mcpdevice.NewClient(dc2conn)
	iotRegistry := mcpdevice.NewIoTRegistry()
	toolHandler := toolhandler.New(s.tools, mcpClient, iotRegistry, dc2conn)

	dlg := dialogue.New(effective.SystemPrompt)
	router := &intent.Router{
		ExitCommands: effective.ExitCommands,
		WakeWords:    effective.WakeWords,
		Classifier:   bundle.Intent,
	}

	handler := connection.New(sess, s.sessions, bundle, dlg, router, toolHandler, ttsEngine, dc2conn, connection.Config{
		CloseConnectionNoVoiceTime: effective.CloseConnectionNoVoiceTime,
		EndPromptEnabled:           effective.EndPromptEnabled,
		EndPrompt:                  effective.EndPrompt,
		FunctionCallMode:           effective.FunctionCallMode,
	})

	coordCfg := asrcoord.Config{
		Mode:           asrcoord.ModeAuto,
		WakeWords:      effective.WakeWords,
		EnableGreeting: effective.EnableGreeting,
		Voice:          effective.Selection.TTS,
	}
	coord := asrcoord.New(bundle.VAD, handler, nil, coordCfg)
	handler.SetCoordinator(coord)

	handler.StartWatchdog(ctx)

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	helloReceived := false

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		if msgType == websocket.BinaryMessage {
			if helloReceived {
				_ = coord.IngestFrame(ctx, data)
			}
			continue
		}
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			continue
		}

		switch m := parsed.(type) {
		case protocol.Hello:
			if helloReceived {
				continue
			}
			helloReceived = true
			asrSession, events, startErr := bundle.ASR.StartSession(ctx, sess.ID)
			if startErr == nil {
				coord.BindASRSession(asrSession, events)
				go coord.Run(ctx)
			} else {
				s.logger.Warnw("device socket: ASR session start failed", "device_id", deviceID, "error", startErr)
			}
			dc2conn.setSampleRate(m.AudioParams.SampleRate)
			dc2conn.writeHello(sess.ID, m.AudioParams)
			if bindCode != "" {
				speakBindCode(ctx, ttsEngine, bindCode)
			}
			s.metrics.WSMessages.WithLabelValues("inbound", "hello").Inc()
		case protocol.Abort:
			_ = handler.Abort(ctx)
			s.metrics.WSMessages.WithLabelValues("inbound", "abort").Inc()
		case protocol.Listen:
			coord.HandleListen(m)
			if m.State == protocol.ListenDetect {
				coord.HandleDetectedText(ctx, m.Text)
			}
			s.metrics.WSMessages.WithLabelValues("inbound", "listen").Inc()
		case protocol.MCPEnvelope:
			var env mcpdevice.Envelope
			if err := json.Unmarshal(m.Payload, &env); err == nil {
				mcpClient.HandleResponse(env)
			}
			s.metrics.WSMessages.WithLabelValues("inbound", "mcp").Inc()
		case protocol.IoTReport:
			for _, raw := range m.Descriptors {
				var d mcpdevice.IoTDescriptor
				if err := json.Unmarshal(raw, &d); err == nil {
					iotRegistry.SetDescriptors([]mcpdevice.IoTDescriptor{d})
				}
			}
			for _, raw := range m.States {
				var st mcpdevice.IoTState
				if err := json.Unmarshal(raw, &st); err == nil {
					iotRegistry.SetState(st)
				}
			}
			s.metrics.WSMessages.WithLabelValues("inbound", "iot").Inc()
		case protocol.ServerAction:
			s.metrics.WSMessages.WithLabelValues("inbound", "server").Inc()
			s.handleServerAction(ctx, dc2conn, deviceID, m)
		}
	}

	cancel()
	_ = handler.Close(context.Background())
	dc2conn.closeWriter()
}

// Package connection implements the connection handler (C10): the
// per-device turn orchestrator owning handshake, the LISTENING/RECEIVING/
// THINKING/SPEAKING/CLOSED state machine, the idle watchdog, and one
// assistant turn's LLM→tool→TTS pipeline. Grounded on the teacher's
// httpapi websocket read/write loop pattern (separate writer goroutine,
// buffered inbound/outbound channels) and on startToChat/handle_user_intent
// from original_source.
package connection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/gatewayd/internal/asrcoord"
	"github.com/antoniostano/gatewayd/internal/dialogue"
	"github.com/antoniostano/gatewayd/internal/intent"
	"github.com/antoniostano/gatewayd/internal/providers"
	"github.com/antoniostano/gatewayd/internal/session"
	"github.com/antoniostano/gatewayd/internal/toolhandler"
	"github.com/antoniostano/gatewayd/internal/tools"
	"github.com/antoniostano/gatewayd/internal/ttsengine"
	"github.com/antoniostano/gatewayd/internal/xerrors"
)

const watchdogInterval = 10 * time.Second

// Config holds the per-device tunables the connection handler reads on
// every watchdog tick and turn.
type Config struct {
	CloseConnectionNoVoiceTime time.Duration
	EndPromptEnabled           bool
	EndPrompt                  string
	FunctionCallMode           bool
}

// Writer delivers outbound protocol frames to the device socket; the
// connection layer never touches the socket directly.
type Writer interface {
	WriteSTT(ctx context.Context, text string) error
	WriteTTSFrame(ctx context.Context, frame ttsengine.Frame) error
	WriteTTSStop(ctx context.Context) error
	WriteServerAction(ctx context.Context, action string) error
}

// Handler owns one device connection's lifecycle from handshake to close.
type Handler struct {
	mu sync.Mutex

	session  *session.Session
	sessions *session.Manager
	bundle   *providers.Bundle
	dialogue *dialogue.Dialogue
	router   *intent.Router
	tools    *toolhandler.Handler
	tts      *ttsengine.Engine
	writer   Writer
	cfg      Config
	coord    *asrcoord.Coordinator

	clientAbort    bool
	closeAfterChat bool
	cancelWatchdog context.CancelFunc
}

func New(sess *session.Session, sessions *session.Manager, bundle *providers.Bundle, d *dialogue.Dialogue, router *intent.Router, tools *toolhandler.Handler, tts *ttsengine.Engine, writer Writer, cfg Config) *Handler {
	return &Handler{
		session:  sess,
		sessions: sessions,
		bundle:   bundle,
		dialogue: d,
		router:   router,
		tools:    tools,
		tts:      tts,
		writer:   writer,
		cfg:      cfg,
	}
}

// SetCoordinator wires the asrcoord.Coordinator that owns the wake-word
// suppression/cache/greeting flow, so a wake word recognized through the
// normal server-side ASR path (not a device "detect" hint) can still be
// routed through that flow instead of silently no-opping.
func (h *Handler) SetCoordinator(c *asrcoord.Coordinator) {
	h.mu.Lock()
	h.coord = c
	h.mu.Unlock()
}

// StartWatchdog launches the 10s-interval idle watchdog described in
// SPEC_FULL.md §4.1/§5. It stores the watchdog's cancel function, which
// Close calls to stop it.
func (h *Handler) StartWatchdog(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancelWatchdog = cancel
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(watchdogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.checkIdle(ctx)
			}
		}
	}()
}

func (h *Handler) checkIdle(ctx context.Context) {
	idleFor := time.Since(time.UnixMilli(h.session.LastActivityAtMs))
	hardLimit := h.cfg.CloseConnectionNoVoiceTime + 60*time.Second

	if idleFor > hardLimit {
		_ = h.Close(ctx)
		return
	}

	h.mu.Lock()
	already := h.closeAfterChat
	h.mu.Unlock()
	if already {
		return
	}

	if idleFor > h.cfg.CloseConnectionNoVoiceTime {
		if !h.cfg.EndPromptEnabled {
			_ = h.Close(ctx)
			return
		}
		prompt := h.cfg.EndPrompt
		if prompt == "" {
			prompt = "Wrap up this conversation with a warm, wistful farewell."
		}
		h.mu.Lock()
		h.closeAfterChat = true
		h.clientAbort = false
		h.mu.Unlock()
		_ = h.Chat(ctx, prompt, false)
	}
}

// ChangeSystemPrompt replaces the dialogue's leading system message.
func (h *Handler) ChangeSystemPrompt(text string) {
	h.dialogue.SetSystemPrompt(text)
}

// Abort drains in-flight speech per SPEC_FULL.md §4.1: sets client_abort,
// clears the speaking state, and tells the device to stop playing audio.
func (h *Handler) Abort(ctx context.Context) error {
	h.mu.Lock()
	h.clientAbort = true
	h.mu.Unlock()
	h.tts.Abort()
	_ = h.sessions.SetState(h.session.ID, session.StateListening)
	return h.writer.WriteServerAction(ctx, "tts_stop")
}

// Close cancels the watchdog and best-effort saves memory on a detached
// worker so Close itself never blocks on it.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	cancel := h.cancelWatchdog
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if h.bundle != nil && h.bundle.Memory != nil {
		d := h.dialogue
		userID := h.session.DeviceID
		mem := h.bundle.Memory
		go func() {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mem.Save(saveCtx, userID, d)
		}()
	}

	_ = h.sessions.SetState(h.session.ID, session.StateClosed)
	_, err := h.sessions.End(h.session.ID)
	return err
}

// StartToChat is the asrcoord.Sink entry point: runs intent routing, then
// falls through to a normal chat turn if the intent isn't handled.
func (h *Handler) StartToChat(ctx context.Context, text string) {
	speaking := false
	if sess, err := h.sessions.Get(h.session.ID); err == nil {
		speaking = sess.State == session.StateSpeaking
	}
	if speaking {
		_ = h.Abort(ctx)
	}

	if h.router != nil {
		mode := intent.ModeIntentLLM
		if h.cfg.FunctionCallMode {
			mode = intent.ModeFunctionCall
		}
		h.router.Mode = mode

		outcome, err := h.router.Evaluate(ctx, h.dialogue.Messages(), text)
		if err == nil && outcome.Handled {
			if outcome.CloseRequested {
				_ = h.writer.WriteSTT(ctx, text)
				_ = h.Close(ctx)
				return
			}
			if outcome.WakeWordMatched {
				h.mu.Lock()
				coord := h.coord
				h.mu.Unlock()
				if coord != nil {
					coord.HandleWakeWord(ctx, text)
				} else {
					// No coordinator wired (e.g. a text-only/manual
					// session): fall back to the greeting-disabled
					// acknowledgement rather than a silent no-op.
					_ = h.writer.WriteSTT(ctx, text)
					_ = h.writer.WriteTTSStop(ctx)
				}
				return
			}
			if outcome.ToolResult != nil {
				_ = h.writer.WriteSTT(ctx, text)
				_ = h.dialogue.Put(dialogue.Message{Role: dialogue.RoleUser, Content: text})
				h.dispatchToolCall(ctx, toolhandler.Call{
					Name:      outcome.ToolResult.Name,
					ID:        outcome.ToolResult.ID,
					Arguments: outcome.ToolResult.Arguments,
				})
			}
			return
		}
	}

	_ = h.writer.WriteSTT(ctx, text)
	_ = h.Chat(ctx, text, false)
}

// VoiceDetected satisfies asrcoord.Sink's rising-edge voice callback. Per
// spec §4.1's state diagram: LISTENING moves to RECEIVING while ASR
// buffers the new utterance; voice arriving while SPEAKING is a barge-in,
// so it also aborts the in-flight turn before landing in RECEIVING.
func (h *Handler) VoiceDetected(ctx context.Context) {
	sess, err := h.sessions.Get(h.session.ID)
	if err != nil {
		return
	}

	switch sess.State {
	case session.StateListening:
		_ = h.sessions.SetState(h.session.ID, session.StateReceiving)
	case session.StateSpeaking:
		_ = h.Abort(ctx)
		_ = h.sessions.SetState(h.session.ID, session.StateReceiving)
	}
}

// NotifyWakeOnly satisfies asrcoord.Sink when greeting is disabled: the
// device is told stt + tts{state:"stop"}, with no audio and no assistant
// turn, per SPEC_FULL.md §4.3.
func (h *Handler) NotifyWakeOnly(ctx context.Context, text string) {
	_ = h.writer.WriteSTT(ctx, text)
	_ = h.writer.WriteTTSStop(ctx)
}

// ContinueChat satisfies asrcoord.Sink for the post-wake-word "run the
// normal pipeline" fallback (§4.3): the wake word has already been
// handled by the coordinator, so this goes straight to a chat turn
// instead of re-running intent routing (which would just match the same
// wake word again and no-op).
func (h *Handler) ContinueChat(ctx context.Context, text string) {
	_ = h.writer.WriteSTT(ctx, text)
	_ = h.Chat(ctx, text, false)
}

// PlayCachedWake satisfies asrcoord.Sink for the wake-word cache-hit path.
func (h *Handler) PlayCachedWake(frames [][]byte, text string) {
	ctx := context.Background()
	for i, f := range frames {
		state := ttsengine.SentenceMiddle
		if i == 0 {
			state = ttsengine.SentenceFirst
		}
		if i == len(frames)-1 {
			state = ttsengine.SentenceLast
		}
		_ = h.writer.WriteTTSFrame(ctx, ttsengine.Frame{State: state, Text: text, Opus: f})
	}
	_ = h.dialogue.Put(dialogue.Message{Role: dialogue.RoleAssistant, Content: text})
}

// Chat runs one assistant turn per SPEC_FULL.md §4.1. toolCall is true when
// recursing after a REQLLM tool result; recursion is bounded to depth 1.
func (h *Handler) Chat(ctx context.Context, text string, toolCall bool) error {
	_ = h.sessions.SetState(h.session.ID, session.StateThinking)

	if h.bundle == nil || h.bundle.LLM == nil {
		// Minimal bundle (unbound device awaiting a bind code): no LLM is
		// configured, so there is nothing to converse with yet.
		_ = h.speak(ctx, "This speaker isn't bound to an account yet.")
		_ = h.sessions.SetState(h.session.ID, session.StateListening)
		return nil
	}

	if !toolCall {
		// A fresh top-level turn clears any abort left over from the
		// previous one; recursion (toolCall=true) does not, so a
		// barge-in mid-turn stays sticky across the REQLLM re-run.
		h.mu.Lock()
		h.clientAbort = false
		h.mu.Unlock()
		h.tts.ResetAbort()
		if err := h.dialogue.Put(dialogue.Message{Role: dialogue.RoleUser, Content: text}); err != nil {
			return err
		}
	}

	var memContext string
	if h.bundle != nil && h.bundle.Memory != nil {
		memContext, _ = h.bundle.Memory.Query(ctx, h.session.DeviceID, text)
	}
	messages := h.dialogue.Messages()
	if memContext != "" {
		memMsg := dialogue.Message{Role: dialogue.RoleSystem, Content: "Relevant memory:\n" + memContext}
		withMem := make([]dialogue.Message, 0, len(messages)+1)
		withMem = append(withMem, messages[0], memMsg)
		withMem = append(withMem, messages[1:]...)
		messages = withMem
	}

	var toolSchemas []providers.ToolSchema
	if h.tools != nil && h.cfg.FunctionCallMode {
		toolSchemas = h.tools.Schemas()
	}

	deltas, err := h.bundle.LLM.StreamChat(ctx, messages, toolSchemas)
	if err != nil {
		return xerrors.New(xerrors.KindProviderTransient, "connection.Chat", err)
	}

	_ = h.sessions.SetState(h.session.ID, session.StateSpeaking)

	var responseBuf string
	var accumulatedCall *toolhandler.Call
	first := true

	// Small models that lack structured tool-calling emit a call inline as
	// "<tool_call>{...}</tool_call>" text instead. pending holds text
	// deltas until enough of the prefix has arrived to tell which case
	// this is, so an inline call never leaks partial words to TTS.
	var pending strings.Builder
	decided := false
	inlineToolCall := false

	emit := func(text string) error {
		if text == "" {
			return nil
		}
		if first {
			_ = h.writer.WriteServerAction(ctx, "turn_first")
			first = false
		}
		return h.tts.PushDelta(ctx, text)
	}

	for delta := range deltas {
		h.mu.Lock()
		aborted := h.clientAbort
		h.mu.Unlock()
		if aborted {
			break
		}

		if len(delta.ToolCalls) > 0 {
			tc := delta.ToolCalls[0]
			accumulatedCall = &toolhandler.Call{Name: tc.Name, ID: tc.ID, Arguments: []byte(tc.Arguments)}
			continue
		}

		if delta.TextDelta == "" {
			continue
		}
		responseBuf += delta.TextDelta

		if inlineToolCall {
			continue
		}
		if decided {
			if err := emit(delta.TextDelta); err != nil {
				return err
			}
			continue
		}

		pending.WriteString(delta.TextDelta)
		buffered := strings.TrimLeft(pending.String(), " \t\n\r")
		if strings.HasPrefix(buffered, inlineToolCallTag) {
			decided = true
			inlineToolCall = true
			continue
		}
		if len(buffered) >= len(inlineToolCallTag) {
			decided = true
			if err := emit(pending.String()); err != nil {
				return err
			}
			pending.Reset()
		}
	}

	// Stream ended before pending grew long enough to decide; it can't be
	// the tag (which would have matched above), so it's plain text.
	if !decided && pending.Len() > 0 {
		if err := emit(pending.String()); err != nil {
			return err
		}
	}

	if err := h.tts.Finish(ctx); err != nil {
		return err
	}

	if accumulatedCall != nil && accumulatedCall.ID == "" {
		if repaired, ok := repairToolCall(string(accumulatedCall.Arguments)); ok {
			if repaired.Name == "" {
				repaired.Name = accumulatedCall.Name
			}
			accumulatedCall = repaired
		} else {
			accumulatedCall.ID = uuid.NewString()
		}
	}

	if inlineToolCall && accumulatedCall == nil {
		if repaired, ok := repairToolCall(responseBuf); ok {
			accumulatedCall = repaired
		}
	}

	if accumulatedCall != nil {
		if toolCall {
			// recursion depth already at 1; do not recurse again
			return nil
		}
		h.dispatchToolCall(ctx, *accumulatedCall)
		return nil
	}

	if responseBuf != "" {
		_ = h.dialogue.Put(dialogue.Message{Role: dialogue.RoleAssistant, Content: responseBuf})
	}
	_ = h.writer.WriteServerAction(ctx, "turn_last")
	_ = h.sessions.SetState(h.session.ID, session.StateListening)
	return nil
}

func (h *Handler) dispatchToolCall(ctx context.Context, call toolhandler.Call) {
	result, err := h.tools.Handle(ctx, h.session, call)
	if err != nil {
		result = tools.Result{Action: tools.ActionError, Result: fmt.Sprintf("tool call failed: %v", err)}
	}

	switch result.Action {
	case tools.ActionResponse:
		_ = h.speak(ctx, result.Response)
		_ = h.dialogue.Put(dialogue.Message{Role: dialogue.RoleAssistant, Content: result.Response})
	case tools.ActionReqLLM:
		_ = h.dialogue.Put(dialogue.Message{
			Role:      dialogue.RoleAssistant,
			ToolCalls: []dialogue.ToolCall{{ID: call.ID, Name: call.Name, Arguments: string(call.Arguments)}},
		})
		_ = h.dialogue.Put(dialogue.Message{Role: dialogue.RoleTool, Content: result.Result, ToolCallID: call.ID})
		_ = h.Chat(ctx, "", true)
	case tools.ActionNotFound, tools.ActionError:
		_ = h.speak(ctx, result.Result)
		_ = h.dialogue.Put(dialogue.Message{Role: dialogue.RoleAssistant, Content: result.Result})
	case tools.ActionNone:
	}
}

func (h *Handler) speak(ctx context.Context, text string) error {
	if err := h.tts.PushDelta(ctx, text); err != nil {
		return err
	}
	return h.tts.Finish(ctx)
}

// Package intent implements the intent router (C7): deciding, for each
// transcribed utterance, whether the turn short-circuits the LLM entirely
// (an exit command, a wake word) or whether a function_call is extracted
// directly from a lightweight intent-classification pass instead of the
// full LLM turn. Grounded on the original handle_user_intent coordinator.
package intent

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/antoniostano/gatewayd/internal/dialogue"
	"github.com/antoniostano/gatewayd/internal/providers"
	"github.com/antoniostano/gatewayd/internal/toolhandler"
)

// continueChatSentinel is the function name the intent classifier emits
// when it found no actionable intent and the turn should fall through to
// the normal LLM chat path.
const continueChatSentinel = "continue_chat"

// EngineMode selects whether the LLM itself performs function calling
// (skip intent classification) or a separate intent pass runs first.
type EngineMode string

const (
	ModeFunctionCall EngineMode = "function_call"
	ModeIntentLLM    EngineMode = "intent_llm"
)

// Outcome tells the connection handler what happened to the utterance.
type Outcome struct {
	// Handled is true if the turn is fully resolved here (exit command,
	// wake word, or a direct function_call dispatch) and the normal LLM
	// chat path should be skipped for this utterance.
	Handled bool
	// CloseRequested is true if check_direct_exit matched and the session
	// should close after acknowledging the command.
	CloseRequested bool
	// WakeWordMatched is true if the utterance exactly matched a
	// configured wake word; the caller must route it through the §4.3
	// wake-word flow (suppression window, cache hit/regenerate, or a
	// greeting-disabled no-op) instead of treating Handled as a no-op.
	WakeWordMatched bool
	// ToolResult is the function call extracted by the intent classifier
	// when Handled is true via a direct function_call. Evaluate does not
	// dispatch it; the caller does.
	ToolResult *toolhandler.Call
}

// Router holds the per-connection configuration needed to evaluate
// handle_user_intent: the configured exit commands, wake words, the
// engine mode, and the intent classifier provider (nil when Mode is
// ModeFunctionCall, since the LLM handles function calling itself).
type Router struct {
	ExitCommands []string
	WakeWords    []string
	Mode         EngineMode
	Classifier   providers.Intent
}

// Evaluate runs the check_direct_exit → wake-word → function_call-mode
// skip → LLM-intent-classification chain for one transcribed utterance.
func (r *Router) Evaluate(ctx context.Context, history []dialogue.Message, text string) (Outcome, error) {
	filtered := normalize(text)

	if r.matchesExitCommand(filtered) {
		return Outcome{Handled: true, CloseRequested: true}, nil
	}
	if r.matchesWakeWord(filtered) {
		return Outcome{Handled: true, WakeWordMatched: true}, nil
	}
	if r.Mode == ModeFunctionCall {
		return Outcome{Handled: false}, nil
	}
	if r.Classifier == nil {
		return Outcome{Handled: false}, nil
	}

	result, err := r.Classifier.Classify(ctx, history, text)
	if err != nil {
		return Outcome{Handled: false}, nil
	}
	if !result.IsToolCall || result.ToolName == "" || result.ToolName == continueChatSentinel {
		return Outcome{Handled: false}, nil
	}

	return Outcome{
		Handled: true,
		ToolResult: &toolhandler.Call{
			Name:      result.ToolName,
			Arguments: json.RawMessage(result.Arguments),
		},
	}, nil
}

func (r *Router) matchesExitCommand(filtered string) bool {
	for _, cmd := range r.ExitCommands {
		if filtered == normalize(cmd) {
			return true
		}
	}
	return false
}

func (r *Router) matchesWakeWord(filtered string) bool {
	for _, w := range r.WakeWords {
		if filtered == normalize(w) {
			return true
		}
	}
	return false
}

// normalize strips punctuation/emoji and surrounding whitespace, mirroring
// remove_punctuation_and_length's exact-match comparison semantics.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

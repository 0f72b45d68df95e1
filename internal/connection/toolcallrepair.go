package connection

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/antoniostano/gatewayd/internal/toolhandler"
)

// inlineToolCallTag is how small models that don't support structured
// tool-calling signal a function call inline in the text stream.
const inlineToolCallTag = "<tool_call>"

// repairToolCall recovers a function call from a model that emitted it as
// inline text instead of a structured tool_calls delta -- small models
// frequently wrap the call in a literal "<tool_call>{...}</tool_call>"
// span, or emit the JSON object with stray text around it. Grounded on
// extract_json_from_string/the content_arguments fallback in
// original_source's connection.chat.
func repairToolCall(raw string) (*toolhandler.Call, bool) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return nil, false
	}

	var parsed struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil || parsed.Name == "" {
		return nil, false
	}

	args := parsed.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	} else if args[0] == '"' {
		// Some models double-encode arguments as a JSON string containing
		// JSON; unwrap it so downstream handlers see a plain object.
		var inner string
		if err := json.Unmarshal(args, &inner); err == nil {
			args = json.RawMessage(inner)
		}
	}

	return &toolhandler.Call{
		Name:      parsed.Name,
		ID:        uuid.NewString(),
		Arguments: args,
	}, true
}

// extractJSONObject scans s for the first balanced {...} span, honoring
// string literals and escapes so braces inside argument strings don't
// break the bracket count.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

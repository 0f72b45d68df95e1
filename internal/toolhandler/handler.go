// Package toolhandler implements the unified tool-call dispatcher (C6):
// given a function-call name, it tries the server-plugin registry, then
// MCP device tools, then IoT descriptor methods, first match wins, and
// normalizes whichever backend served the call into a tools.Result.
package toolhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/antoniostano/gatewayd/internal/mcpdevice"
	"github.com/antoniostano/gatewayd/internal/providers"
	"github.com/antoniostano/gatewayd/internal/tools"
)

// Call is a synthesized function-call record, as produced by either the
// LLM's function-streaming mode or the intent router.
type Call struct {
	Name      string
	ID        string
	Arguments json.RawMessage
}

// IoTSender delivers a command envelope to the device socket; implemented
// by the connection layer, which owns the write side of the socket.
type IoTSender interface {
	SendIoTCommand(ctx context.Context, cmd mcpdevice.IoTCommand) error
}

// Handler dispatches Calls across the three tool provenances in priority
// order: server plugin, MCP device tool, IoT device method.
type Handler struct {
	registry  *tools.Registry
	mcp       *mcpdevice.Client
	iot       *mcpdevice.IoTRegistry
	iotSender IoTSender
}

func New(registry *tools.Registry, mcp *mcpdevice.Client, iot *mcpdevice.IoTRegistry, iotSender IoTSender) *Handler {
	return &Handler{registry: registry, mcp: mcp, iot: iot, iotSender: iotSender}
}

// Schemas returns every tool the LLM may call in function-calling mode:
// server plugins, plus whichever MCP tools and IoT device methods have
// been negotiated/announced for this connection so far. Calling it before
// a device's MCP/IoT handshake completes simply omits those entries.
func (h *Handler) Schemas() []providers.ToolSchema {
	var out []providers.ToolSchema
	if h.registry != nil {
		out = append(out, h.registry.Schemas()...)
	}

	if h.mcp != nil {
		for _, t := range h.mcp.Tools() {
			out = append(out, providers.ToolSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  mcpInputSchema(t),
			})
		}
	}

	if h.iot != nil {
		for _, d := range h.iot.Descriptors() {
			for name, m := range d.Methods {
				out = append(out, providers.ToolSchema{
					Name:        d.Name + "." + name,
					Description: m.Description,
					Parameters:  iotMethodSchema(m),
				})
			}
		}
	}

	return out
}

// mcpInputSchema pulls the "inputSchema" field off an SDK tool by round
// tripping through JSON rather than importing the SDK's jsonschema type
// directly, since ToolSchema.Parameters only needs the decoded shape.
func mcpInputSchema(t mcpsdk.Tool) map[string]any {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	var decoded struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	return decoded.InputSchema
}

// iotMethodSchema synthesizes a JSON-schema object from an IoT method
// descriptor's declared parameters, the same shape an MCP tool's
// InputSchema carries.
func iotMethodSchema(m mcpdevice.IoTMethodDescr) map[string]any {
	if len(m.Parameters) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	props := make(map[string]any, len(m.Parameters))
	for name, p := range m.Parameters {
		props[name] = map[string]any{"type": p.Type, "description": p.Description}
	}
	return map[string]any{"type": "object", "properties": props}
}

// Handle routes call to whichever backend owns its name. session is
// forwarded to server-plugin handlers as an opaque value.
func (h *Handler) Handle(ctx context.Context, session any, call Call) (tools.Result, error) {
	if d, ok := h.registry.Lookup(call.Name); ok {
		return d.Handler(ctx, session, call.Arguments)
	}

	if h.mcp != nil {
		for _, t := range h.mcp.Tools() {
			if t.Name == call.Name {
				return h.handleMCP(ctx, call)
			}
		}
	}

	if h.iot != nil {
		if device, method, ok := splitIoTToolName(call.Name); ok && h.iot.HasMethod(device, method) {
			return h.handleIoT(ctx, device, method, call)
		}
	}

	return tools.Result{
		Action: tools.ActionNotFound,
		Result: fmt.Sprintf("no tool named %q is registered", call.Name),
	}, nil
}

func (h *Handler) handleMCP(ctx context.Context, call Call) (tools.Result, error) {
	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return tools.Result{Action: tools.ActionError, Result: "malformed tool arguments"}, nil
		}
	}

	result, err := h.mcp.CallTool(ctx, call.Name, args)
	if err != nil {
		return tools.Result{Action: tools.ActionError, Result: err.Error()}, nil
	}
	if result.IsError {
		return tools.Result{Action: tools.ActionError, Result: contentText(result)}, nil
	}
	return tools.Result{Action: tools.ActionReqLLM, Result: contentText(result)}, nil
}

func contentText(r mcpdevice.CallToolResult) string {
	var b strings.Builder
	for _, c := range r.Content {
		b.WriteString(fmt.Sprintf("%v", c))
	}
	return b.String()
}

func (h *Handler) handleIoT(ctx context.Context, device, method string, call Call) (tools.Result, error) {
	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return tools.Result{Action: tools.ActionError, Result: "malformed tool arguments"}, nil
		}
	}

	cmd := mcpdevice.IoTCommand{Name: device, Method: method, Parameters: args}
	if h.iotSender == nil {
		return tools.Result{Action: tools.ActionError, Result: "no IoT command channel available"}, nil
	}
	if err := h.iotSender.SendIoTCommand(ctx, cmd); err != nil {
		return tools.Result{Action: tools.ActionError, Result: err.Error()}, nil
	}

	// The device confirms execution asynchronously via a states frame;
	// the turn continues with an acknowledgement rather than waiting for it.
	return tools.Result{
		Action: tools.ActionReqLLM,
		Result: fmt.Sprintf("command sent to %s.%s", device, method),
	}, nil
}

// splitIoTToolName recognizes the "<Device>.<Method>" naming convention
// used for IoT-backed function-call tools synthesized from descriptors.
func splitIoTToolName(name string) (device, method string, ok bool) {
	idx := strings.Index(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

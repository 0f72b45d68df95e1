// Package mcpdevice implements the MCP/IoT device-tool protocol (C5): a
// JSON-RPC-2.0-shaped envelope carried inside the device socket's
// {type:"mcp", payload:...} frame, through which a device announces and
// serves callable tools (lights, sensors, etc). The device plays the MCP
// server role; this package is the client side of that exchange.
//
// The official MCP Go SDK's Client/Transport abstraction assumes it owns
// full-duplex framing over stdio or HTTP; here MCP messages are
// multiplexed inside a single device socket alongside audio frames and a
// handful of unrelated control messages, so the transport itself is
// hand-rolled against the same JSON-RPC 2.0 wire shape the SDK uses
// (method/params/result/error keyed by id), while mcp.Tool is reused
// directly from the SDK for the tool-descriptor shape.
package mcpdevice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
)

// Envelope is one JSON-RPC message exchanged inside a {type:"mcp"} frame.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Sender delivers a raw MCP envelope to the device over its socket
// connection; implemented by the connection layer.
type Sender interface {
	SendMCP(ctx context.Context, env Envelope) error
}

// CallToolParams is the params payload of a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallToolResult is the result payload of a successful tools/call response.
type CallToolResult struct {
	Content []mcpsdk.Content `json:"content"`
	IsError bool             `json:"isError,omitempty"`
}

// pendingCall tracks an in-flight tools/call awaiting its correlated
// response.
type pendingCall struct {
	resultCh chan CallToolResult
	errCh    chan error
}

// Client manages one device's MCP session: issuing initialize/tools-list
// on negotiation, and correlating tools/call responses by request id.
type Client struct {
	mu       sync.Mutex
	sender   Sender
	nextID   int64
	pending  map[int64]pendingCall
	tools    []mcpsdk.Tool
	initDone bool
}

func NewClient(sender Sender) *Client {
	return &Client{sender: sender, pending: make(map[int64]pendingCall)}
}

// Negotiate performs the initialize → tools/list handshake and returns the
// device's advertised tools.
func (c *Client) Negotiate(ctx context.Context) ([]mcpsdk.Tool, error) {
	if _, err := c.call(ctx, MethodInitialize, map[string]any{
		"protocolVersion": "2024-11-05",
	}); err != nil {
		return nil, fmt.Errorf("mcpdevice: initialize failed: %w", err)
	}

	raw, err := c.call(ctx, MethodToolsList, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("mcpdevice: tools/list failed: %w", err)
	}

	var listResult struct {
		Tools []mcpsdk.Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listResult); err != nil {
		return nil, fmt.Errorf("mcpdevice: decode tools/list result: %w", err)
	}

	c.mu.Lock()
	c.tools = listResult.Tools
	c.initDone = true
	c.mu.Unlock()
	return listResult.Tools, nil
}

// Tools returns the device's advertised tools as discovered by Negotiate.
func (c *Client) Tools() []mcpsdk.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mcpsdk.Tool(nil), c.tools...)
}

// CallTool invokes a device-side tool and waits for its correlated
// response, or for ctx to be done.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (CallToolResult, error) {
	raw, err := c.call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return CallToolResult{}, err
	}
	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return CallToolResult{}, fmt.Errorf("mcpdevice: decode tools/call result: %w", err)
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	resultCh := make(chan CallToolResult, 1)
	errCh := make(chan error, 1)
	c.pending[id] = pendingCall{resultCh: resultCh, errCh: errCh}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	env := Envelope{JSONRPC: "2.0", ID: &id, Method: method, Params: paramsRaw}
	if err := c.sender.SendMCP(ctx, env); err != nil {
		return nil, fmt.Errorf("mcpdevice: send envelope: %w", err)
	}

	rawCh := make(chan json.RawMessage, 1)
	errCh2 := make(chan error, 1)
	go func() {
		select {
		case r := <-resultCh:
			b, _ := json.Marshal(r)
			rawCh <- b
		case e := <-errCh:
			errCh2 <- e
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw := <-rawCh:
		return raw, nil
	case err := <-errCh2:
		return nil, err
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("mcpdevice: method %q timed out awaiting a response", method)
	}
}

// HandleResponse delivers an asynchronously-received MCP response envelope
// (read off the device socket by the connection layer) to the waiting
// caller of call, correlated by id.
func (c *Client) HandleResponse(env Envelope) {
	if env.ID == nil {
		return
	}
	c.mu.Lock()
	pc, ok := c.pending[*env.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	if env.Error != nil {
		pc.errCh <- fmt.Errorf("mcpdevice: %s (code %d)", env.Error.Message, env.Error.Code)
		return
	}
	var result CallToolResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		pc.errCh <- fmt.Errorf("mcpdevice: decode response result: %w", err)
		return
	}
	pc.resultCh <- result
}

// Package tools implements the server-plugin tool registry (C4): the set
// of locally-defined function-call tools the LLM can invoke, keyed by
// name, with duplicate registration rejected. A descriptor's Type is
// recorded but not acted on: every handler, WAIT ones included, runs on
// the caller's goroutine; there is no worker pool.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/antoniostano/gatewayd/internal/providers"
)

// Action mirrors the outcome taxonomy a tool handler can produce.
type Action string

const (
	ActionResponse Action = "RESPONSE" // speak Result directly, end the turn
	ActionReqLLM   Action = "REQLLM"   // feed Result back to the LLM as a tool message
	ActionNotFound Action = "NOTFOUND" // no matching tool; speak Result as an error
	ActionError    Action = "ERROR"    // handler failed; speak Result as an error
	ActionNone     Action = "NONE"     // end the turn silently
)

// Result is what a tool invocation returns to the connection handler.
type Result struct {
	Action   Action
	Result   string // textual result fed back to the LLM (REQLLM) or logged
	Response string // user-facing text (RESPONSE)
}

// Type classifies how a tool call should be scheduled.
type Type string

const (
	// TypeInline runs synchronously on the caller's goroutine.
	TypeInline Type = "inline"
	// TypeWait marks a tool whose call may block. It is not offloaded:
	// the handler runs on the caller's goroutine like TypeInline.
	TypeWait Type = "wait"
	// TypeSystemCtl alters connection state (e.g. triggers a close) as a
	// side effect in addition to returning a Result.
	TypeSystemCtl Type = "system_ctl"
)

// Handler is a server-plugin tool implementation. session is passed as
// `any` to avoid an import cycle back into internal/session.
type Handler func(ctx context.Context, session any, arguments json.RawMessage) (Result, error)

// Descriptor names one registered tool: its schema (exposed to the LLM as
// a function-calling tool definition) and its Go implementation.
type Descriptor struct {
	Schema  providers.ToolSchema
	Type    Type
	Handler Handler
}

// Registry holds server-plugin tools keyed by name. Registration order
// matters only for duplicate detection: the first registration of a name
// wins and every subsequent one is rejected.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Descriptor)}
}

// Register adds a tool, failing if the name is already taken.
func (r *Registry) Register(d Descriptor) error {
	if d.Schema.Name == "" {
		return fmt.Errorf("tools: descriptor missing a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Schema.Name]; exists {
		return fmt.Errorf("tools: %q is already registered", d.Schema.Name)
	}
	r.tools[d.Schema.Name] = d
	return nil
}

// Lookup returns the descriptor for name, and whether it was found.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Schemas returns every registered tool's schema, for handing to the LLM
// as its function-calling tool list.
func (r *Registry) Schemas() []providers.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]providers.ToolSchema, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d.Schema)
	}
	return out
}

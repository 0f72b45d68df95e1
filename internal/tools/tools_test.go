package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/antoniostano/gatewayd/internal/providers"
)

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	d := Descriptor{
		Schema:  providers.ToolSchema{Name: "noop"},
		Handler: func(context.Context, any, json.RawMessage) (Result, error) { return Result{}, nil },
	}
	if err := r.Register(d); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := r.Register(d); err == nil {
		t.Fatalf("expected error registering a duplicate tool name")
	}
}

func TestLookupReturnsRegisteredDescriptor(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r, nil); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	d, ok := r.Lookup("get_time")
	if !ok {
		t.Fatalf("Lookup(get_time) not found")
	}
	res, err := d.Handler(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if res.Action != ActionReqLLM {
		t.Fatalf("get_time action = %v, want REQLLM", res.Action)
	}
	if !strings.Contains(res.Result, "Current date") {
		t.Fatalf("get_time result = %q, missing date", res.Result)
	}
}

func TestLookupUnknownToolNotFound(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("does_not_exist"); ok {
		t.Fatalf("expected Lookup to report not-found for an unregistered tool")
	}
}

func TestExitIntentInvokesOnExitAndDefaultsGoodbye(t *testing.T) {
	r := NewRegistry()
	var gotSession any
	var gotFarewell string
	onExit := func(session any, farewell string) {
		gotSession = session
		gotFarewell = farewell
	}
	if err := RegisterBuiltins(r, onExit); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	d, _ := r.Lookup("handle_exit_intent")

	res, err := d.Handler(context.Background(), "session-1", nil)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if res.Action != ActionResponse {
		t.Fatalf("action = %v, want RESPONSE", res.Action)
	}
	if gotSession != "session-1" {
		t.Fatalf("onExit session = %v, want session-1", gotSession)
	}
	if gotFarewell == "" {
		t.Fatalf("expected a default farewell when say_goodbye is omitted")
	}
	if res.Response != gotFarewell {
		t.Fatalf("response = %q, want %q", res.Response, gotFarewell)
	}
}

func TestExitIntentUsesSuppliedGoodbye(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r, func(any, string) {}); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	d, _ := r.Lookup("handle_exit_intent")

	raw, _ := json.Marshal(exitIntentArgs{SayGoodbye: "see you later"})
	res, err := d.Handler(context.Background(), nil, raw)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if res.Response != "see you later" {
		t.Fatalf("response = %q, want %q", res.Response, "see you later")
	}
}

func TestSchemasReturnsAllRegisteredTools(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r, nil); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	schemas := r.Schemas()
	if len(schemas) != 2 {
		t.Fatalf("len(Schemas()) = %d, want 2", len(schemas))
	}
}

package toolhandler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/antoniostano/gatewayd/internal/mcpdevice"
	"github.com/antoniostano/gatewayd/internal/providers"
	"github.com/antoniostano/gatewayd/internal/tools"
)

type fakeIoTSender struct {
	sent []mcpdevice.IoTCommand
	err  error
}

func (f *fakeIoTSender) SendIoTCommand(_ context.Context, cmd mcpdevice.IoTCommand) error {
	f.sent = append(f.sent, cmd)
	return f.err
}

func TestHandlePrefersRegisteredServerPluginOverEverythingElse(t *testing.T) {
	registry := tools.NewRegistry()
	if err := registry.Register(tools.Descriptor{
		Schema: providers.ToolSchema{Name: "get_time"},
		Handler: func(context.Context, any, json.RawMessage) (tools.Result, error) {
			return tools.Result{Action: tools.ActionReqLLM, Result: "it is noon"}, nil
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	h := New(registry, nil, nil, nil)
	res, err := h.Handle(context.Background(), nil, Call{Name: "get_time"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.Result != "it is noon" {
		t.Fatalf("Result = %q, want %q", res.Result, "it is noon")
	}
}

func TestHandleRoutesIoTMethodByDeviceDotMethodName(t *testing.T) {
	registry := tools.NewRegistry()
	iot := mcpdevice.NewIoTRegistry()
	iot.SetDescriptors([]mcpdevice.IoTDescriptor{
		{Name: "Speaker", Methods: map[string]mcpdevice.IoTMethodDescr{"SetVolume": {}}},
	})
	sender := &fakeIoTSender{}

	h := New(registry, nil, iot, sender)
	res, err := h.Handle(context.Background(), nil, Call{
		Name:      "Speaker.SetVolume",
		Arguments: json.RawMessage(`{"level":7}`),
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.Action != tools.ActionReqLLM {
		t.Fatalf("action = %v, want REQLLM", res.Action)
	}
	if len(sender.sent) != 1 || sender.sent[0].Name != "Speaker" || sender.sent[0].Method != "SetVolume" {
		t.Fatalf("sent commands = %+v", sender.sent)
	}
}

func TestHandleReturnsNotFoundForUnknownTool(t *testing.T) {
	h := New(tools.NewRegistry(), nil, nil, nil)
	res, err := h.Handle(context.Background(), nil, Call{Name: "does_not_exist"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.Action != tools.ActionNotFound {
		t.Fatalf("action = %v, want NOTFOUND", res.Action)
	}
}

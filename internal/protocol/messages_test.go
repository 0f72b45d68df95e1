package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientMessageHello(t *testing.T) {
	raw := []byte(`{"type":"hello","audio_params":{"format":"opus","sample_rate":16000},"features":{"mcp":true}}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	hello, ok := msg.(Hello)
	if !ok {
		t.Fatalf("message type = %T, want Hello", msg)
	}
	if hello.AudioParams.Format != "opus" || hello.AudioParams.SampleRate != 16000 {
		t.Fatalf("unexpected audio params: %+v", hello.AudioParams)
	}
	if !hello.Features.MCP {
		t.Fatalf("Features.MCP = false, want true")
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageAbort(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"abort"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if _, ok := msg.(Abort); !ok {
		t.Fatalf("message type = %T, want Abort", msg)
	}
}

func TestParseClientMessageListenStates(t *testing.T) {
	cases := []struct {
		raw   string
		state ListenState
		mode  ListenMode
	}{
		{`{"type":"listen","state":"start","mode":"auto"}`, ListenStart, ListenModeAuto},
		{`{"type":"listen","state":"stop"}`, ListenStop, ""},
		{`{"type":"listen","state":"detect","mode":"manual","text":"hey there"}`, ListenDetect, ListenModeManual},
	}

	for _, tc := range cases {
		msg, err := ParseClientMessage([]byte(tc.raw))
		if err != nil {
			t.Fatalf("ParseClientMessage(%q) error = %v", tc.raw, err)
		}
		listen, ok := msg.(Listen)
		if !ok {
			t.Fatalf("message type = %T, want Listen", msg)
		}
		if listen.State != tc.state || listen.Mode != tc.mode {
			t.Fatalf("got state=%q mode=%q, want state=%q mode=%q", listen.State, listen.Mode, tc.state, tc.mode)
		}
	}
}

func TestParseClientMessageRejectsListenWithoutState(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"listen"}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageIoT(t *testing.T) {
	raw := []byte(`{"type":"iot","descriptors":[{"name":"speaker"}],"states":[{"name":"speaker","state":{"volume":70}}]}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	iot, ok := msg.(IoTReport)
	if !ok {
		t.Fatalf("message type = %T, want IoTReport", msg)
	}
	if len(iot.Descriptors) != 1 || len(iot.States) != 1 {
		t.Fatalf("unexpected iot report: %+v", iot)
	}
}

func TestParseClientMessageMCP(t *testing.T) {
	raw := []byte(`{"type":"mcp","payload":{"jsonrpc":"2.0","id":1,"method":"tools/list"}}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	mcp, ok := msg.(MCPEnvelope)
	if !ok {
		t.Fatalf("message type = %T, want MCPEnvelope", msg)
	}
	var decoded struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(mcp.Payload, &decoded); err != nil {
		t.Fatalf("payload not valid json: %v", err)
	}
	if decoded.Method != "tools/list" {
		t.Fatalf("method = %q, want tools/list", decoded.Method)
	}
}

func TestParseClientMessageRejectsMCPWithoutPayload(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"mcp"}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageServerAction(t *testing.T) {
	raw := []byte(`{"type":"server","action":"update_config","content":{"secret":"shh"}}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	sa, ok := msg.(ServerAction)
	if !ok {
		t.Fatalf("message type = %T, want ServerAction", msg)
	}
	if sa.Action != "update_config" || sa.Content.Secret != "shh" {
		t.Fatalf("unexpected server action: %+v", sa)
	}
}

func BenchmarkParseClientMessageListen(b *testing.B) {
	raw := []byte(`{"type":"listen","state":"start","mode":"auto"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(Listen); !ok {
			b.Fatalf("message type = %T, want Listen", msg)
		}
	}
}

package dialogue

import "testing"

func TestNewDialogueStartsWithSystemMessage(t *testing.T) {
	d := New("you are a helpful speaker assistant")
	msgs := d.Messages()
	if len(msgs) != 1 || msgs[0].Role != RoleSystem {
		t.Fatalf("messages = %+v, want single system message", msgs)
	}
}

func TestPutRejectsOrphanToolMessage(t *testing.T) {
	d := New("sys")
	err := d.Put(Message{Role: RoleTool, ToolCallID: "abc", Content: "12:00"})
	if err == nil {
		t.Fatalf("expected error for tool message with no matching call")
	}
}

func TestPutAcceptsToolMessageAfterMatchingCall(t *testing.T) {
	d := New("sys")
	if err := d.Put(Message{Role: RoleUser, Content: "what time is it"}); err != nil {
		t.Fatalf("Put(user) error = %v", err)
	}
	if err := d.Put(Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "call-1", Name: "get_time", Arguments: "{}"}},
	}); err != nil {
		t.Fatalf("Put(assistant) error = %v", err)
	}
	if err := d.Put(Message{Role: RoleTool, ToolCallID: "call-1", Content: "12:00"}); err != nil {
		t.Fatalf("Put(tool) error = %v", err)
	}

	msgs := d.Messages()
	if len(msgs) != 4 {
		t.Fatalf("len(messages) = %d, want 4", len(msgs))
	}
}

func TestSetSystemPromptPreservesHistory(t *testing.T) {
	d := New("sys v1")
	if err := d.Put(Message{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	d.SetSystemPrompt("sys v2")

	msgs := d.Messages()
	if msgs[0].Content != "sys v2" {
		t.Fatalf("system message = %q, want sys v2", msgs[0].Content)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
}

func TestTrimKeepsSystemMessageAndRecentTurns(t *testing.T) {
	d := New("sys")
	for i := 0; i < 10; i++ {
		if err := d.Put(Message{Role: RoleUser, Content: "turn"}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	d.Trim(3)

	msgs := d.Messages()
	if len(msgs) != 4 {
		t.Fatalf("len(messages) = %d, want 4 (system + 3)", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Fatalf("messages[0].Role = %q, want system", msgs[0].Role)
	}
}

func TestResetClearsToSystemMessageOnly(t *testing.T) {
	d := New("sys")
	if err := d.Put(Message{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	d.Reset()
	if d.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", d.Len())
	}
}

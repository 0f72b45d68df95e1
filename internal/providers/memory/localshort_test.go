package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/antoniostano/gatewayd/internal/dialogue"
)

func TestLocalShortQueryEmptyBeforeSave(t *testing.T) {
	m := NewLocalShort()
	got, err := m.Query(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got != "" {
		t.Fatalf("Query() = %q, want empty before any Save", got)
	}
}

func TestLocalShortSaveFoldsRecentTurnsIntoSummary(t *testing.T) {
	d := dialogue.New("you are a helpful speaker assistant")
	for _, msg := range []dialogue.Message{
		{Role: dialogue.RoleUser, Content: "what time is it"},
		{Role: dialogue.RoleAssistant, Content: "it is three o'clock"},
		{Role: dialogue.RoleUser, Content: "thanks"},
	} {
		if err := d.Put(msg); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	m := NewLocalShort()
	if err := m.Save(context.Background(), "user-1", d); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := m.Query(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got == "" {
		t.Fatalf("Query() returned empty summary after Save")
	}
	for _, want := range []string{"what time is it", "it is three o'clock", "thanks"} {
		if !strings.Contains(got, want) {
			t.Fatalf("summary %q missing turn %q", got, want)
		}
	}
}

func TestLocalShortSaveKeepsOnlyMostRecentTurns(t *testing.T) {
	d := dialogue.New("system prompt")
	for i := 0; i < 20; i++ {
		if err := d.Put(dialogue.Message{Role: dialogue.RoleUser, Content: "turn"}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	m := NewLocalShort()
	if err := m.Save(context.Background(), "user-1", d); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, _ := m.Query(context.Background(), "user-1", "")
	if strings.Contains(got, "system prompt") {
		t.Fatalf("summary unexpectedly includes the system message: %q", got)
	}
}

func TestLocalShortScopesSummariesPerUser(t *testing.T) {
	m := NewLocalShort()

	d1 := dialogue.New("sys")
	_ = d1.Put(dialogue.Message{Role: dialogue.RoleUser, Content: "alice message"})
	if err := m.Save(context.Background(), "alice", d1); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, _ := m.Query(context.Background(), "bob", "")
	if got != "" {
		t.Fatalf("Query(bob) = %q, want empty since only alice has been saved", got)
	}
}

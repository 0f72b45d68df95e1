package memory

import (
	"context"
	"os"
	"testing"

	"github.com/antoniostano/gatewayd/internal/dialogue"
)

// TestRemoteSaveAndQuery exercises Remote against a live Postgres instance.
// It is skipped unless MEMORY_TEST_DATABASE_URL is set, since no database is
// available in this build/test environment.
func TestRemoteSaveAndQuery(t *testing.T) {
	url := os.Getenv("MEMORY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MEMORY_TEST_DATABASE_URL not set; skipping Postgres-backed memory test")
	}

	ctx := context.Background()
	r, err := NewRemote(ctx, url)
	if err != nil {
		t.Fatalf("NewRemote() error = %v", err)
	}
	defer r.Close()

	d := dialogue.New("sys")
	_ = d.Put(dialogue.Message{Role: dialogue.RoleUser, Content: "turn on the kitchen light"})
	_ = d.Put(dialogue.Message{Role: dialogue.RoleAssistant, Content: "done"})

	if err := r.Save(ctx, "remote-test-user", d); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := r.Query(ctx, "remote-test-user", "")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got == "" {
		t.Fatalf("Query() returned empty result after Save")
	}
}

package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/chatkeep/chatkeep/internal/history"
)

// brokenStore fails every read; only List is implemented.
type brokenStore struct {
	history.Store
}

func (brokenStore) List(ctx context.Context, sessionID string) ([]history.Turn, error) {
	return nil, errors.New("backend unavailable")
}

func TestAssemble_DurableHistoryWins(t *testing.T) {
	store := history.NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Append(ctx, "s1", history.RoleUser, "stored question"); err != nil {
		t.Fatalf("seed append: %v", err)
	}
	if _, err := store.Append(ctx, "s1", history.RoleAssistant, "stored answer"); err != nil {
		t.Fatalf("seed append: %v", err)
	}

	hint := []history.Turn{{Role: history.RoleUser, Content: "stale client copy"}}

	a := NewAssembler(store, "You are a bot.")
	result := a.Assemble(ctx, "s1", hint, "new question")

	if len(result) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(result))
	}
	if result[0].Role != "system" || result[0].Content != "You are a bot." {
		t.Errorf("unexpected system message: %+v", result[0])
	}
	if result[1].Content != "stored question" || result[2].Content != "stored answer" {
		t.Errorf("expected durable history, got %+v and %+v", result[1], result[2])
	}
	if result[3].Role != "user" || result[3].Content != "new question" {
		t.Errorf("unexpected final message: %+v", result[3])
	}
}

func TestAssemble_EmptyStoreFallsBackToHint(t *testing.T) {
	a := NewAssembler(history.NewMemoryStore(), "")
	hint := []history.Turn{
		{Role: history.RoleUser, Content: "prev question"},
		{Role: history.RoleAssistant, Content: "prev answer"},
	}

	result := a.Assemble(context.Background(), "fresh", hint, "hello")

	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}
	if result[0].Role != "user" || result[0].Content != "prev question" {
		t.Errorf("unexpected hint[0]: %+v", result[0])
	}
	if result[1].Role != "assistant" || result[1].Content != "prev answer" {
		t.Errorf("unexpected hint[1]: %+v", result[1])
	}
	if result[2].Role != "user" || result[2].Content != "hello" {
		t.Errorf("unexpected user message: %+v", result[2])
	}
}

func TestAssemble_StoreErrorFallsBackToHint(t *testing.T) {
	a := NewAssembler(brokenStore{}, "")
	hint := []history.Turn{{Role: history.RoleAssistant, Content: "from the client"}}

	result := a.Assemble(context.Background(), "s1", hint, "hello")

	if len(result) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result))
	}
	if result[0].Role != "assistant" || result[0].Content != "from the client" {
		t.Errorf("unexpected hint message: %+v", result[0])
	}
	if result[1].Content != "hello" {
		t.Errorf("unexpected user message: %+v", result[1])
	}
}

func TestAssemble_NoHistoryNoHint(t *testing.T) {
	a := NewAssembler(history.NewMemoryStore(), "system prompt")

	result := a.Assemble(context.Background(), "brand-new", nil, "first words")

	if len(result) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result))
	}
	if result[0].Role != "system" {
		t.Errorf("expected system role, got %q", result[0].Role)
	}
	if result[1].Role != "user" || result[1].Content != "first words" {
		t.Errorf("unexpected user message: %+v", result[1])
	}
}

func TestAssemble_WithoutSystemPrompt(t *testing.T) {
	a := NewAssembler(history.NewMemoryStore(), "")

	result := a.Assemble(context.Background(), "s1", nil, "hi")

	if len(result) != 1 {
		t.Fatalf("expected 1 message, got %d", len(result))
	}
	if result[0].Role != "user" || result[0].Content != "hi" {
		t.Errorf("unexpected message: %+v", result[0])
	}
}

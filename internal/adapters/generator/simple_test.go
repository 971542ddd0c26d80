package generator

import (
	"context"
	"strings"
	"testing"
)

func TestSimpleGenerateDraft(t *testing.T) {
	gen := NewSimple()
	draft, err := gen.GenerateDraft(context.Background(), "https://www.example.com/article")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(draft.Content, "example.com") {
		t.Fatalf("content should reference the source host: %q", draft.Content)
	}
	if len(draft.Variations) == 0 {
		t.Fatal("expected at least one variation")
	}
}

func TestSimpleRewriteKeepsContentWithoutInstruction(t *testing.T) {
	gen := NewSimple()
	out, err := gen.RewriteContent(context.Background(), "original", "  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "original" {
		t.Fatalf("expected unchanged content, got %q", out)
	}
}

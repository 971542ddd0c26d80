package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageRespectsBudget(t *testing.T) {
	var builder strings.Builder
	builder.WriteString(strings.Repeat("a", 1500))
	builder.WriteString("\n\n")
	builder.WriteString(strings.Repeat("b", 1000))
	builder.WriteString("\n")
	builder.WriteString(strings.Repeat("c", 300))

	parts := SplitMessage(builder.String(), 2000)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}

	for i, part := range parts {
		if length := len([]rune(part)); length > 2000 {
			t.Fatalf("part %d exceeds budget: %d", i, length)
		}
	}

	if parts[0] != strings.Repeat("a", 1500) {
		t.Fatalf("unexpected content in first part")
	}

	if parts[1][0] != 'b' {
		t.Fatalf("unexpected prefix for second part: %q", parts[1][0])
	}

	if !strings.HasSuffix(parts[1], strings.Repeat("c", 300)) {
		t.Fatalf("second part should contain trailing block of 'c'")
	}
}

func TestSplitMessageShortText(t *testing.T) {
	text := "hello world"
	parts := SplitMessage(text, 2000)
	if len(parts) != 1 {
		t.Fatalf("expected single part, got %d", len(parts))
	}
	if parts[0] != text {
		t.Fatalf("unexpected text: %q", parts[0])
	}
}

func TestSplitMessageEmpty(t *testing.T) {
	parts := SplitMessage("   \n  ", 2000)
	if len(parts) != 0 {
		t.Fatalf("expected no parts for empty input, got %d", len(parts))
	}
}

func TestSplitMessageZeroBudgetFallsBack(t *testing.T) {
	parts := SplitMessage(strings.Repeat("x", DefaultBudget+1), 0)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts with the default budget, got %d", len(parts))
	}
}

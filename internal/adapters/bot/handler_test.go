package bot

import (
	"strings"
	"testing"

	"post-planner-bot/internal/domain"
)

func TestParsePostID(t *testing.T) {
	id, err := parsePostID([]string{"42"}, "usage")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected 42, got %d", id)
	}

	if _, err := parsePostID([]string{"#7"}, "usage"); err != nil {
		t.Fatalf("hash prefix should be accepted: %v", err)
	}

	for _, args := range [][]string{nil, {"abc"}, {"0"}, {"-3"}} {
		if _, err := parsePostID(args, "usage"); !domain.IsValidation(err) {
			t.Fatalf("expected a validation error for %v, got %v", args, err)
		}
	}
}

func TestBuildHelpMessage(t *testing.T) {
	h := &Handler{}

	full := h.buildHelpMessage(nil)
	for name := range usage {
		if !strings.Contains(full, "/"+name) {
			t.Fatalf("help is missing /%s", name)
		}
	}

	one := h.buildHelpMessage([]string{"schedule_post"})
	if one != usage["schedule_post"] {
		t.Fatalf("unexpected per-command help: %q", one)
	}

	unknown := h.buildHelpMessage([]string{"frobnicate"})
	if !strings.Contains(unknown, "Unknown command") {
		t.Fatalf("unexpected reply for unknown command: %q", unknown)
	}
}

func TestFirstLineTruncates(t *testing.T) {
	if got := firstLine("one\ntwo"); got != "one" {
		t.Fatalf("expected first line only, got %q", got)
	}
	long := strings.Repeat("x", 200)
	got := firstLine(long)
	if len([]rune(got)) != 81 {
		t.Fatalf("expected 80 runes plus ellipsis, got %d", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis suffix: %q", got)
	}
}

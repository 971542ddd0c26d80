package generator

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"post-planner-bot/internal/domain"
)

// Simple is a deterministic generator used when no model is configured
// and in tests. It builds a stub draft from the URL itself.
type Simple struct{}

var _ domain.DraftGenerator = (*Simple)(nil)

// NewSimple creates the generator.
func NewSimple() *Simple { return &Simple{} }

// GenerateDraft builds a placeholder draft referencing the source URL.
func (s *Simple) GenerateDraft(ctx context.Context, sourceURL string) (domain.GeneratedDraft, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return domain.GeneratedDraft{}, fmt.Errorf("parse source url: %w", err)
	}
	title := strings.TrimPrefix(parsed.Host, "www.")
	content := fmt.Sprintf("New from %s: %s", title, sourceURL)
	return domain.GeneratedDraft{
		Content: content,
		Variations: []domain.GeneratedVariation{
			{VariationType: "short", Content: fmt.Sprintf("Check this out: %s", sourceURL)},
		},
	}, nil
}

// RewriteContent appends the instruction as an editorial note.
func (s *Simple) RewriteContent(ctx context.Context, current, instruction string) (string, error) {
	if strings.TrimSpace(instruction) == "" {
		return current, nil
	}
	return fmt.Sprintf("%s\n\n[edited: %s]", current, instruction), nil
}

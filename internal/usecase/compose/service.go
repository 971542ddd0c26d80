package compose

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"post-planner-bot/internal/domain"
)

// Service turns a source URL into a persisted draft post with its
// initial content variations and image options. Content generation
// itself is delegated to an external generator.
type Service struct {
	posts     domain.PostRepo
	generator domain.DraftGenerator
	log       zerolog.Logger

	defaultPlatforms []string
	defaultTimezone  string
}

// NewService creates the compose service.
func NewService(posts domain.PostRepo, generator domain.DraftGenerator, log zerolog.Logger, defaultPlatforms []string, defaultTimezone string) *Service {
	return &Service{
		posts:            posts,
		generator:        generator,
		log:              log,
		defaultPlatforms: defaultPlatforms,
		defaultTimezone:  defaultTimezone,
	}
}

// ComposeFromURL generates a draft for the source URL and stores the
// post together with its variations and image options in one write.
func (s *Service) ComposeFromURL(ctx context.Context, sourceURL string, interactionID *int64) (domain.Post, error) {
	parsed, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return domain.Post{}, domain.NewValidationError("%q is not a valid http(s) URL", sourceURL)
	}

	draft, err := s.generator.GenerateDraft(ctx, parsed.String())
	if err != nil {
		return domain.Post{}, fmt.Errorf("generate draft: %w", err)
	}
	if strings.TrimSpace(draft.Content) == "" {
		return domain.Post{}, fmt.Errorf("generator returned empty content for %s", parsed.String())
	}

	post := domain.Post{
		Content:                  draft.Content,
		OriginalContent:          draft.Content,
		Platforms:                append([]string(nil), s.defaultPlatforms...),
		State:                    domain.StateDraft,
		Timezone:                 s.defaultTimezone,
		CreatedByCommand:         true,
		OriginatingInteractionID: interactionID,
	}

	variations := make([]domain.ContentVariation, 0, len(draft.Variations))
	for i, v := range draft.Variations {
		variations = append(variations, domain.ContentVariation{
			VariationType: v.VariationType,
			Content:       v.Content,
			IsSelected:    i == 0,
		})
	}
	images := make([]domain.ImageOption, 0, len(draft.Images))
	for i, img := range draft.Images {
		images = append(images, domain.ImageOption{
			OptionIndex: i,
			URL:         img.URL,
			Caption:     img.Caption,
			MimeType:    img.MimeType,
			IsSelected:  i == 0,
		})
	}

	created, err := s.posts.CreatePost(ctx, post, variations, images)
	if err != nil {
		return domain.Post{}, fmt.Errorf("store draft: %w", err)
	}
	s.log.Info().Int64("post", created.ID).Str("source", parsed.String()).Msg("compose: draft created")
	return created, nil
}

// Rewrite asks the generator for a new rendering of the post content
// following the reviewer's instruction.
func (s *Service) Rewrite(ctx context.Context, post domain.Post, instruction string) (string, error) {
	if strings.TrimSpace(instruction) == "" {
		return "", domain.NewValidationError("tell me how you want the post reworded")
	}
	content, err := s.generator.RewriteContent(ctx, post.Content, instruction)
	if err != nil {
		return "", fmt.Errorf("rewrite content: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("generator returned empty rewrite")
	}
	return content, nil
}

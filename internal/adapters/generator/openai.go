package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"post-planner-bot/internal/domain"
	"post-planner-bot/internal/infra/openai"
)

const draftSystemPrompt = `You write social media posts from a source article URL.
Reply with a JSON object:
{
  "content": "the main post text",
  "variations": [{"variation_type": "short", "content": "..."}, {"variation_type": "long", "content": "..."}],
  "images": [{"url": "https://...", "caption": "...", "mime_type": "image/png"}]
}
Keep the main text under 900 characters. Variations are optional, images are optional.`

const rewriteSystemPrompt = `You edit a social media post following the reviewer's instruction.
Reply with the new post text only, no preamble and no quotes.`

// OpenAI generates and rewrites drafts through Chat Completions.
type OpenAI struct {
	client *openai.Client
	model  string
}

var _ domain.DraftGenerator = (*OpenAI)(nil)

// NewOpenAI creates the generator.
func NewOpenAI(client *openai.Client, model string) *OpenAI {
	return &OpenAI{client: client, model: model}
}

type draftPayload struct {
	Content    string `json:"content"`
	Variations []struct {
		VariationType string `json:"variation_type"`
		Content       string `json:"content"`
	} `json:"variations"`
	Images []struct {
		URL      string `json:"url"`
		Caption  string `json:"caption"`
		MimeType string `json:"mime_type"`
	} `json:"images"`
}

// GenerateDraft produces a draft for the source URL.
func (o *OpenAI) GenerateDraft(ctx context.Context, sourceURL string) (domain.GeneratedDraft, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.7,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: draftSystemPrompt},
			{Role: openai.RoleUser, Content: "Source: " + sourceURL},
		},
	})
	if err != nil {
		return domain.GeneratedDraft{}, fmt.Errorf("generate draft: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.GeneratedDraft{}, fmt.Errorf("generate draft: empty completion")
	}
	var payload draftPayload
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &payload); err != nil {
		return domain.GeneratedDraft{}, fmt.Errorf("generate draft: decode completion: %w", err)
	}
	if strings.TrimSpace(payload.Content) == "" {
		return domain.GeneratedDraft{}, fmt.Errorf("generate draft: completion has no content")
	}

	draft := domain.GeneratedDraft{Content: strings.TrimSpace(payload.Content)}
	for _, v := range payload.Variations {
		if strings.TrimSpace(v.Content) == "" {
			continue
		}
		draft.Variations = append(draft.Variations, domain.GeneratedVariation{
			VariationType: v.VariationType,
			Content:       v.Content,
		})
	}
	for _, img := range payload.Images {
		if img.URL == "" {
			continue
		}
		draft.Images = append(draft.Images, domain.GeneratedImage{
			URL:      img.URL,
			Caption:  img.Caption,
			MimeType: img.MimeType,
		})
	}
	return draft, nil
}

// RewriteContent rewrites the current text following the instruction.
func (o *OpenAI) RewriteContent(ctx context.Context, current, instruction string) (string, error) {
	user := fmt.Sprintf("Current post:\n%s\n\nInstruction:\n%s", current, instruction)
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.7,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: rewriteSystemPrompt},
			{Role: openai.RoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("rewrite content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("rewrite content: empty completion")
	}
	rewritten := strings.TrimSpace(resp.Choices[0].Message.Content)
	if rewritten == "" {
		return "", fmt.Errorf("rewrite content: completion is empty")
	}
	return rewritten, nil
}

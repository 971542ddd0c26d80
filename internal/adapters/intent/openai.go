package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"post-planner-bot/internal/domain"
	"post-planner-bot/internal/infra/openai"
)

const classifySystemPrompt = `You classify a human reviewer's reply about a draft social media post.
Answer with exactly one token and nothing else:
rewrite_post - the reviewer wants the text changed
update_date - the reviewer wants a different publish time or priority
unknown_response - anything else`

const extractSystemPrompt = `Extract scheduling information from the reviewer's message.
Reply with a JSON object with exactly one of two keys:
{"priority": "P1"} when the reviewer names a priority bucket, or
{"date": "2026-01-15 09:00"} when the reviewer names an explicit time (format YYYY-MM-DD HH:MM).
Copy the reviewer's values verbatim, do not normalize or invent them.`

// OpenAI classifies reviewer messages through Chat Completions. The
// raw model token goes back to the caller unvalidated; coercion to the
// closed intent set happens in the response router.
type OpenAI struct {
	client *openai.Client
	model  string
}

var _ domain.IntentClassifier = (*OpenAI)(nil)

// NewOpenAI creates the classifier.
func NewOpenAI(client *openai.Client, model string) *OpenAI {
	return &OpenAI{client: client, model: model}
}

// ClassifyIntent returns the raw intent token for the message.
func (o *OpenAI) ClassifyIntent(ctx context.Context, post domain.Post, message string) (string, error) {
	user := fmt.Sprintf("Post under review:\n%s\n\nReviewer message:\n%s", post.Content, message)
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		MaxTokens:   8,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: classifySystemPrompt},
			{Role: openai.RoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("classify intent: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("classify intent: empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

type scheduleExtraction struct {
	Priority string `json:"priority"`
	Date     string `json:"date"`
}

// ExtractSchedule pulls the raw priority or date value from the message.
func (o *OpenAI) ExtractSchedule(ctx context.Context, message string) (domain.ScheduleHint, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: extractSystemPrompt},
			{Role: openai.RoleUser, Content: message},
		},
	})
	if err != nil {
		return domain.ScheduleHint{}, fmt.Errorf("extract schedule: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.ScheduleHint{}, fmt.Errorf("extract schedule: empty completion")
	}
	var extracted scheduleExtraction
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &extracted); err != nil {
		return domain.ScheduleHint{}, fmt.Errorf("extract schedule: decode completion: %w", err)
	}
	return domain.ScheduleHint{
		Priority: strings.TrimSpace(extracted.Priority),
		Date:     strings.TrimSpace(extracted.Date),
	}, nil
}

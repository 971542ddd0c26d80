package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"post-planner-bot/internal/domain"
	"post-planner-bot/internal/infra/metrics"
)

// Webhook publishes posts to a platform bridge over a plain HTTP
// endpoint. The response contract is fixed here at the boundary, so
// bridge-specific shapes never leak into the core.
type Webhook struct {
	name     string
	endpoint string
	token    string
	client   *http.Client
}

var _ domain.PlatformAdapter = (*Webhook)(nil)

// NewWebhook creates the adapter.
func NewWebhook(name, endpoint, token string) *Webhook {
	return &Webhook{
		name:     name,
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements domain.PlatformAdapter.
func (w *Webhook) Name() string { return w.name }

type webhookRequest struct {
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
}

type webhookResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// Publish posts the content to the bridge endpoint.
func (w *Webhook) Publish(ctx context.Context, post domain.Post) (domain.PublishResult, error) {
	body, err := json.Marshal(webhookRequest{Content: post.Content})
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	start := time.Now()
	resp, err := w.client.Do(req)
	metrics.ObserveNetworkRequest("platform_webhook", "publish", w.name, start, err)
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("read response: %w", err)
	}
	var decoded webhookResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return domain.PublishResult{}, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || decoded.Error != "" {
		msg := decoded.Error
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		return domain.PublishResult{}, fmt.Errorf("bridge rejected post: %s", msg)
	}
	return domain.PublishResult{Success: true, PlatformPostID: decoded.ID}, nil
}

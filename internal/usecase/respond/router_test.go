package respond

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"post-planner-bot/internal/domain"
)

type stubClassifier struct {
	intent     string
	intentErr  error
	hint       domain.ScheduleHint
	extractErr error
}

func (c *stubClassifier) ClassifyIntent(_ context.Context, _ domain.Post, _ string) (string, error) {
	return c.intent, c.intentErr
}

func (c *stubClassifier) ExtractSchedule(_ context.Context, _ string) (domain.ScheduleHint, error) {
	return c.hint, c.extractErr
}

func testRouter(classifier *stubClassifier) *Router {
	return NewRouter(classifier, zerolog.Nop(), Config{
		DeniedMimeTypes: []string{"image/svg+xml", "application/postscript", "application/pdf"},
		RefZone:         time.UTC,
	})
}

func TestRouteRewordRequest(t *testing.T) {
	r := testRouter(&stubClassifier{intent: "rewrite_post"})
	res, err := r.Route(context.Background(), domain.Post{ID: 1}, "Can we reword the second paragraph?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != domain.IntentRewritePost {
		t.Fatalf("expected rewrite_post, got %s", res.Intent)
	}
}

func TestRouteFutureExplicitDate(t *testing.T) {
	future := time.Now().AddDate(0, 1, 0).Format("2006-01-02 15:04")
	r := testRouter(&stubClassifier{intent: "update_date", hint: domain.ScheduleHint{Date: future}})
	res, err := r.Route(context.Background(), domain.Post{ID: 1}, "Schedule this for next Tuesday at 3pm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != domain.IntentUpdateDate {
		t.Fatalf("expected update_date, got %s", res.Intent)
	}
	if res.At == nil || !res.At.After(time.Now()) {
		t.Fatalf("expected a future instant, got %v", res.At)
	}
}

func TestRoutePriorityToken(t *testing.T) {
	r := testRouter(&stubClassifier{intent: "update_date", hint: domain.ScheduleHint{Priority: "p1"}})
	res, err := r.Route(context.Background(), domain.Post{ID: 1}, "Make this top priority")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != domain.IntentUpdateDate || res.Priority != domain.PriorityP1 {
		t.Fatalf("expected update_date with P1, got %s %s", res.Intent, res.Priority)
	}
}

func TestRouteInvalidPriorityIsUnknown(t *testing.T) {
	r := testRouter(&stubClassifier{intent: "update_date", hint: domain.ScheduleHint{Priority: "P0"}})
	res, err := r.Route(context.Background(), domain.Post{ID: 1}, "This should be a P0 priority.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != domain.IntentUnknownResponse {
		t.Fatalf("P0 must coerce to unknown_response, got %s", res.Intent)
	}
}

func TestRoutePastDateIsUnknown(t *testing.T) {
	r := testRouter(&stubClassifier{intent: "update_date", hint: domain.ScheduleHint{Date: "2001-01-01 09:00"}})
	res, err := r.Route(context.Background(), domain.Post{ID: 1}, "set it to 2001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != domain.IntentUnknownResponse {
		t.Fatalf("past date must coerce to unknown_response, got %s", res.Intent)
	}
}

func TestRouteGarbageTokenCoerced(t *testing.T) {
	r := testRouter(&stubClassifier{intent: "delete_everything"})
	res, err := r.Route(context.Background(), domain.Post{ID: 1}, "whatever")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != domain.IntentUnknownResponse {
		t.Fatalf("out-of-set token must coerce to unknown_response, got %s", res.Intent)
	}
	if res.Message == "" {
		t.Fatal("unknown_response must carry an explanation")
	}
}

func TestRouteClassifierFailureIsUnknown(t *testing.T) {
	r := testRouter(&stubClassifier{intentErr: errors.New("model timeout")})
	res, err := r.Route(context.Background(), domain.Post{ID: 1}, "anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != domain.IntentUnknownResponse {
		t.Fatalf("classifier failure must yield unknown_response, got %s", res.Intent)
	}
}

func TestRouteDeniedMimeType(t *testing.T) {
	r := testRouter(&stubClassifier{intent: "rewrite_post"})
	res, err := r.Route(context.Background(), domain.Post{ID: 1}, "Set image to scan.svg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != domain.IntentUnknownResponse {
		t.Fatalf("svg must be rejected, got %s", res.Intent)
	}
	if res.Message == genericUnknown {
		t.Fatal("MIME rejection needs its own message, not the generic one")
	}
	if !strings.Contains(res.Message, "svg") {
		t.Fatalf("message should name the format: %q", res.Message)
	}
}

func TestRouteAllowedImageFormatPasses(t *testing.T) {
	r := testRouter(&stubClassifier{intent: "rewrite_post"})
	res, err := r.Route(context.Background(), domain.Post{ID: 1}, "Use photo.png as the image")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != domain.IntentRewritePost {
		t.Fatalf("png must not be blocked, got %s", res.Intent)
	}
}

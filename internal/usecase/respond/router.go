package respond

import (
	"context"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"post-planner-bot/internal/domain"
	"post-planner-bot/internal/usecase/slots"
)

// Router classifies free-form review messages into validated actions.
// The classifier is an external model; nothing it returns is acted on
// without passing the validation below. The fail-safe default is
// unknown_response; the router never guesses a destructive action.
type Router struct {
	classifier domain.IntentClassifier
	log        zerolog.Logger

	dateFormat string
	deniedMime map[string]struct{}
	refZone    *time.Location
}

// Config tunes validation.
type Config struct {
	DateFormat string
	// DeniedMimeTypes lists MIME types image edits must not target.
	DeniedMimeTypes []string
	RefZone         *time.Location
}

// NewRouter creates the router.
func NewRouter(classifier domain.IntentClassifier, log zerolog.Logger, cfg Config) *Router {
	if cfg.DateFormat == "" {
		cfg.DateFormat = "2006-01-02 15:04"
	}
	if cfg.RefZone == nil {
		cfg.RefZone = time.UTC
	}
	denied := make(map[string]struct{}, len(cfg.DeniedMimeTypes))
	for _, m := range cfg.DeniedMimeTypes {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			denied[m] = struct{}{}
		}
	}
	return &Router{
		classifier: classifier,
		log:        log,
		dateFormat: cfg.DateFormat,
		deniedMime: denied,
		refZone:    cfg.RefZone,
	}
}

// Result is the validated outcome of routing one message.
type Result struct {
	Intent   domain.ResponseIntent
	Priority domain.Priority
	At       *time.Time
	// Message explains an unknown_response outcome to the user.
	Message string
}

const genericUnknown = "I could not work out what to do with that. You can ask to reword the post or give a new publish date (for example \"2026-09-05 09:30\" or P1/P2/P3)."

// Route classifies the message and validates the extraction.
func (r *Router) Route(ctx context.Context, post domain.Post, message string) (Result, error) {
	if msg, blocked := r.checkImageRequest(message); blocked {
		return Result{Intent: domain.IntentUnknownResponse, Message: msg}, nil
	}

	raw, err := r.classifier.ClassifyIntent(ctx, post, message)
	if err != nil {
		r.log.Error().Err(err).Int64("post", post.ID).Msg("respond: classification failed")
		return Result{Intent: domain.IntentUnknownResponse, Message: genericUnknown}, nil
	}
	intent := coerceIntent(raw)

	switch intent {
	case domain.IntentRewritePost:
		return Result{Intent: domain.IntentRewritePost}, nil
	case domain.IntentUpdateDate:
		return r.routeUpdateDate(ctx, post, message)
	default:
		return Result{Intent: domain.IntentUnknownResponse, Message: genericUnknown}, nil
	}
}

func (r *Router) routeUpdateDate(ctx context.Context, post domain.Post, message string) (Result, error) {
	hint, err := r.classifier.ExtractSchedule(ctx, message)
	if err != nil {
		r.log.Error().Err(err).Int64("post", post.ID).Msg("respond: schedule extraction failed")
		return Result{Intent: domain.IntentUnknownResponse, Message: genericUnknown}, nil
	}

	if hint.Priority != "" {
		priority, ok := domain.ParsePriority(hint.Priority)
		if !ok {
			return Result{Intent: domain.IntentUnknownResponse, Message: genericUnknown}, nil
		}
		return Result{Intent: domain.IntentUpdateDate, Priority: priority}, nil
	}

	if hint.Date != "" {
		at, err := slots.ResolveExplicit(time.Now(), r.dateFormat, hint.Date, r.refZone)
		if err != nil {
			// Malformed or past date: reject rather than apply an
			// invalid schedule.
			return Result{Intent: domain.IntentUnknownResponse, Message: genericUnknown}, nil
		}
		return Result{Intent: domain.IntentUpdateDate, At: &at}, nil
	}

	return Result{Intent: domain.IntentUnknownResponse, Message: genericUnknown}, nil
}

// coerceIntent maps the raw model token onto the closed intent set.
// Anything outside the set becomes unknown_response.
func coerceIntent(raw string) domain.ResponseIntent {
	switch domain.ResponseIntent(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.IntentRewritePost:
		return domain.IntentRewritePost
	case domain.IntentUpdateDate:
		return domain.IntentUpdateDate
	default:
		return domain.IntentUnknownResponse
	}
}

var imageRequestRe = regexp.MustCompile(`(?i)\b(image|picture|photo|graphic)\b`)
var filenameRe = regexp.MustCompile(`\b[\w@-]+\.[A-Za-z]{2,5}\b`)

// checkImageRequest rejects image-edit requests naming a file whose
// MIME type is on the denylist. The message is distinct from the
// generic one so the user learns why.
func (r *Router) checkImageRequest(message string) (string, bool) {
	if len(r.deniedMime) == 0 {
		return "", false
	}
	if !imageRequestRe.MatchString(message) && !filenameRe.MatchString(message) {
		return "", false
	}
	for _, name := range filenameRe.FindAllString(message, -1) {
		ext := strings.ToLower(filepath.Ext(name))
		if ext == "" {
			continue
		}
		mimeType := mime.TypeByExtension(ext)
		if mimeType == "" {
			mimeType = fallbackMime[ext]
		}
		if mimeType == "" {
			continue
		}
		if base, _, err := mime.ParseMediaType(mimeType); err == nil {
			mimeType = base
		}
		if _, denied := r.deniedMime[strings.ToLower(mimeType)]; denied {
			return "That image format (" + mimeType + ") is not supported for posts. Please use a raster format such as PNG or JPEG.", true
		}
	}
	return "", false
}

// fallbackMime covers extensions the platform mime table may miss.
var fallbackMime = map[string]string{
	".svg": "image/svg+xml",
	".eps": "application/postscript",
	".ai":  "application/postscript",
	".pdf": "application/pdf",
}

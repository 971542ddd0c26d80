package domain

import (
	"context"
	"time"
)

// PostRepo manages posts and their variations and image options.
type PostRepo interface {
	// CreatePost atomically stores a post with its initial content
	// variations and image options.
	CreatePost(ctx context.Context, post Post, variations []ContentVariation, images []ImageOption) (Post, error)
	GetPost(ctx context.Context, id int64) (Post, error)
	// UpdateState moves a post between workflow states. The update is
	// guarded by the expected current state; a concurrent change makes
	// it return ErrPostNotFound semantics via the stale flag.
	UpdateState(ctx context.Context, id int64, from, to WorkflowState, upd StateUpdate) (Post, error)
	UpdateContent(ctx context.Context, id int64, content string) (Post, error)
	ListByState(ctx context.Context, states []WorkflowState, limit int) ([]Post, error)
	ListScheduled(ctx context.Context) ([]Post, error)
	ListVariations(ctx context.Context, postID int64) ([]ContentVariation, error)
	// SelectVariation flips selection so that exactly the named
	// variation is selected afterwards.
	SelectVariation(ctx context.Context, postID int64, variationType string) (ContentVariation, error)
	ListImageOptions(ctx context.Context, postID int64) ([]ImageOption, error)
	SelectImageOption(ctx context.Context, postID int64, optionIndex int) (ImageOption, error)
}

// StateUpdate carries the optional field changes applied together with
// a state transition.
type StateUpdate struct {
	SetSchedule   bool
	ScheduledAt   *time.Time
	Priority      Priority
	SetRunHandle  bool
	RunHandle     string
	ClearSchedule bool
	SetResults    bool
	Results       []PublishResult
}

// InteractionRepo appends audit records of command exchanges.
type InteractionRepo interface {
	CreateInteraction(ctx context.Context, it Interaction) (Interaction, error)
	ListRecentInteractions(ctx context.Context, limit int) ([]Interaction, error)
}

// RunStatus is the dispatcher-reported state of a deferred run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// DeferredRun describes one pending unit of deferred work.
type DeferredRun struct {
	Handle string
	FireAt time.Time
	Job    PublishJob
}

// RunDispatcher is the deferred-execution substrate. Submit is
// at-least-once; Cancel is idempotent (cancelling an already-fired or
// already-cancelled run returns false, nil).
type RunDispatcher interface {
	Submit(ctx context.Context, delay time.Duration, job PublishJob) (string, error)
	Cancel(ctx context.Context, handle string) (bool, error)
	Status(ctx context.Context, handle string) (RunStatus, error)
	// ListPending reflects only runs still pending; fired and cancelled
	// runs are excluded.
	ListPending(ctx context.Context) ([]DeferredRun, error)
}

// PlatformAdapter publishes a post to one social platform.
type PlatformAdapter interface {
	Name() string
	Publish(ctx context.Context, post Post) (PublishResult, error)
}

// PlatformDirectory resolves adapters by platform identifier.
type PlatformDirectory interface {
	Adapter(name string) (PlatformAdapter, bool)
	Names() []string
}

// Locker serializes a critical section across processes. Used to make
// slot allocation plus run submission atomic per priority bucket.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// ResponseIntent classifies a free-form human review message.
type ResponseIntent string

const (
	IntentRewritePost     ResponseIntent = "rewrite_post"
	IntentUpdateDate      ResponseIntent = "update_date"
	IntentUnknownResponse ResponseIntent = "unknown_response"
)

// ScheduleHint is the raw extraction result for an update_date message.
// Exactly one of Priority or Date is expected to be set; the router
// validates before anything acts on it.
type ScheduleHint struct {
	Priority string
	Date     string
}

// IntentClassifier delegates intent detection to an external model.
// Its output is never trusted without validation.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, post Post, message string) (string, error)
	ExtractSchedule(ctx context.Context, message string) (ScheduleHint, error)
}

// GeneratedDraft is the external generator's proposal for a new post.
type GeneratedDraft struct {
	Content    string
	Variations []GeneratedVariation
	Images     []GeneratedImage
}

// GeneratedVariation is one alternative text rendering.
type GeneratedVariation struct {
	VariationType string
	Content       string
}

// GeneratedImage is one candidate image.
type GeneratedImage struct {
	URL      string
	Caption  string
	MimeType string
}

// DraftGenerator produces and rewrites post content. Content quality is
// outside this system's responsibility.
type DraftGenerator interface {
	GenerateDraft(ctx context.Context, sourceURL string) (GeneratedDraft, error)
	RewriteContent(ctx context.Context, current, instruction string) (string, error)
}

// Cache is a small TTL key/value store used for chat review pins.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
}

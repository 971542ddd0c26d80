package domain

import "time"

// WorkflowState is the closed set of lifecycle states a post moves through.
type WorkflowState string

const (
	// StateDraft is the initial state of a freshly generated post.
	StateDraft WorkflowState = "draft"
	// StatePendingReview means the post waits for a human decision.
	StatePendingReview WorkflowState = "pending_review"
	// StateScheduled means the post has a resolved publish time and a live deferred run.
	StateScheduled WorkflowState = "scheduled"
	// StatePublished means at least one platform accepted the post.
	StatePublished WorkflowState = "published"
	// StateFailed means publishing failed on every platform or the system gave up.
	StateFailed WorkflowState = "failed"
	// StateCancelled means a human cancelled the post before publishing.
	StateCancelled WorkflowState = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s WorkflowState) IsTerminal() bool {
	switch s {
	case StatePublished, StateFailed, StateCancelled:
		return true
	case StateDraft, StatePendingReview, StateScheduled:
		return false
	}
	return false
}

// Known reports whether s is one of the defined workflow states.
func (s WorkflowState) Known() bool {
	switch s {
	case StateDraft, StatePendingReview, StateScheduled, StatePublished, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Post is the unit of content moving through the publishing lifecycle.
type Post struct {
	ID                       int64
	Content                  string
	OriginalContent          string
	Platforms                []string
	State                    WorkflowState
	ScheduledAt              *time.Time
	Priority                 Priority
	Timezone                 string
	RunHandle                string
	CreatedByCommand         bool
	OriginatingInteractionID *int64
	PublishResults           []PublishResult
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// HasLiveRun reports whether the post references a deferred run.
func (p Post) HasLiveRun() bool {
	return p.RunHandle != ""
}

// PublishResult is the normalized outcome of one platform publish call.
// Platform adapters convert their SDK responses into this shape at the
// boundary, so the core never branches on response shape.
type PublishResult struct {
	Platform       string `json:"platform"`
	Success        bool   `json:"success"`
	PlatformPostID string `json:"platform_post_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ContentVariation is one alternative rendering of a post's text.
// At most one variation per post is selected at a time.
type ContentVariation struct {
	ID            int64
	PostID        int64
	VariationType string
	Content       string
	IsSelected    bool
	CreatedAt     time.Time
}

// ImageOption is one candidate image for a post. The single-selection
// invariant is scoped independently from content variations.
type ImageOption struct {
	ID          int64
	PostID      int64
	OptionIndex int
	URL         string
	Caption     string
	MimeType    string
	IsSelected  bool
	CreatedAt   time.Time
}

// InteractionStatus is the outcome of one command/response exchange.
type InteractionStatus string

const (
	InteractionPending   InteractionStatus = "pending"
	InteractionCompleted InteractionStatus = "completed"
	InteractionFailed    InteractionStatus = "failed"
)

// Interaction is an append-only audit record of one handled command.
// Rows are never mutated after creation.
type Interaction struct {
	ID        int64
	Actor     string
	Command   string
	RawArgs   string
	Status    InteractionStatus
	Result    string
	CreatedAt time.Time
}

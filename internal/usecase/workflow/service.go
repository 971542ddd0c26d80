package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"post-planner-bot/internal/domain"
	"post-planner-bot/internal/infra/metrics"
	"post-planner-bot/internal/usecase/slots"
)

// Service owns the post workflow state machine. All workflowState
// transitions go through it; the allocator only proposes instants and
// the dispatcher only holds the deferred runs.
type Service struct {
	posts      domain.PostRepo
	dispatcher domain.RunDispatcher
	platforms  domain.PlatformDirectory
	allocator  *slots.Allocator
	locks      domain.Locker
	log        zerolog.Logger

	retryMax   int
	retryBase  time.Duration
	dateFormat string
	refZone    *time.Location
}

// Options tunes retry behaviour and date parsing.
type Options struct {
	RetryMax   int
	RetryBase  time.Duration
	DateFormat string
	RefZone    *time.Location
}

// NewService creates the workflow service.
func NewService(posts domain.PostRepo, dispatcher domain.RunDispatcher, platforms domain.PlatformDirectory, allocator *slots.Allocator, locks domain.Locker, log zerolog.Logger, opts Options) *Service {
	if opts.RetryMax <= 0 {
		opts.RetryMax = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 200 * time.Millisecond
	}
	if opts.DateFormat == "" {
		opts.DateFormat = "2006-01-02 15:04"
	}
	if opts.RefZone == nil {
		opts.RefZone = time.UTC
	}
	return &Service{
		posts:      posts,
		dispatcher: dispatcher,
		platforms:  platforms,
		allocator:  allocator,
		locks:      locks,
		log:        log,
		retryMax:   opts.RetryMax,
		retryBase:  opts.RetryBase,
		dateFormat: opts.DateFormat,
		refZone:    opts.RefZone,
	}
}

// ScheduleTarget is either a priority token or an explicit date/time
// string in the service's date format.
type ScheduleTarget struct {
	Priority domain.Priority
	Date     string
}

// SubmitForReview moves a draft into pending_review.
func (s *Service) SubmitForReview(ctx context.Context, postID int64) (domain.Post, error) {
	post, err := s.guard(ctx, postID, "submit_for_review", domain.StateDraft)
	if err != nil {
		metrics.IncTransition("submit_for_review", err)
		return domain.Post{}, err
	}
	if post.Content == "" {
		return domain.Post{}, domain.NewValidationError("post %d has no content to review", postID)
	}
	updated, err := s.posts.UpdateState(ctx, postID, domain.StateDraft, domain.StatePendingReview, domain.StateUpdate{})
	metrics.IncTransition("submit_for_review", err)
	return updated, err
}

// ApproveAndSchedule resolves the schedule target to a concrete
// instant, submits a deferred run and moves the post to scheduled.
// On dispatcher failure the transition aborts and the post stays in
// pending_review.
func (s *Service) ApproveAndSchedule(ctx context.Context, postID int64, target ScheduleTarget) (domain.Post, error) {
	post, err := s.guard(ctx, postID, "approve_and_schedule", domain.StatePendingReview)
	if err != nil {
		metrics.IncTransition("approve_and_schedule", err)
		return domain.Post{}, err
	}
	if len(post.Platforms) == 0 {
		return domain.Post{}, domain.NewValidationError("post %d has no target platforms", postID)
	}

	updated, err := s.schedule(ctx, post, domain.StatePendingReview, target)
	metrics.IncTransition("approve_and_schedule", err)
	return updated, err
}

// Reschedule replaces the deferred run of an already-scheduled post
// with a new slot. The post stays in scheduled. The replacement run is
// submitted and committed before the old run is cancelled: any error
// on the new target leaves the existing schedule and its run intact.
func (s *Service) Reschedule(ctx context.Context, postID int64, target ScheduleTarget) (domain.Post, error) {
	post, err := s.guard(ctx, postID, "reschedule", domain.StateScheduled)
	if err != nil {
		metrics.IncTransition("reschedule", err)
		return domain.Post{}, err
	}
	oldHandle := post.RunHandle
	// Cleared so submitRun creates a fresh run instead of reusing the
	// one still carrying the old fire time.
	post.RunHandle = ""
	updated, err := s.schedule(ctx, post, domain.StateScheduled, target)
	metrics.IncTransition("reschedule", err)
	if err != nil {
		return domain.Post{}, err
	}
	if oldHandle != "" && oldHandle != updated.RunHandle {
		// The post already points at the new run; if this cancel fails
		// the old run fires into the stale-handle skip in
		// ExecutePublish.
		if _, err := s.cancelRun(ctx, oldHandle); err != nil {
			s.log.Error().Err(err).Int64("post", postID).Str("run", oldHandle).Msg("workflow: failed to cancel replaced run")
		}
	}
	return updated, nil
}

// schedule resolves the target, submits the run and commits the state
// change. Slot allocation plus run submission is one critical section
// per priority bucket, so two concurrent approvals cannot double-book
// an instant.
func (s *Service) schedule(ctx context.Context, post domain.Post, from domain.WorkflowState, target ScheduleTarget) (domain.Post, error) {
	now := time.Now()

	if target.Date != "" {
		at, err := slots.ResolveExplicit(now, s.dateFormat, target.Date, s.postLocation(post))
		if err != nil {
			return domain.Post{}, err
		}
		return s.commitSchedule(ctx, post, from, at, domain.PriorityNone)
	}

	if _, ok := domain.ParsePriority(string(target.Priority)); !ok {
		return domain.Post{}, domain.NewValidationError("unknown priority %q, expected P1, P2 or P3", string(target.Priority))
	}

	var updated domain.Post
	lockKey := "slots:" + string(target.Priority)
	err := s.locks.WithLock(ctx, lockKey, 30*time.Second, func() error {
		taken, err := s.takenSlots(ctx, target.Priority)
		if err != nil {
			return err
		}
		at, err := s.allocator.NextSlot(now, target.Priority, taken)
		if err != nil {
			return err
		}
		metrics.SlotAllocationsTotal.WithLabelValues(string(target.Priority)).Inc()
		updated, err = s.commitSchedule(ctx, post, from, at, target.Priority)
		return err
	})
	if err != nil {
		return domain.Post{}, err
	}
	return updated, nil
}

func (s *Service) commitSchedule(ctx context.Context, post domain.Post, from domain.WorkflowState, at time.Time, priority domain.Priority) (domain.Post, error) {
	handle, err := s.submitRun(ctx, post, at, priority)
	if err != nil {
		return domain.Post{}, err
	}
	updated, err := s.posts.UpdateState(ctx, post.ID, from, domain.StateScheduled, domain.StateUpdate{
		SetSchedule:  true,
		ScheduledAt:  &at,
		Priority:     priority,
		SetRunHandle: true,
		RunHandle:    handle,
	})
	if err != nil {
		// The run was submitted but the state change did not commit;
		// cancel it so no orphaned run stays behind.
		if _, cancelErr := s.dispatcher.Cancel(ctx, handle); cancelErr != nil {
			s.log.Error().Err(cancelErr).Str("run", handle).Msg("workflow: failed to cancel run after aborted transition")
		}
		return domain.Post{}, err
	}
	return updated, nil
}

// submitRun submits the deferred run, reusing a still-pending run if
// one is already recorded for the post. Retrying submit therefore
// never creates a second run for one post.
func (s *Service) submitRun(ctx context.Context, post domain.Post, at time.Time, priority domain.Priority) (string, error) {
	if post.HasLiveRun() {
		status, err := s.dispatcher.Status(ctx, post.RunHandle)
		if err == nil && status == domain.RunPending {
			return post.RunHandle, nil
		}
		if err != nil && !errors.Is(err, domain.ErrRunNotFound) {
			return "", &domain.DispatcherError{Op: "status", Err: err}
		}
	}
	job := domain.PublishJob{
		JobID:       uuid.NewString(),
		PostID:      post.ID,
		Priority:    priority,
		ScheduledAt: at,
		RequestedAt: time.Now().UTC(),
		Cause:       domain.PublishCauseDeferred,
	}
	var handle string
	err := s.withRetry(ctx, "submit", func() error {
		var submitErr error
		handle, submitErr = s.dispatcher.Submit(ctx, slots.Delay(time.Now(), at), job)
		return submitErr
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

// PublishNow publishes immediately, skipping the schedule. A live
// deferred run is cancelled first so the post cannot publish twice.
func (s *Service) PublishNow(ctx context.Context, postID int64) (domain.Post, error) {
	post, err := s.guard(ctx, postID, "publish_now", domain.StatePendingReview, domain.StateScheduled)
	if err != nil {
		metrics.IncTransition("publish_now", err)
		return domain.Post{}, err
	}
	if post.HasLiveRun() {
		if _, err := s.cancelRun(ctx, post.RunHandle); err != nil {
			metrics.IncTransition("publish_now", err)
			return domain.Post{}, err
		}
	}
	results := s.publishToPlatforms(ctx, post)
	updated, err := s.finalizePublish(ctx, post, post.State, results)
	metrics.IncTransition("publish_now", err)
	return updated, err
}

// ExecutePublish handles a fired deferred run. Stale runs (post no
// longer scheduled, or handle mismatch after a reschedule) are
// acknowledged without publishing.
func (s *Service) ExecutePublish(ctx context.Context, job domain.PublishJob) error {
	post, err := s.posts.GetPost(ctx, job.PostID)
	if err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			s.log.Warn().Int64("post", job.PostID).Str("job", job.JobID).Msg("workflow: run fired for missing post")
			return nil
		}
		return err
	}
	if post.State != domain.StateScheduled {
		s.log.Info().Int64("post", post.ID).Str("state", string(post.State)).Msg("workflow: run fired for non-scheduled post, skipping")
		return nil
	}
	if job.RunHandle != "" && post.RunHandle != "" && job.RunHandle != post.RunHandle {
		s.log.Info().Int64("post", post.ID).Msg("workflow: stale run handle, skipping")
		return nil
	}
	results := s.publishToPlatforms(ctx, post)
	_, err = s.finalizePublish(ctx, post, domain.StateScheduled, results)
	return err
}

// publishToPlatforms calls every target platform adapter. Failures are
// recorded per platform; a failure never rolls back another platform's
// publish.
func (s *Service) publishToPlatforms(ctx context.Context, post domain.Post) []domain.PublishResult {
	results := make([]domain.PublishResult, 0, len(post.Platforms))
	for _, name := range post.Platforms {
		adapter, ok := s.platforms.Adapter(name)
		if !ok {
			results = append(results, domain.PublishResult{Platform: name, Error: "no adapter registered"})
			metrics.IncPublish(name, false)
			continue
		}
		res, err := adapter.Publish(ctx, post)
		if err != nil {
			adapterErr := &domain.AdapterError{Platform: name, Err: err}
			s.log.Error().Err(adapterErr).Int64("post", post.ID).Msg("workflow: platform publish failed")
			res = domain.PublishResult{Platform: name, Error: err.Error()}
		}
		res.Platform = name
		results = append(results, res)
		metrics.IncPublish(name, res.Success)
	}
	return results
}

// finalizePublish commits the terminal outcome: published if at least
// one platform succeeded (partial failures stay visible in the
// results), failed only if every platform failed.
func (s *Service) finalizePublish(ctx context.Context, post domain.Post, from domain.WorkflowState, results []domain.PublishResult) (domain.Post, error) {
	anySuccess := false
	for _, r := range results {
		if r.Success {
			anySuccess = true
			break
		}
	}
	upd := domain.StateUpdate{
		SetResults:   true,
		Results:      results,
		SetRunHandle: true,
		RunHandle:    "",
	}
	to := domain.StatePublished
	if !anySuccess {
		to = domain.StateFailed
		// scheduleTarget is retained as audit once published, but
		// cleared on failure.
		upd.ClearSchedule = true
	}
	return s.posts.UpdateState(ctx, post.ID, from, to, upd)
}

// Cancel cancels a pending or scheduled post. The state change commits
// only after the dispatcher confirms the run is no longer pending.
// Cancelling an already-cancelled post is not an error.
func (s *Service) Cancel(ctx context.Context, postID int64) (domain.Post, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return domain.Post{}, err
	}
	if post.State == domain.StateCancelled {
		return post, nil
	}
	if post.State != domain.StateScheduled && post.State != domain.StatePendingReview {
		err := &domain.InvalidTransitionError{PostID: postID, From: post.State, Op: "cancel"}
		metrics.IncTransition("cancel", err)
		return domain.Post{}, err
	}
	if post.HasLiveRun() {
		if _, err := s.cancelRun(ctx, post.RunHandle); err != nil {
			metrics.IncTransition("cancel", err)
			return domain.Post{}, err
		}
	}
	updated, err := s.posts.UpdateState(ctx, postID, post.State, domain.StateCancelled, domain.StateUpdate{
		ClearSchedule: true,
		SetRunHandle:  true,
		RunHandle:     "",
	})
	metrics.IncTransition("cancel", err)
	return updated, err
}

// MarkFailed is the system-driven failure transition, reachable from
// any non-terminal state.
func (s *Service) MarkFailed(ctx context.Context, postID int64, reason string) (domain.Post, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return domain.Post{}, err
	}
	if post.State.IsTerminal() {
		err := &domain.InvalidTransitionError{PostID: postID, From: post.State, Op: "mark_failed"}
		metrics.IncTransition("mark_failed", err)
		return domain.Post{}, err
	}
	if post.HasLiveRun() {
		// Best effort: an orphaned run is harmless, the publisher skips
		// runs whose post is no longer scheduled.
		if _, err := s.cancelRun(ctx, post.RunHandle); err != nil {
			s.log.Error().Err(err).Int64("post", postID).Msg("workflow: failed to cancel run while marking failed")
		}
	}
	s.log.Warn().Int64("post", postID).Str("reason", reason).Msg("workflow: marking post failed")
	updated, err := s.posts.UpdateState(ctx, postID, post.State, domain.StateFailed, domain.StateUpdate{
		ClearSchedule: true,
		SetRunHandle:  true,
		RunHandle:     "",
		SetResults:    true,
		Results:       append(post.PublishResults, domain.PublishResult{Platform: "system", Error: reason}),
	})
	metrics.IncTransition("mark_failed", err)
	return updated, err
}

// EditContent updates the post body without changing its state.
func (s *Service) EditContent(ctx context.Context, postID int64, content string) (domain.Post, error) {
	if content == "" {
		return domain.Post{}, domain.NewValidationError("content cannot be empty")
	}
	if _, err := s.guardNonTerminal(ctx, postID, "edit_content"); err != nil {
		return domain.Post{}, err
	}
	return s.posts.UpdateContent(ctx, postID, content)
}

// SelectVariation makes the named variation the selected one and
// applies its text as the post content.
func (s *Service) SelectVariation(ctx context.Context, postID int64, variationType string) (domain.Post, error) {
	if _, err := s.guardNonTerminal(ctx, postID, "edit_content"); err != nil {
		return domain.Post{}, err
	}
	variation, err := s.posts.SelectVariation(ctx, postID, variationType)
	if err != nil {
		return domain.Post{}, err
	}
	return s.posts.UpdateContent(ctx, postID, variation.Content)
}

// SelectImage makes the indexed image option the selected one.
func (s *Service) SelectImage(ctx context.Context, postID int64, optionIndex int) (domain.ImageOption, error) {
	if _, err := s.guardNonTerminal(ctx, postID, "edit_content"); err != nil {
		return domain.ImageOption{}, err
	}
	return s.posts.SelectImageOption(ctx, postID, optionIndex)
}

// cancelRun cancels a deferred run with bounded retries. A false
// result (already fired or already cancelled) counts as success.
func (s *Service) cancelRun(ctx context.Context, handle string) (bool, error) {
	var existed bool
	err := s.withRetry(ctx, "cancel", func() error {
		var cancelErr error
		existed, cancelErr = s.dispatcher.Cancel(ctx, handle)
		return cancelErr
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryBase
	err := backoff.Retry(fn, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.retryMax)), ctx))
	if err != nil {
		return &domain.DispatcherError{Op: op, Err: err}
	}
	return nil
}

// takenSlots recomputes the bucket's occupied instants from live post
// state. Never cached: staleness under concurrent scheduling is worse
// than the extra read.
func (s *Service) takenSlots(ctx context.Context, p domain.Priority) (slots.TakenSet, error) {
	scheduled, err := s.posts.ListScheduled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scheduled posts: %w", err)
	}
	taken := slots.NewTakenSet()
	for _, post := range scheduled {
		if post.Priority == p && post.ScheduledAt != nil {
			taken.Add(*post.ScheduledAt)
		}
	}
	return taken, nil
}

// guard loads the post and verifies it is in one of the allowed
// states. Terminal states always reject.
func (s *Service) guard(ctx context.Context, postID int64, op string, allowed ...domain.WorkflowState) (domain.Post, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return domain.Post{}, err
	}
	for _, state := range allowed {
		if post.State == state {
			return post, nil
		}
	}
	return domain.Post{}, &domain.InvalidTransitionError{PostID: postID, From: post.State, Op: op}
}

func (s *Service) guardNonTerminal(ctx context.Context, postID int64, op string) (domain.Post, error) {
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return domain.Post{}, err
	}
	if post.State.IsTerminal() {
		return domain.Post{}, &domain.InvalidTransitionError{PostID: postID, From: post.State, Op: op}
	}
	return post, nil
}

func (s *Service) postLocation(post domain.Post) *time.Location {
	if post.Timezone != "" {
		if loc, err := time.LoadLocation(post.Timezone); err == nil {
			return loc
		}
	}
	return s.refZone
}

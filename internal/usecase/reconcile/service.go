package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"post-planner-bot/internal/domain"
	"post-planner-bot/internal/infra/metrics"
)

// PostFailer is the system-driven failure transition of the workflow
// service.
type PostFailer interface {
	MarkFailed(ctx context.Context, postID int64, reason string) (domain.Post, error)
}

// Service enforces the cross-system invariant between post state and
// the dispatcher: every scheduled post has a live pending run, and
// every pending run belongs to a scheduled post. A post stuck past its
// slot without a run is failed with an explicit reason; an orphaned
// run is cancelled.
type Service struct {
	posts      domain.PostRepo
	dispatcher domain.RunDispatcher
	failer     PostFailer
	log        zerolog.Logger

	// grace is how far past its scheduled time a post may sit without
	// a live run before it is marked failed. Covers the normal window
	// between PopDue and the publisher finishing the job.
	grace time.Duration
}

// NewService creates the reconciler. A non-positive grace defaults to
// five minutes.
func NewService(posts domain.PostRepo, dispatcher domain.RunDispatcher, failer PostFailer, log zerolog.Logger, grace time.Duration) *Service {
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	return &Service{
		posts:      posts,
		dispatcher: dispatcher,
		failer:     failer,
		log:        log,
		grace:      grace,
	}
}

// Run sweeps on the given interval until the context is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, time.Now())
		}
	}
}

// Sweep runs one reconciliation pass against the state as of now.
func (s *Service) Sweep(ctx context.Context, now time.Time) {
	scheduled, err := s.posts.ListScheduled(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reconcile: failed to list scheduled posts")
		return
	}
	pending, err := s.dispatcher.ListPending(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reconcile: failed to list pending runs")
		return
	}

	pendingHandles := make(map[string]int64, len(pending))
	for _, run := range pending {
		pendingHandles[run.Handle] = run.Job.PostID
	}
	scheduledIDs := make(map[int64]struct{}, len(scheduled))

	for _, post := range scheduled {
		scheduledIDs[post.ID] = struct{}{}
		_, live := pendingHandles[post.RunHandle]
		if post.HasLiveRun() && live {
			continue
		}
		if post.ScheduledAt != nil && now.Before(post.ScheduledAt.Add(s.grace)) {
			// Likely mid-handoff between PopDue and the publisher.
			continue
		}
		metrics.ReconcileMismatches.Inc()
		s.log.Warn().Int64("post", post.ID).Msg("reconcile: scheduled post has no live run")
		if _, err := s.failer.MarkFailed(ctx, post.ID, "scheduled post lost its deferred run"); err != nil {
			s.log.Error().Err(err).Int64("post", post.ID).Msg("reconcile: failed to mark post failed")
		}
	}

	for handle, postID := range pendingHandles {
		if _, ok := scheduledIDs[postID]; ok {
			continue
		}
		metrics.ReconcileMismatches.Inc()
		s.log.Warn().Str("run", handle).Int64("post", postID).Msg("reconcile: pending run for non-scheduled post, cancelling")
		if _, err := s.dispatcher.Cancel(ctx, handle); err != nil {
			s.log.Error().Err(err).Str("run", handle).Msg("reconcile: failed to cancel orphaned run")
		}
	}
}

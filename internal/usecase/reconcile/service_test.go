package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"post-planner-bot/internal/domain"
)

type stubRepo struct {
	scheduled []domain.Post
}

func (r *stubRepo) CreatePost(_ context.Context, post domain.Post, _ []domain.ContentVariation, _ []domain.ImageOption) (domain.Post, error) {
	return post, nil
}

func (r *stubRepo) GetPost(context.Context, int64) (domain.Post, error) {
	return domain.Post{}, domain.ErrPostNotFound
}

func (r *stubRepo) UpdateState(context.Context, int64, domain.WorkflowState, domain.WorkflowState, domain.StateUpdate) (domain.Post, error) {
	return domain.Post{}, nil
}

func (r *stubRepo) UpdateContent(context.Context, int64, string) (domain.Post, error) {
	return domain.Post{}, nil
}

func (r *stubRepo) ListByState(context.Context, []domain.WorkflowState, int) ([]domain.Post, error) {
	return nil, nil
}

func (r *stubRepo) ListScheduled(context.Context) ([]domain.Post, error) {
	return r.scheduled, nil
}

func (r *stubRepo) ListVariations(context.Context, int64) ([]domain.ContentVariation, error) {
	return nil, nil
}

func (r *stubRepo) SelectVariation(context.Context, int64, string) (domain.ContentVariation, error) {
	return domain.ContentVariation{}, nil
}

func (r *stubRepo) ListImageOptions(context.Context, int64) ([]domain.ImageOption, error) {
	return nil, nil
}

func (r *stubRepo) SelectImageOption(context.Context, int64, int) (domain.ImageOption, error) {
	return domain.ImageOption{}, nil
}

type stubDispatcher struct {
	pending   []domain.DeferredRun
	cancelled []string
}

func (d *stubDispatcher) Submit(context.Context, time.Duration, domain.PublishJob) (string, error) {
	return "", nil
}

func (d *stubDispatcher) Cancel(_ context.Context, handle string) (bool, error) {
	d.cancelled = append(d.cancelled, handle)
	return true, nil
}

func (d *stubDispatcher) Status(context.Context, string) (domain.RunStatus, error) {
	return domain.RunPending, nil
}

func (d *stubDispatcher) ListPending(context.Context) ([]domain.DeferredRun, error) {
	return d.pending, nil
}

type stubFailer struct {
	failed map[int64]string
}

func (f *stubFailer) MarkFailed(_ context.Context, postID int64, reason string) (domain.Post, error) {
	if f.failed == nil {
		f.failed = make(map[int64]string)
	}
	f.failed[postID] = reason
	return domain.Post{ID: postID, State: domain.StateFailed}, nil
}

func scheduledPost(id int64, handle string, at time.Time) domain.Post {
	return domain.Post{ID: id, State: domain.StateScheduled, RunHandle: handle, ScheduledAt: &at}
}

func TestSweepFailsScheduledPostWithoutRun(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	repo := &stubRepo{scheduled: []domain.Post{
		scheduledPost(1, "run-1", now.Add(time.Hour)),
		scheduledPost(2, "run-2", now.Add(-10*time.Minute)),
	}}
	dispatcher := &stubDispatcher{pending: []domain.DeferredRun{
		{Handle: "run-1", Job: domain.PublishJob{PostID: 1}},
	}}
	failer := &stubFailer{}

	NewService(repo, dispatcher, failer, zerolog.Nop(), 5*time.Minute).Sweep(context.Background(), now)

	if _, ok := failer.failed[1]; ok {
		t.Fatal("post with a live run must not be failed")
	}
	if _, ok := failer.failed[2]; !ok {
		t.Fatal("post 2 lost its run and must be marked failed")
	}
	if len(dispatcher.cancelled) != 0 {
		t.Fatalf("no run should be cancelled, got %v", dispatcher.cancelled)
	}
}

func TestSweepHonoursGraceWindow(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	repo := &stubRepo{scheduled: []domain.Post{
		scheduledPost(1, "run-1", now.Add(-time.Minute)),
	}}
	failer := &stubFailer{}

	NewService(repo, &stubDispatcher{}, failer, zerolog.Nop(), 5*time.Minute).Sweep(context.Background(), now)

	if len(failer.failed) != 0 {
		t.Fatalf("post inside the grace window must be left alone, got %v", failer.failed)
	}
}

func TestSweepCancelsOrphanedRun(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	repo := &stubRepo{}
	dispatcher := &stubDispatcher{pending: []domain.DeferredRun{
		{Handle: "run-9", Job: domain.PublishJob{PostID: 7}},
	}}
	failer := &stubFailer{}

	NewService(repo, dispatcher, failer, zerolog.Nop(), 5*time.Minute).Sweep(context.Background(), now)

	if len(dispatcher.cancelled) != 1 || dispatcher.cancelled[0] != "run-9" {
		t.Fatalf("expected run-9 cancelled, got %v", dispatcher.cancelled)
	}
	if len(failer.failed) != 0 {
		t.Fatalf("no post should be failed, got %v", failer.failed)
	}
}

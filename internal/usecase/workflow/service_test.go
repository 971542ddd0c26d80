package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"post-planner-bot/internal/domain"
	"post-planner-bot/internal/usecase/slots"
)

type stubRepo struct {
	posts      map[int64]*domain.Post
	variations map[int64][]domain.ContentVariation
	images     map[int64][]domain.ImageOption
}

func newStubRepo(posts ...domain.Post) *stubRepo {
	r := &stubRepo{
		posts:      make(map[int64]*domain.Post),
		variations: make(map[int64][]domain.ContentVariation),
		images:     make(map[int64][]domain.ImageOption),
	}
	for i := range posts {
		p := posts[i]
		r.posts[p.ID] = &p
	}
	return r
}

func (r *stubRepo) CreatePost(_ context.Context, post domain.Post, variations []domain.ContentVariation, images []domain.ImageOption) (domain.Post, error) {
	post.ID = int64(len(r.posts) + 1)
	r.posts[post.ID] = &post
	r.variations[post.ID] = variations
	r.images[post.ID] = images
	return post, nil
}

func (r *stubRepo) GetPost(_ context.Context, id int64) (domain.Post, error) {
	p, ok := r.posts[id]
	if !ok {
		return domain.Post{}, domain.ErrPostNotFound
	}
	return *p, nil
}

func (r *stubRepo) UpdateState(_ context.Context, id int64, from, to domain.WorkflowState, upd domain.StateUpdate) (domain.Post, error) {
	p, ok := r.posts[id]
	if !ok {
		return domain.Post{}, domain.ErrPostNotFound
	}
	if p.State != from {
		return domain.Post{}, domain.ErrStaleState
	}
	p.State = to
	if upd.SetSchedule {
		p.ScheduledAt = upd.ScheduledAt
		p.Priority = upd.Priority
	}
	if upd.ClearSchedule {
		p.ScheduledAt = nil
		p.Priority = domain.PriorityNone
	}
	if upd.SetRunHandle {
		p.RunHandle = upd.RunHandle
	}
	if upd.SetResults {
		p.PublishResults = upd.Results
	}
	return *p, nil
}

func (r *stubRepo) UpdateContent(_ context.Context, id int64, content string) (domain.Post, error) {
	p, ok := r.posts[id]
	if !ok {
		return domain.Post{}, domain.ErrPostNotFound
	}
	p.Content = content
	return *p, nil
}

func (r *stubRepo) ListByState(_ context.Context, states []domain.WorkflowState, limit int) ([]domain.Post, error) {
	var out []domain.Post
	for _, p := range r.posts {
		for _, s := range states {
			if p.State == s {
				out = append(out, *p)
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *stubRepo) ListScheduled(_ context.Context) ([]domain.Post, error) {
	var out []domain.Post
	for _, p := range r.posts {
		if p.State == domain.StateScheduled {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *stubRepo) ListVariations(_ context.Context, postID int64) ([]domain.ContentVariation, error) {
	return r.variations[postID], nil
}

func (r *stubRepo) SelectVariation(_ context.Context, postID int64, variationType string) (domain.ContentVariation, error) {
	var selected domain.ContentVariation
	found := false
	for i := range r.variations[postID] {
		v := &r.variations[postID][i]
		v.IsSelected = v.VariationType == variationType
		if v.IsSelected {
			selected = *v
			found = true
		}
	}
	if !found {
		return domain.ContentVariation{}, domain.NewValidationError("no variation %q", variationType)
	}
	return selected, nil
}

func (r *stubRepo) ListImageOptions(_ context.Context, postID int64) ([]domain.ImageOption, error) {
	return r.images[postID], nil
}

func (r *stubRepo) SelectImageOption(_ context.Context, postID int64, optionIndex int) (domain.ImageOption, error) {
	var selected domain.ImageOption
	found := false
	for i := range r.images[postID] {
		img := &r.images[postID][i]
		img.IsSelected = img.OptionIndex == optionIndex
		if img.IsSelected {
			selected = *img
			found = true
		}
	}
	if !found {
		return domain.ImageOption{}, domain.NewValidationError("no image option %d", optionIndex)
	}
	return selected, nil
}

type stubDispatcher struct {
	submitErr error
	cancelErr error
	statuses  map[string]domain.RunStatus
	submitted []domain.PublishJob
	cancelled []string
	nextID    int
}

func newStubDispatcher() *stubDispatcher {
	return &stubDispatcher{statuses: make(map[string]domain.RunStatus)}
}

func (d *stubDispatcher) Submit(_ context.Context, _ time.Duration, job domain.PublishJob) (string, error) {
	if d.submitErr != nil {
		return "", d.submitErr
	}
	d.nextID++
	handle := "run-" + string(rune('0'+d.nextID))
	d.statuses[handle] = domain.RunPending
	d.submitted = append(d.submitted, job)
	return handle, nil
}

func (d *stubDispatcher) Cancel(_ context.Context, handle string) (bool, error) {
	if d.cancelErr != nil {
		return false, d.cancelErr
	}
	d.cancelled = append(d.cancelled, handle)
	if d.statuses[handle] == domain.RunPending {
		d.statuses[handle] = domain.RunCancelled
		return true, nil
	}
	return false, nil
}

func (d *stubDispatcher) Status(_ context.Context, handle string) (domain.RunStatus, error) {
	status, ok := d.statuses[handle]
	if !ok {
		return "", domain.ErrRunNotFound
	}
	return status, nil
}

func (d *stubDispatcher) ListPending(_ context.Context) ([]domain.DeferredRun, error) {
	return nil, nil
}

type stubAdapter struct {
	name   string
	result domain.PublishResult
	err    error
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Publish(_ context.Context, _ domain.Post) (domain.PublishResult, error) {
	return a.result, a.err
}

type stubDirectory struct {
	adapters map[string]domain.PlatformAdapter
}

func newStubDirectory(adapters ...domain.PlatformAdapter) *stubDirectory {
	d := &stubDirectory{adapters: make(map[string]domain.PlatformAdapter)}
	for _, a := range adapters {
		d.adapters[a.Name()] = a
	}
	return d
}

func (d *stubDirectory) Adapter(name string) (domain.PlatformAdapter, bool) {
	a, ok := d.adapters[name]
	return a, ok
}

func (d *stubDirectory) Names() []string { return nil }

type noopLocker struct{}

func (noopLocker) WithLock(_ context.Context, _ string, _ time.Duration, fn func() error) error {
	return fn()
}

func testService(t *testing.T, repo *stubRepo, dispatcher *stubDispatcher, dir domain.PlatformDirectory) *Service {
	t.Helper()
	buckets, err := slots.ParseBuckets(
		"Sat,Sun 08:00-10:00",
		"Fri,Mon 08:00-10:00; Sat,Sun 11:30-13:00",
		"Sat,Sun 13:00-17:00",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	allocator := slots.NewAllocator(slots.Config{Buckets: buckets, Location: time.UTC})
	return NewService(repo, dispatcher, dir, allocator, noopLocker{}, zerolog.Nop(), Options{
		RetryMax:  1,
		RetryBase: time.Millisecond,
	})
}

func pendingPost(id int64) domain.Post {
	return domain.Post{ID: id, Content: "hello", Platforms: []string{"telegram"}, State: domain.StatePendingReview}
}

func TestSubmitForReviewRequiresContent(t *testing.T) {
	repo := newStubRepo(domain.Post{ID: 1, State: domain.StateDraft})
	svc := testService(t, repo, newStubDispatcher(), newStubDirectory())
	if _, err := svc.SubmitForReview(context.Background(), 1); !domain.IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if repo.posts[1].State != domain.StateDraft {
		t.Fatalf("post left draft: %s", repo.posts[1].State)
	}
}

func TestPublishNowRejectsDraft(t *testing.T) {
	repo := newStubRepo(domain.Post{ID: 1, Content: "hello", State: domain.StateDraft})
	svc := testService(t, repo, newStubDispatcher(), newStubDirectory())
	var transition *domain.InvalidTransitionError
	if _, err := svc.PublishNow(context.Background(), 1); !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestApproveAndScheduleAssignsSlotAndRun(t *testing.T) {
	repo := newStubRepo(pendingPost(1))
	dispatcher := newStubDispatcher()
	svc := testService(t, repo, dispatcher, newStubDirectory())

	post, err := svc.ApproveAndSchedule(context.Background(), 1, ScheduleTarget{Priority: domain.PriorityP1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if post.State != domain.StateScheduled {
		t.Fatalf("expected scheduled, got %s", post.State)
	}
	if post.ScheduledAt == nil || !post.HasLiveRun() {
		t.Fatalf("expected a schedule and a run handle: %+v", post)
	}
	if len(dispatcher.submitted) != 1 {
		t.Fatalf("expected 1 submitted run, got %d", len(dispatcher.submitted))
	}
}

func TestApproveAndScheduleDispatcherFailureKeepsPendingReview(t *testing.T) {
	repo := newStubRepo(pendingPost(1))
	dispatcher := newStubDispatcher()
	dispatcher.submitErr = errors.New("redis down")
	svc := testService(t, repo, dispatcher, newStubDirectory())

	var dispatchErr *domain.DispatcherError
	if _, err := svc.ApproveAndSchedule(context.Background(), 1, ScheduleTarget{Priority: domain.PriorityP2}); !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatcherError, got %v", err)
	}
	if repo.posts[1].State != domain.StatePendingReview {
		t.Fatalf("post must stay pending_review, got %s", repo.posts[1].State)
	}
}

func TestApproveAndSchedulePastDate(t *testing.T) {
	repo := newStubRepo(pendingPost(1))
	svc := testService(t, repo, newStubDispatcher(), newStubDirectory())

	_, err := svc.ApproveAndSchedule(context.Background(), 1, ScheduleTarget{Date: "2001-01-01 09:00"})
	if !errors.Is(err, domain.ErrScheduleInPast) {
		t.Fatalf("expected ErrScheduleInPast, got %v", err)
	}
	if repo.posts[1].State != domain.StatePendingReview {
		t.Fatalf("post must stay pending_review, got %s", repo.posts[1].State)
	}
}

func TestScheduleAvoidsTakenSlots(t *testing.T) {
	first := pendingPost(1)
	second := pendingPost(2)
	repo := newStubRepo(first, second)
	dispatcher := newStubDispatcher()
	svc := testService(t, repo, dispatcher, newStubDirectory())

	a, err := svc.ApproveAndSchedule(context.Background(), 1, ScheduleTarget{Priority: domain.PriorityP1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := svc.ApproveAndSchedule(context.Background(), 2, ScheduleTarget{Priority: domain.PriorityP1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ScheduledAt.Equal(*b.ScheduledAt) {
		t.Fatalf("two posts double-booked %v", a.ScheduledAt)
	}
}

func TestRescheduleInvalidDateKeepsRunLive(t *testing.T) {
	repo := newStubRepo(pendingPost(1))
	dispatcher := newStubDispatcher()
	svc := testService(t, repo, dispatcher, newStubDirectory())

	post, err := svc.ApproveAndSchedule(context.Background(), 1, ScheduleTarget{Priority: domain.PriorityP1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	handle := post.RunHandle

	if _, err := svc.Reschedule(context.Background(), 1, ScheduleTarget{Date: "2001-01-01 09:00"}); !errors.Is(err, domain.ErrScheduleInPast) {
		t.Fatalf("expected ErrScheduleInPast, got %v", err)
	}
	if repo.posts[1].State != domain.StateScheduled {
		t.Fatalf("post must stay scheduled, got %s", repo.posts[1].State)
	}
	if repo.posts[1].RunHandle != handle {
		t.Fatalf("run handle must be untouched: %q", repo.posts[1].RunHandle)
	}
	if len(dispatcher.cancelled) != 0 {
		t.Fatalf("no run may be cancelled on a rejected target, got %v", dispatcher.cancelled)
	}
	if status, _ := dispatcher.Status(context.Background(), handle); status != domain.RunPending {
		t.Fatalf("run must still be pending, got %s", status)
	}
}

func TestRescheduleDispatcherFailureKeepsRunLive(t *testing.T) {
	repo := newStubRepo(pendingPost(1))
	dispatcher := newStubDispatcher()
	svc := testService(t, repo, dispatcher, newStubDirectory())

	post, err := svc.ApproveAndSchedule(context.Background(), 1, ScheduleTarget{Priority: domain.PriorityP2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	handle := post.RunHandle

	dispatcher.submitErr = errors.New("redis down")
	var dispatchErr *domain.DispatcherError
	if _, err := svc.Reschedule(context.Background(), 1, ScheduleTarget{Priority: domain.PriorityP2}); !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatcherError, got %v", err)
	}
	if repo.posts[1].State != domain.StateScheduled || repo.posts[1].RunHandle != handle {
		t.Fatalf("post must keep its schedule and run: %+v", repo.posts[1])
	}
	if status, _ := dispatcher.Status(context.Background(), handle); status != domain.RunPending {
		t.Fatalf("run must still be pending, got %s", status)
	}
}

func TestRescheduleReplacesRun(t *testing.T) {
	repo := newStubRepo(pendingPost(1))
	dispatcher := newStubDispatcher()
	svc := testService(t, repo, dispatcher, newStubDirectory())

	post, err := svc.ApproveAndSchedule(context.Background(), 1, ScheduleTarget{Priority: domain.PriorityP1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oldHandle := post.RunHandle

	moved, err := svc.Reschedule(context.Background(), 1, ScheduleTarget{Date: "2100-01-02 09:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved.State != domain.StateScheduled {
		t.Fatalf("expected scheduled, got %s", moved.State)
	}
	if moved.RunHandle == "" || moved.RunHandle == oldHandle {
		t.Fatalf("expected a fresh run handle, got %q", moved.RunHandle)
	}
	if len(dispatcher.cancelled) != 1 || dispatcher.cancelled[0] != oldHandle {
		t.Fatalf("expected old run %s cancelled, got %v", oldHandle, dispatcher.cancelled)
	}
	if status, _ := dispatcher.Status(context.Background(), moved.RunHandle); status != domain.RunPending {
		t.Fatalf("new run must be pending, got %s", status)
	}
}

func TestCancelCancelsRunBeforeState(t *testing.T) {
	repo := newStubRepo(pendingPost(1))
	dispatcher := newStubDispatcher()
	svc := testService(t, repo, dispatcher, newStubDirectory())

	post, err := svc.ApproveAndSchedule(context.Background(), 1, ScheduleTarget{Priority: domain.PriorityP3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	handle := post.RunHandle

	cancelled, err := svc.Cancel(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.State != domain.StateCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.State)
	}
	if cancelled.ScheduledAt != nil || cancelled.HasLiveRun() {
		t.Fatalf("schedule and run handle must be cleared: %+v", cancelled)
	}
	if len(dispatcher.cancelled) != 1 || dispatcher.cancelled[0] != handle {
		t.Fatalf("expected run %s cancelled, got %v", handle, dispatcher.cancelled)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	repo := newStubRepo(pendingPost(1))
	svc := testService(t, repo, newStubDispatcher(), newStubDirectory())

	if _, err := svc.Cancel(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := svc.Cancel(context.Background(), 1)
	if err != nil {
		t.Fatalf("second cancel errored: %v", err)
	}
	if again.State != domain.StateCancelled {
		t.Fatalf("expected cancelled, got %s", again.State)
	}
}

func TestCancelDispatcherFailureKeepsState(t *testing.T) {
	repo := newStubRepo(pendingPost(1))
	dispatcher := newStubDispatcher()
	svc := testService(t, repo, dispatcher, newStubDirectory())

	if _, err := svc.ApproveAndSchedule(context.Background(), 1, ScheduleTarget{Priority: domain.PriorityP1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dispatcher.cancelErr = errors.New("redis down")
	if _, err := svc.Cancel(context.Background(), 1); err == nil {
		t.Fatal("expected an error")
	}
	if repo.posts[1].State != domain.StateScheduled {
		t.Fatalf("post must stay scheduled, got %s", repo.posts[1].State)
	}
}

func TestPublishNowPartialFailureStaysPublished(t *testing.T) {
	post := pendingPost(1)
	post.Platforms = []string{"telegram", "mastodon"}
	repo := newStubRepo(post)
	dir := newStubDirectory(
		&stubAdapter{name: "telegram", result: domain.PublishResult{Success: true, PlatformPostID: "42"}},
		&stubAdapter{name: "mastodon", err: errors.New("bridge timeout")},
	)
	svc := testService(t, repo, newStubDispatcher(), dir)

	published, err := svc.PublishNow(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if published.State != domain.StatePublished {
		t.Fatalf("expected published, got %s", published.State)
	}
	if len(published.PublishResults) != 2 {
		t.Fatalf("expected 2 results, got %d", len(published.PublishResults))
	}
	var failures int
	for _, r := range published.PublishResults {
		if !r.Success {
			failures++
			if r.Error == "" {
				t.Fatal("failed result has no error text")
			}
		}
	}
	if failures != 1 {
		t.Fatalf("expected 1 failure annotation, got %d", failures)
	}
}

func TestPublishNowAllFailedMovesToFailed(t *testing.T) {
	repo := newStubRepo(pendingPost(1))
	dir := newStubDirectory(&stubAdapter{name: "telegram", err: errors.New("api error")})
	svc := testService(t, repo, newStubDispatcher(), dir)

	failed, err := svc.PublishNow(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failed.State != domain.StateFailed {
		t.Fatalf("expected failed, got %s", failed.State)
	}
	if failed.ScheduledAt != nil {
		t.Fatal("schedule must be cleared on failure")
	}
}

func TestPublishNowCancelsLiveRunFirst(t *testing.T) {
	repo := newStubRepo(pendingPost(1))
	dispatcher := newStubDispatcher()
	dir := newStubDirectory(&stubAdapter{name: "telegram", result: domain.PublishResult{Success: true}})
	svc := testService(t, repo, dispatcher, dir)

	post, err := svc.ApproveAndSchedule(context.Background(), 1, ScheduleTarget{Priority: domain.PriorityP2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	published, err := svc.PublishNow(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if published.State != domain.StatePublished {
		t.Fatalf("expected published, got %s", published.State)
	}
	if len(dispatcher.cancelled) != 1 || dispatcher.cancelled[0] != post.RunHandle {
		t.Fatalf("expected run %s cancelled first, got %v", post.RunHandle, dispatcher.cancelled)
	}
	if published.ScheduledAt == nil {
		t.Fatal("schedule is audit data and must survive publishing")
	}
}

func TestExecutePublishSkipsStaleRun(t *testing.T) {
	post := pendingPost(1)
	post.State = domain.StateScheduled
	post.RunHandle = "current"
	repo := newStubRepo(post)
	dir := newStubDirectory(&stubAdapter{name: "telegram", result: domain.PublishResult{Success: true}})
	svc := testService(t, repo, newStubDispatcher(), dir)

	err := svc.ExecutePublish(context.Background(), domain.PublishJob{PostID: 1, RunHandle: "stale"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.posts[1].State != domain.StateScheduled {
		t.Fatalf("stale run must not publish, state %s", repo.posts[1].State)
	}
}

func TestMarkFailedRejectsTerminal(t *testing.T) {
	repo := newStubRepo(domain.Post{ID: 1, State: domain.StatePublished})
	svc := testService(t, repo, newStubDispatcher(), newStubDirectory())
	var transition *domain.InvalidTransitionError
	if _, err := svc.MarkFailed(context.Background(), 1, "whatever"); !errors.As(err, &transition) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestSelectVariationAppliesContent(t *testing.T) {
	repo := newStubRepo(pendingPost(1))
	repo.variations[1] = []domain.ContentVariation{
		{PostID: 1, VariationType: "short", Content: "short text", IsSelected: true},
		{PostID: 1, VariationType: "long", Content: "a much longer text"},
	}
	svc := testService(t, repo, newStubDispatcher(), newStubDirectory())

	post, err := svc.SelectVariation(context.Background(), 1, "long")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if post.Content != "a much longer text" {
		t.Fatalf("content not applied: %q", post.Content)
	}
	selected := 0
	for _, v := range repo.variations[1] {
		if v.IsSelected {
			selected++
		}
	}
	if selected != 1 {
		t.Fatalf("expected exactly one selected variation, got %d", selected)
	}
}

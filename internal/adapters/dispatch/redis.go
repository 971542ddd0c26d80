package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"post-planner-bot/internal/domain"
	"post-planner-bot/internal/infra/metrics"
)

// RedisDispatcher implements the deferred-run contract on Redis: a
// sorted set of pending handles scored by fire time, plus a hash per
// run holding payload and status.
type RedisDispatcher struct {
	client *redis.Client
	prefix string
	// retention keeps finished run hashes around for status queries.
	retention time.Duration
}

var _ domain.RunDispatcher = (*RedisDispatcher)(nil)

// NewRedisDispatcher creates the dispatcher under the given key prefix.
func NewRedisDispatcher(client *redis.Client, prefix string) *RedisDispatcher {
	if prefix == "" {
		prefix = "runs"
	}
	return &RedisDispatcher{client: client, prefix: prefix, retention: 7 * 24 * time.Hour}
}

func (d *RedisDispatcher) pendingKey() string { return d.prefix + ":pending" }

func (d *RedisDispatcher) runKey(handle string) string { return d.prefix + ":run:" + handle }

// Submit registers a run firing after the delay and returns its handle.
func (d *RedisDispatcher) Submit(ctx context.Context, delay time.Duration, job domain.PublishJob) (string, error) {
	handle := uuid.NewString()
	job.RunHandle = handle
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	fireAt := time.Now().Add(delay)

	start := time.Now()
	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, d.runKey(handle), map[string]any{
		"payload": payload,
		"status":  string(domain.RunPending),
		"fire_at": fireAt.Unix(),
	})
	pipe.Expire(ctx, d.runKey(handle), d.retention)
	pipe.ZAdd(ctx, d.pendingKey(), redis.Z{Score: float64(fireAt.Unix()), Member: handle})
	_, err = pipe.Exec(ctx)
	metrics.ObserveNetworkRequest("redis", "run_submit", d.prefix, start, err)
	if err != nil {
		return "", fmt.Errorf("submit run: %w", err)
	}
	return handle, nil
}

// cancelScript atomically removes a pending handle and flips the run
// hash to cancelled, so Status can never report pending for a run that
// was removed from the schedule.
var cancelScript = redis.NewScript(`
local removed = redis.call("zrem", KEYS[1], ARGV[1])
if removed == 0 then
  return 0
end
redis.call("hset", KEYS[2], "status", ARGV[2])
return 1
`)

// Cancel removes a pending run. It is idempotent: cancelling a run
// that already fired or was already cancelled returns false, nil.
func (d *RedisDispatcher) Cancel(ctx context.Context, handle string) (bool, error) {
	start := time.Now()
	res, err := cancelScript.Run(ctx, d.client,
		[]string{d.pendingKey(), d.runKey(handle)},
		handle, string(domain.RunCancelled)).Int()
	metrics.ObserveNetworkRequest("redis", "run_cancel", d.prefix, start, err)
	if err != nil {
		return false, fmt.Errorf("cancel run: %w", err)
	}
	return res == 1, nil
}

// Status reports the run state.
func (d *RedisDispatcher) Status(ctx context.Context, handle string) (domain.RunStatus, error) {
	start := time.Now()
	status, err := d.client.HGet(ctx, d.runKey(handle), "status").Result()
	metrics.ObserveNetworkRequest("redis", "run_status", d.prefix, start, err)
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrRunNotFound
	}
	if err != nil {
		return "", fmt.Errorf("run status: %w", err)
	}
	return domain.RunStatus(status), nil
}

// ListPending returns the runs still waiting to fire, earliest first.
// Fired, failed and cancelled runs are never included.
func (d *RedisDispatcher) ListPending(ctx context.Context) ([]domain.DeferredRun, error) {
	start := time.Now()
	handles, err := d.client.ZRangeByScore(ctx, d.pendingKey(), &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	metrics.ObserveNetworkRequest("redis", "run_list", d.prefix, start, err)
	if err != nil {
		return nil, fmt.Errorf("list pending runs: %w", err)
	}
	runs := make([]domain.DeferredRun, 0, len(handles))
	for _, handle := range handles {
		run, err := d.loadRun(ctx, handle)
		if err != nil {
			if errors.Is(err, domain.ErrRunNotFound) {
				continue
			}
			return nil, err
		}
		runs = append(runs, run)
	}
	metrics.DispatcherRunsPending.Set(float64(len(runs)))
	return runs, nil
}

// popDueScript atomically claims the earliest due handle.
var popDueScript = redis.NewScript(`
local due = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1], "limit", 0, 1)
if #due == 0 then
  return false
end
redis.call("zrem", KEYS[1], due[1])
return due[1]
`)

// PopDue claims one run whose fire time has passed. Returns
// ErrRunNotFound when nothing is due.
func (d *RedisDispatcher) PopDue(ctx context.Context, now time.Time) (domain.DeferredRun, error) {
	start := time.Now()
	res, err := popDueScript.Run(ctx, d.client, []string{d.pendingKey()}, now.Unix()).Result()
	metrics.ObserveNetworkRequest("redis", "run_pop_due", d.prefix, start, err)
	if errors.Is(err, redis.Nil) {
		return domain.DeferredRun{}, domain.ErrRunNotFound
	}
	if err != nil {
		return domain.DeferredRun{}, fmt.Errorf("pop due run: %w", err)
	}
	handle, ok := res.(string)
	if !ok || handle == "" {
		return domain.DeferredRun{}, domain.ErrRunNotFound
	}
	return d.loadRun(ctx, handle)
}

// MarkResult records the terminal status of a fired run.
func (d *RedisDispatcher) MarkResult(ctx context.Context, handle string, success bool) error {
	status := domain.RunCompleted
	if !success {
		status = domain.RunFailed
	}
	return d.client.HSet(ctx, d.runKey(handle), "status", string(status)).Err()
}

// Requeue puts a claimed run back, used when the handoff to the
// publish queue fails after PopDue.
func (d *RedisDispatcher) Requeue(ctx context.Context, run domain.DeferredRun) error {
	return d.client.ZAdd(ctx, d.pendingKey(), redis.Z{Score: float64(run.FireAt.Unix()), Member: run.Handle}).Err()
}

func (d *RedisDispatcher) loadRun(ctx context.Context, handle string) (domain.DeferredRun, error) {
	fields, err := d.client.HGetAll(ctx, d.runKey(handle)).Result()
	if err != nil {
		return domain.DeferredRun{}, fmt.Errorf("load run: %w", err)
	}
	if len(fields) == 0 {
		return domain.DeferredRun{}, domain.ErrRunNotFound
	}
	var job domain.PublishJob
	if err := json.Unmarshal([]byte(fields["payload"]), &job); err != nil {
		return domain.DeferredRun{}, fmt.Errorf("decode run payload: %w", err)
	}
	var fireAt time.Time
	if unix, parseErr := parseUnix(fields["fire_at"]); parseErr == nil {
		fireAt = unix
	}
	return domain.DeferredRun{Handle: handle, FireAt: fireAt, Job: job}, nil
}

func parseUnix(raw string) (time.Time, error) {
	var unix int64
	if _, err := fmt.Sscanf(raw, "%d", &unix); err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"post-planner-bot/internal/adapters/dispatch"
	"post-planner-bot/internal/adapters/platform"
	"post-planner-bot/internal/adapters/queue"
	"post-planner-bot/internal/adapters/repo"
	"post-planner-bot/internal/domain"
	"post-planner-bot/internal/infra/cache"
	"post-planner-bot/internal/infra/config"
	"post-planner-bot/internal/infra/db"
	"post-planner-bot/internal/infra/log"
	"post-planner-bot/internal/infra/metrics"
	"post-planner-bot/internal/usecase/reconcile"
	"post-planner-bot/internal/usecase/slots"
	"post-planner-bot/internal/usecase/workflow"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv).With().Str("component", "scheduler").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	publishQueue, err := queue.NewRabbitPublishQueue(cfg.Rabbit.URL, cfg.Rabbit.Queue)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}
	defer publishQueue.Close()

	zone, err := time.LoadLocation(cfg.Schedule.Zone)
	if err != nil {
		logger.Fatal().Err(err).Str("zone", cfg.Schedule.Zone).Msg("invalid schedule zone")
	}
	buckets, err := slots.ParseBuckets(cfg.Schedule.P1Windows, cfg.Schedule.P2Windows, cfg.Schedule.P3Windows)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid slot window configuration")
	}
	allocator := slots.NewAllocator(slots.Config{
		Buckets:     buckets,
		Step:        cfg.Schedule.Step,
		Location:    zone,
		HorizonDays: cfg.Schedule.HorizonDays,
	})

	repoAdapter := repo.NewPostgres(pool)
	dispatcher := dispatch.NewRedisDispatcher(redisClient, cfg.Dispatcher.KeyPrefix)
	locker := cache.NewLocker(redisClient)

	// The reconciler only drives mark_failed, so no platform adapters
	// are registered here.
	workflowUC := workflow.NewService(repoAdapter, dispatcher, platform.NewRegistry(), allocator, locker, logger, workflow.Options{
		RetryMax:   cfg.Dispatcher.RetryMax,
		RetryBase:  cfg.Dispatcher.RetryBase,
		DateFormat: cfg.Responder.DateFormat,
		RefZone:    zone,
	})

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
		<-stop
		logger.Info().Msg("shutting down scheduler")
		cancel()
	}()

	reconciler := reconcile.NewService(repoAdapter, dispatcher, workflowUC, logger, 0)
	go reconciler.Run(ctx, time.Minute)

	pollTicker := time.NewTicker(cfg.Dispatcher.PollInterval)
	defer pollTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			drainDueRuns(ctx, logger, dispatcher, publishQueue)
		}
	}
}

// drainDueRuns moves every due run from the dispatcher into the publish
// queue. A failed handoff requeues the run so it fires again on the
// next poll.
func drainDueRuns(ctx context.Context, logger zerolog.Logger, dispatcher *dispatch.RedisDispatcher, publishQueue domain.PublishQueue) {
	for {
		run, err := dispatcher.PopDue(ctx, time.Now())
		if errors.Is(err, domain.ErrRunNotFound) {
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("scheduler: failed to pop due run")
			return
		}
		if err := publishQueue.Enqueue(ctx, run.Job); err != nil {
			logger.Error().Err(err).Str("run", run.Handle).Msg("scheduler: failed to enqueue publish job, requeueing run")
			if reqErr := dispatcher.Requeue(ctx, run); reqErr != nil {
				logger.Error().Err(reqErr).Str("run", run.Handle).Msg("scheduler: failed to requeue run")
			}
			return
		}
		logger.Info().Str("run", run.Handle).Int64("post", run.Job.PostID).Msg("scheduler: publish job enqueued")
	}
}

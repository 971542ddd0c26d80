package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"post-planner-bot/internal/adapters/dispatch"
	"post-planner-bot/internal/adapters/platform"
	"post-planner-bot/internal/adapters/queue"
	"post-planner-bot/internal/adapters/repo"
	"post-planner-bot/internal/infra/cache"
	"post-planner-bot/internal/infra/config"
	"post-planner-bot/internal/infra/db"
	"post-planner-bot/internal/infra/log"
	"post-planner-bot/internal/infra/metrics"
	"post-planner-bot/internal/usecase/slots"
	"post-planner-bot/internal/usecase/workflow"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv).With().Str("component", "publisher").Logger()

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

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create bot")
	}
	adapters := platform.WebhooksFromSpec(cfg.Platforms.WebhookEndpoints, cfg.Platforms.WebhookToken)
	if cfg.Platforms.TelegramChannelID != 0 {
		adapters = append(adapters, platform.NewTelegramChannel(botAPI, cfg.Platforms.TelegramChannelID))
	}
	registry := platform.NewRegistry(adapters...)

	repoAdapter := repo.NewPostgres(pool)
	dispatcher := dispatch.NewRedisDispatcher(redisClient, cfg.Dispatcher.KeyPrefix)
	locker := cache.NewLocker(redisClient)

	workflowUC := workflow.NewService(repoAdapter, dispatcher, registry, allocator, locker, logger, workflow.Options{
		RetryMax:   cfg.Dispatcher.RetryMax,
		RetryBase:  cfg.Dispatcher.RetryBase,
		DateFormat: cfg.Responder.DateFormat,
		RefZone:    zone,
	})

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
		<-stop
		logger.Info().Msg("shutting down publisher")
		cancel()
	}()

	logger.Info().Str("queue", cfg.Rabbit.Queue).Msg("publisher started")
	for {
		job, ack, err := publishQueue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error().Err(err).Msg("publisher: receive failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		execErr := workflowUC.ExecutePublish(ctx, job)
		if execErr != nil {
			logger.Error().Err(execErr).Int64("post", job.PostID).Str("job", job.JobID).Msg("publisher: publish failed")
		}
		if err := ack(execErr == nil); err != nil {
			logger.Error().Err(err).Str("job", job.JobID).Msg("publisher: ack failed")
		}
		if job.RunHandle != "" {
			if err := dispatcher.MarkResult(ctx, job.RunHandle, execErr == nil); err != nil {
				logger.Error().Err(err).Str("run", job.RunHandle).Msg("publisher: failed to record run result")
			}
		}
	}
}

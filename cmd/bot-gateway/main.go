package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"post-planner-bot/internal/adapters/bot"
	"post-planner-bot/internal/adapters/dispatch"
	"post-planner-bot/internal/adapters/generator"
	"post-planner-bot/internal/adapters/intent"
	"post-planner-bot/internal/adapters/platform"
	"post-planner-bot/internal/adapters/repo"
	"post-planner-bot/internal/domain"
	"post-planner-bot/internal/infra/cache"
	"post-planner-bot/internal/infra/config"
	"post-planner-bot/internal/infra/db"
	httpserver "post-planner-bot/internal/infra/http"
	"post-planner-bot/internal/infra/log"
	"post-planner-bot/internal/infra/metrics"
	"post-planner-bot/internal/infra/openai"
	"post-planner-bot/internal/usecase/compose"
	"post-planner-bot/internal/usecase/respond"
	"post-planner-bot/internal/usecase/slots"
	"post-planner-bot/internal/usecase/workflow"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv).With().Str("component", "bot-gateway").Logger()

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
	if cfg.Telegram.WebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid webhook url")
		}
		if _, err := botAPI.Request(wh); err != nil {
			logger.Fatal().Err(err).Msg("failed to register webhook")
		}
	}

	adapters := platform.WebhooksFromSpec(cfg.Platforms.WebhookEndpoints, cfg.Platforms.WebhookToken)
	if cfg.Platforms.TelegramChannelID != 0 {
		adapters = append(adapters, platform.NewTelegramChannel(botAPI, cfg.Platforms.TelegramChannelID))
	}
	registry := platform.NewRegistry(adapters...)

	repoAdapter := repo.NewPostgres(pool)
	dispatcher := dispatch.NewRedisDispatcher(redisClient, cfg.Dispatcher.KeyPrefix)
	locker := cache.NewLocker(redisClient)
	pins := cache.NewRedis(redisClient)

	workflowUC := workflow.NewService(repoAdapter, dispatcher, registry, allocator, locker, logger, workflow.Options{
		RetryMax:   cfg.Dispatcher.RetryMax,
		RetryBase:  cfg.Dispatcher.RetryBase,
		DateFormat: cfg.Responder.DateFormat,
		RefZone:    zone,
	})

	openaiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	var draftGen domain.DraftGenerator = generator.NewSimple()
	if cfg.OpenAI.APIKey != "" {
		draftGen = generator.NewOpenAI(openaiClient, cfg.OpenAI.Model)
	}
	composeUC := compose.NewService(repoAdapter, draftGen, logger, splitList(cfg.Platforms.Targets), cfg.Limits.DefaultTimezone)

	classifier := intent.NewOpenAI(openaiClient, cfg.OpenAI.Model)
	router := respond.NewRouter(classifier, logger, respond.Config{
		DateFormat:      cfg.Responder.DateFormat,
		DeniedMimeTypes: splitList(cfg.Responder.DeniedMimeTypes),
		RefZone:         zone,
	})

	defaultPriority, _ := domain.ParsePriority(cfg.Limits.DefaultPriority)
	h := bot.NewHandler(botAPI, logger, workflowUC, composeUC, router, repoAdapter, repoAdapter, pins, bot.Config{
		ViewCap:         cfg.Limits.ViewCap,
		ReplyBudget:     cfg.Limits.ReplyBudget,
		DateFormat:      cfg.Responder.DateFormat,
		DefaultPriority: defaultPriority,
		RefZone:         zone,
	})

	srv := httpserver.NewServer(logger)
	srv.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	logger.Info().Msg("shutting down bot gateway")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

var _ domain.PostRepo = (*repo.Postgres)(nil)
var _ domain.InteractionRepo = (*repo.Postgres)(nil)

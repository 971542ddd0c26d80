package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig describes the configuration of all services.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9091"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Rabbit struct {
		URL   string `envconfig:"RABBIT_URL"`
		Queue string `envconfig:"PUBLISH_QUEUE" default:"publish_jobs"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	// Slot windows are business rules, kept configurable on purpose:
	// what counts as a valid P1/P2/P3 slot is a product decision.
	Schedule struct {
		Zone        string        `envconfig:"SCHEDULE_ZONE" default:"America/Los_Angeles"`
		Step        time.Duration `envconfig:"SCHEDULE_STEP" default:"5m"`
		HorizonDays int           `envconfig:"SCHEDULE_HORIZON_DAYS" default:"60"`
		P1Windows   string        `envconfig:"SCHEDULE_P1_WINDOWS" default:"Sat,Sun 08:00-10:00"`
		P2Windows   string        `envconfig:"SCHEDULE_P2_WINDOWS" default:"Fri,Mon 08:00-10:00; Sat,Sun 11:30-13:00"`
		P3Windows   string        `envconfig:"SCHEDULE_P3_WINDOWS" default:"Sat,Sun 13:00-17:00"`
	} `envconfig:""`

	Dispatcher struct {
		KeyPrefix    string        `envconfig:"DISPATCH_KEY_PREFIX" default:"runs"`
		RetryMax     int           `envconfig:"DISPATCH_RETRY_MAX" default:"3"`
		RetryBase    time.Duration `envconfig:"DISPATCH_RETRY_BASE" default:"200ms"`
		PollInterval time.Duration `envconfig:"DISPATCH_POLL_INTERVAL" default:"1s"`
	} `envconfig:""`

	Limits struct {
		ViewCap         int    `envconfig:"VIEW_SCHEDULED_CAP" default:"5"`
		ReplyBudget     int    `envconfig:"REPLY_CHAR_BUDGET" default:"2000"`
		DefaultPriority string `envconfig:"DEFAULT_PRIORITY" default:"P2"`
		DefaultTimezone string `envconfig:"DEFAULT_TIMEZONE" default:"America/Los_Angeles"`
	} `envconfig:""`

	Platforms struct {
		Targets           string `envconfig:"PLATFORM_TARGETS" default:"telegram"`
		TelegramChannelID int64  `envconfig:"PLATFORM_TG_CHANNEL_ID"`
		WebhookEndpoints  string `envconfig:"PLATFORM_WEBHOOKS"`
		WebhookToken      string `envconfig:"PLATFORM_WEBHOOK_TOKEN"`
	} `envconfig:""`

	Responder struct {
		// Comma-separated MIME types image edits must never target.
		DeniedMimeTypes string `envconfig:"RESPONDER_DENIED_MIME" default:"image/svg+xml,application/postscript,application/pdf"`
		DateFormat      string `envconfig:"RESPONDER_DATE_FORMAT" default:"2006-01-02 15:04"`
	} `envconfig:""`
}

// Load reads the config from the environment.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

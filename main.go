package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/bookweather-chat/server/internal/agent/answer"
	"github.com/bookweather-chat/server/internal/agent/composer"
	"github.com/bookweather-chat/server/internal/agent/graph"
	"github.com/bookweather-chat/server/internal/agent/graph/nodes"
	"github.com/bookweather-chat/server/internal/agent/graph/prompts"
	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/agent/repo"
	"github.com/bookweather-chat/server/internal/agent/session"
	"github.com/bookweather-chat/server/internal/core"
	"github.com/bookweather-chat/server/internal/index"
	"github.com/bookweather-chat/server/internal/index/backend"
	"github.com/bookweather-chat/server/internal/server"
	"github.com/bookweather-chat/server/internal/weather"
	logx "github.com/bookweather-chat/server/pkg/logger"
	pkgredis "github.com/bookweather-chat/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the service, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	HTTP  server.Config
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Router    model.RouterModelConfig
	Answer    model.AnswerModelConfig
	Retrieval model.RetrievalConfig
	Weather   model.WeatherConfig
	Timeouts  model.TimeoutConfig
	ChatLog   model.ChatLogConfig
	Response  model.ResponseConfig
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		logx.Debug().Err(err).Msg("Could not load .env file, using environment")
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Fatal().Err(err).Msg("Failed to process environment config")
	}
	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal().Err(err).Msg("Service stopped with error")
	}
	logx.Info().Msg("Service stopped")
}

func run(ctx context.Context, cfg AppConfig) error {
	msgs := prompts.MustLoadCatalog().Locale(cfg.Response.Locale)

	models, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		RouterConfig: &cfg.Router,
		AnswerConfig: &cfg.Answer,
	})
	if err != nil {
		return err
	}

	router, err := graph.NewRouter(ctx, graph.RouterConfig{
		ChatModel: models.Router,
		ModelName: models.RouterModelName,
		Timeout:   cfg.Timeouts.Call,
	})
	if err != nil {
		return err
	}

	passages, err := backend.Open(ctx, cfg.Retrieval, models.Client)
	if err != nil {
		return err
	}
	defer passages.Close()
	if passages.Memory != nil {
		path := cfg.Retrieval.PassagesFile
		if err := index.WatchFile(ctx, path, func() error { return passages.Memory.Reload(path) }); err != nil {
			logx.Warn().Err(err).Str("path", path).Msg("Passages file will not be reloaded on change")
		}
	}

	book, err := answer.NewBook(answer.BookConfig{
		Index:             passages,
		ChatModel:         models.Answer,
		ModelName:         models.AnswerModelName,
		Messages:          msgs,
		TopK:              cfg.Retrieval.TopK,
		ExcerptMaxChars:   cfg.Retrieval.ExcerptMaxChars,
		Streaming:         cfg.Answer.Streaming,
		CallTimeout:       cfg.Timeouts.Call,
		GenerationTimeout: cfg.Timeouts.Generation,
		MaxRetries:        cfg.Answer.MaxRetries,
	})
	if err != nil {
		return err
	}

	owm, err := weather.NewClient(cfg.Weather)
	if err != nil {
		return err
	}
	var lookup model.WeatherLookup = owm

	var chatLog model.ChatLogRepository
	opts := []server.Option{server.WithEnvironment(core.ParseEnvironment(cfg.Environment))}
	if cfg.Redis.Enabled() {
		rdb, err := cfg.Redis.New()
		if err != nil {
			return err
		}
		defer rdb.Close()
		logx.Info().Msg("Connected to Redis")

		lookup = weather.NewCachedLookup(owm, rdb, cfg.Weather.CacheTTL)
		chatLog = repo.NewRedisChatLogRepository(rdb, cfg.ChatLog.TTL, cfg.ChatLog.MaxEntries)
		opts = append(opts, server.WithChatLog(chatLog))
	}

	weatherAnswerer, err := answer.NewWeather(answer.WeatherConfig{
		Lookup:      lookup,
		Messages:    msgs,
		CallTimeout: cfg.Timeouts.Call,
	})
	if err != nil {
		return err
	}

	comp, err := composer.New(msgs)
	if err != nil {
		return err
	}

	chat, err := session.New(session.Config{
		Classifier: router,
		Book:       book,
		Weather:    weatherAnswerer,
		Composer:   comp,
		Messages:   msgs,
		ChatLog:    chatLog,
		Streaming:  cfg.Answer.Streaming,
	})
	if err != nil {
		return err
	}

	logx.Info().
		Str("environment", cfg.Environment).
		Str("router_model", models.RouterModelName).
		Str("answer_model", models.AnswerModelName).
		Str("index_backend", cfg.Retrieval.Backend).
		Str("locale", cfg.Response.Locale).
		Bool("redis", cfg.Redis.Enabled()).
		Msg("Service configured")

	return server.New(cfg.HTTP, chat, opts...).Start(ctx)
}

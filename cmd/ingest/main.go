package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/bookweather-chat/server/internal/agent/graph/nodes"
	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/core"
	"github.com/bookweather-chat/server/internal/index"
	"github.com/bookweather-chat/server/internal/index/backend"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

type IngestConfig struct {
	Environment   string `envconfig:"ENVIRONMENT" default:"development"`
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL"`
	Retrieval     model.RetrievalConfig
}

var (
	passagesFile = flag.String("passages", "", "Passages JSON file (defaults to INDEX_PASSAGES_FILE)")
	workers      = flag.Int("workers", 4, "Concurrent embedding requests")
	batchSize    = flag.Int("batch", 64, "Records per upsert")
	maxRetries   = flag.Uint64("retries", 3, "Retries per embedding request")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logx.Debug().Msg("No .env file found, using environment variables")
	}
	var cfg IngestConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Fatal().Err(err).Msg("Failed to process env config")
	}
	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})
	if *passagesFile != "" {
		cfg.Retrieval.PassagesFile = *passagesFile
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	n, err := run(ctx, cfg)
	if err != nil {
		logx.Fatal().Err(err).Msg("Ingestion failed")
	}
	logx.Info().Int("passages", n).Str("backend", cfg.Retrieval.Backend).Dur("duration", time.Since(start)).Msg("Passages indexed")
}

func run(ctx context.Context, cfg IngestConfig) (int, error) {
	if cfg.Retrieval.Backend == backend.Memory {
		return 0, errors.New("the memory backend reads the passages file directly; set INDEX_BACKEND to sqlite, qdrant or pgvector")
	}

	passages, err := index.LoadPassages(cfg.Retrieval.PassagesFile)
	if err != nil {
		return 0, err
	}
	if len(passages) == 0 {
		return 0, fmt.Errorf("%s holds no passages", cfg.Retrieval.PassagesFile)
	}

	var client *genai.Client
	if cfg.Retrieval.Embedder == "gemini" {
		client, err = nodes.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiBaseURL)
		if err != nil {
			return 0, err
		}
	}
	embedder, err := backend.NewEmbedder(cfg.Retrieval, client)
	if err != nil {
		return 0, err
	}

	store, err := backend.OpenStore(ctx, cfg.Retrieval)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	records, err := embedAll(ctx, embedder, passages, *workers, *maxRetries)
	if err != nil {
		return 0, err
	}
	if err := backend.Prepare(ctx, store, len(records[0].Embedding)); err != nil {
		return 0, fmt.Errorf("prepare %s store: %w", cfg.Retrieval.Backend, err)
	}

	for start := 0; start < len(records); start += *batchSize {
		end := min(start+*batchSize, len(records))
		if err := store.Upsert(ctx, records[start:end]); err != nil {
			return 0, fmt.Errorf("upsert passages %d-%d: %w", start, end, err)
		}
		logx.Debug().Int("done", end).Int("total", len(records)).Msg("Upserted batch")
	}
	return len(records), nil
}

// embedAll embeds every passage with at most workers requests in flight.
// Records keep the order of passages.
func embedAll(ctx context.Context, embedder model.Embedder, passages []model.Passage, workers int, retries uint64) ([]index.Record, error) {
	records := make([]index.Record, len(passages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i, p := range passages {
		g.Go(func() error {
			var vec []float32
			op := func() error {
				var err error
				vec, err = embedder.Embed(gctx, p.Text)
				return err
			}
			b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), gctx)
			notify := func(err error, wait time.Duration) {
				logx.Warn().Err(err).Str("passage", p.ID).Dur("retry_in", wait).Msg("Embedding failed, retrying")
			}
			if err := backoff.RetryNotify(op, b, notify); err != nil {
				return fmt.Errorf("embed passage %s: %w", p.ID, err)
			}
			records[i] = index.Record{Passage: p, Embedding: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(records[0].Embedding)
	for _, r := range records {
		if len(r.Embedding) != dim {
			return nil, fmt.Errorf("passage %s has dimension %d, want %d", r.Passage.ID, len(r.Embedding), dim)
		}
	}
	return records, nil
}

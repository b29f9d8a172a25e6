// Package app wires configuration into the pipeline and title generator
// used by the binaries.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/SihanChen46/ecom/internal/backend"
	"github.com/SihanChen46/ecom/internal/catalog"
	"github.com/SihanChen46/ecom/internal/config"
	"github.com/SihanChen46/ecom/internal/generate"
	"github.com/SihanChen46/ecom/internal/httpclient"
	"github.com/SihanChen46/ecom/internal/media"
	"github.com/SihanChen46/ecom/internal/output"
	"github.com/SihanChen46/ecom/internal/pipeline"
	"github.com/SihanChen46/ecom/internal/prompt"
	"github.com/SihanChen46/ecom/internal/telegram"
	"github.com/SihanChen46/ecom/internal/title"
)

func NewLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

type Options struct {
	Config config.Config
	Logger *slog.Logger
	// OnResult is forwarded to the generation stage.
	OnResult func(generate.Result)
	// Backend replaces the client built from Config.Model.
	Backend    backend.Client
	HTTPClient *http.Client
}

type deps struct {
	logger     *slog.Logger
	model      backend.Model
	httpClient *http.Client
	client     backend.Client
	loader     *media.Loader
	classifier *catalog.Classifier
}

func build(ctx context.Context, opts Options) (deps, error) {
	cfg := opts.Config
	d := deps{logger: opts.Logger, httpClient: opts.HTTPClient, client: opts.Backend}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	model, err := backend.Lookup(cfg.Model)
	if err != nil {
		return deps{}, err
	}
	d.model = model

	if d.httpClient == nil {
		d.httpClient = httpclient.New(httpclient.Options{
			PreferIPv4: cfg.PreferIPv4,
			Timeout:    cfg.HTTPTimeout,
			Logger:     d.logger,
		})
	}

	if d.client == nil {
		d.client, err = backend.New(ctx, backend.Options{
			Model:      model,
			TextModel:  cfg.TextModel,
			APIKey:     cfg.GeminiAPIKey,
			BaseURL:    cfg.GeminiBaseURL,
			APIVersion: cfg.GeminiAPIVersion,
			HTTPClient: d.httpClient,
			Logger:     d.logger,
		})
		if err != nil {
			return deps{}, fmt.Errorf("backend: %w", err)
		}
	}

	d.loader = media.NewLoader(media.Options{
		CacheTTL:       cfg.ImageCacheTTL,
		MaxInlineBytes: cfg.MaxInlineBytes,
		Logger:         d.logger,
	})
	d.classifier = catalog.New(catalog.Options{Root: cfg.CatalogDir, Logger: d.logger})
	return d, nil
}

// NewTitleGenerator builds the listing title generator from opts.Config.
func NewTitleGenerator(ctx context.Context, opts Options) (*title.Generator, error) {
	d, err := build(ctx, opts)
	if err != nil {
		return nil, err
	}
	return title.New(title.Options{
		Backend:    d.client,
		Loader:     d.loader,
		Classifier: d.classifier,
		PromptsDir: opts.Config.PromptsDir,
		OutputDir:  opts.Config.OutputDir,
		Logger:     d.logger,
	}), nil
}

// NewPipeline builds every stage from opts.Config. The Telegram publisher is
// attached only when a token and chat id are configured.
func NewPipeline(ctx context.Context, opts Options) (*pipeline.Pipeline, error) {
	cfg := opts.Config
	d, err := build(ctx, opts)
	if err != nil {
		return nil, err
	}
	logger, client, loader := d.logger, d.client, d.loader

	var publisher pipeline.Publisher
	if cfg.TelegramEnabled() {
		tg, err := telegram.New(telegram.Options{
			Token:      cfg.TelegramToken,
			ChatID:     cfg.TelegramChatID,
			HTTPClient: d.httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		logger.Info("telegram publishing enabled", "username", tg.Username(), "chat_id", cfg.TelegramChatID)
		publisher = tg
	}

	return pipeline.New(pipeline.Options{
		Classifier: d.classifier,
		Prompts: prompt.NewStage(prompt.Options{
			Backend:    client,
			Store:      prompt.NewStore(cfg.OutputDir),
			Loader:     loader,
			PromptsDir: cfg.PromptsDir,
			Logger:     logger,
		}),
		Generator: generate.New(client, generate.Options{
			Workers:    cfg.MaxWorkers,
			Retries:    cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			Interval:   cfg.RequestInterval,
			Logger:     logger,
			OnResult:   opts.OnResult,
		}),
		Output: output.New(output.Options{
			Root:       cfg.OutputDir,
			TargetRoot: cfg.ManualOutputDir,
			Logger:     logger,
		}),
		Loader:    loader,
		Model:     d.model.ID,
		Publisher: publisher,
		Logger:    logger,
	}), nil
}

package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/anomaly"
	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/extract"
	"github.com/sells-group/invoice-cli/internal/fetcher"
	"github.com/sells-group/invoice-cli/internal/match"
	"github.com/sells-group/invoice-cli/internal/ocr"
	"github.com/sells-group/invoice-cli/internal/pipeline"
	"github.com/sells-group/invoice-cli/internal/resilience"
	"github.com/sells-group/invoice-cli/internal/review"
	"github.com/sells-group/invoice-cli/internal/store"
	"github.com/sells-group/invoice-cli/internal/validate"
	"github.com/sells-group/invoice-cli/pkg/anthropic"
	"github.com/sells-group/invoice-cli/pkg/notion"
)

// appEnv holds the store and the pipeline built from config for the
// process, batch and serve commands.
type appEnv struct {
	Store        store.Store
	Orchestrator *pipeline.Orchestrator
	Desk         *review.Desk
	Notion       *review.NotionQueue // nil when notion is not configured
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "invoices.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore validates cfg for mode, opens the store and migrates it.
// Callers close the returned store.
func openStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv opens the store and builds every stage. Callers should defer
// env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	st, err := openStore(ctx, mode)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Desk: review.NewDesk(st)}

	stages, err := buildStages(ctx, cfg, st)
	if err != nil {
		env.Close()
		return nil, err
	}

	var queue pipeline.ReviewQueue
	if cfg.Notion.Token != "" && cfg.Notion.ReviewDB != "" {
		env.Notion = review.NewNotionQueue(notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit)), cfg.Notion.ReviewDB, env.Desk)
		queue = env.Notion
		zap.L().Info("notion review queue enabled")
	} else {
		zap.L().Debug("notion not configured, review queue disabled")
	}

	env.Orchestrator, err = pipeline.New(stages, st, pipeline.Options{
		Retry:         resilience.FromPipelineConfig(cfg.Pipeline),
		DLQ:           true,
		DLQMaxRetries: cfg.Pipeline.DLQMaxRetries,
		Queue:         queue,
		History:       st,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// buildStages wires the four stages from c. st backs anomaly history and
// the anomaly side-channel.
func buildStages(ctx context.Context, c *config.Config, st store.Store) (pipeline.Stages, error) {
	text, err := ocr.NewExtractor(c.OCR)
	if err != nil {
		return pipeline.Stages{}, eris.Wrap(err, "init ocr")
	}

	var oracle extract.Oracle
	if c.Anthropic.Key != "" {
		breaker := resilience.NewCircuitBreaker(resilience.FromCircuitConfig("anthropic", c.Circuit))
		oracle = extract.NewLLMOracle(anthropic.NewClient(c.Anthropic.Key), c.Anthropic, breaker)
	}

	var index *extract.ErrorIndex
	if c.Extraction.KnownErrors != "" {
		index, err = extract.LoadErrorIndex(ctx, c.Extraction.KnownErrors, text, c.Extraction.SimilarityThreshold)
		if err != nil {
			return pipeline.Stages{}, err
		}
	}

	extractor, err := extract.NewStage(extract.ConfigFrom(c), text, oracle, index)
	if err != nil {
		return pipeline.Stages{}, err
	}

	detector := anomaly.NewDetector(anomaly.ConfigFrom(c), st)
	ref := match.NewTableReference(match.TableConfigFrom(c),
		fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
		fetcher.NewFTPFetcher(fetcher.FTPOptions{}),
	)

	return pipeline.Stages{
		Extractor: extractor,
		Validator: validate.NewStage(validate.ConfigFrom(c), detector),
		Matcher:   match.NewStage(ref, c.Matching.SimilarityThreshold),
		Reviewer:  review.NewStage(c.Review.ConfidenceThreshold),
	}, nil
}

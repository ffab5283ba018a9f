package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/invoice-cli/internal/model"
)

// DefaultPatterns are the document globs picked up by a batch run.
var DefaultPatterns = []string{"*.pdf", "*.png", "*.jpg", "*.jpeg", "*.tiff"}

// Processor runs one document.
type Processor interface {
	Process(ctx context.Context, path string) (*model.PipelineResult, error)
}

// BatchSummary counts the outcomes of a batch run.
type BatchSummary struct {
	Total       int      `json:"total"`
	Completed   int      `json:"completed"`
	Approved    int      `json:"approved"`
	NeedsReview int      `json:"needs_review"`
	Skipped     int      `json:"skipped"`
	Errors      int      `json:"errors"`
	Failed      int      `json:"failed"`
	DurationMs  int64    `json:"duration_ms"`
	Keys        []string `json:"keys,omitempty"`
}

// RunBatch processes paths with at most concurrency documents in flight. A
// failing document never stops the others.
func RunBatch(ctx context.Context, proc Processor, paths []string, concurrency int) BatchSummary {
	if concurrency <= 0 {
		concurrency = 1
	}
	start := time.Now()
	log := zap.L().With(zap.String("component", "pipeline.batch"))
	log.Info("pipeline: batch starting", zap.Int("documents", len(paths)), zap.Int("concurrency", concurrency))

	var completed, approved, needsReview, skipped, errored, failed atomic.Int64
	keys := make([]string, len(paths))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, path := range paths {
		g.Go(func() error {
			if ctx.Err() != nil {
				failed.Add(1)
				return nil
			}
			res, err := proc.Process(ctx, path)
			if err != nil {
				failed.Add(1)
				log.Error("pipeline: batch document failed", zap.String("path", path), zap.Error(err))
				return nil
			}
			keys[i] = res.Key

			switch res.Status {
			case model.StatusCompleted:
				completed.Add(1)
			case model.StatusSkipped:
				skipped.Add(1)
			case model.StatusError:
				errored.Add(1)
			}
			switch res.Invoice.ReviewStatus {
			case model.ReviewApproved:
				approved.Add(1)
			case model.ReviewNeedsReview:
				needsReview.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum := BatchSummary{
		Total:       len(paths),
		Completed:   int(completed.Load()),
		Approved:    int(approved.Load()),
		NeedsReview: int(needsReview.Load()),
		Skipped:     int(skipped.Load()),
		Errors:      int(errored.Load()),
		Failed:      int(failed.Load()),
		DurationMs:  time.Since(start).Milliseconds(),
	}
	for _, k := range keys {
		if k != "" {
			sum.Keys = append(sum.Keys, k)
		}
	}

	log.Info("pipeline: batch complete",
		zap.Int("total", sum.Total),
		zap.Int("completed", sum.Completed),
		zap.Int("needs_review", sum.NeedsReview),
		zap.Int("skipped", sum.Skipped),
		zap.Int("errors", sum.Errors),
		zap.Int("failed", sum.Failed),
		zap.Int64("duration_ms", sum.DurationMs),
	)
	return sum
}

// CollectInputs returns the files in dir matching any of patterns, sorted
// and deduplicated. Matching is case-insensitive on the extension. limit
// caps the result when positive.
func CollectInputs(dir string, patterns []string, limit int) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read input dir %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		for _, p := range patterns {
			ok, err := filepath.Match(strings.ToLower(p), name)
			if err != nil {
				return nil, eris.Wrapf(err, "pipeline: bad pattern %q", p)
			}
			if ok {
				paths = append(paths, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

// Package pipeline runs an invoice document through extraction, validation,
// matching and review, persisting the result after every stage.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/anomaly"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

// Extractor turns a document into an invoice record.
type Extractor interface {
	Extract(ctx context.Context, path string) (*model.InvoiceRecord, error)
}

// Validator checks business rules and anomalies. history is nil when the
// orchestrator has no history source.
type Validator interface {
	Validate(ctx context.Context, rec *model.InvoiceRecord, history anomaly.History) (*model.ValidationResult, error)
}

// Matcher finds the purchase order for an invoice.
type Matcher interface {
	Match(ctx context.Context, rec *model.InvoiceRecord) (*model.MatchResult, error)
}

// Reviewer routes an invoice to approval or human review.
type Reviewer interface {
	Review(ctx context.Context, rec *model.InvoiceRecord, vr *model.ValidationResult) (*model.ReviewDecision, error)
}

// ReviewQueue receives results that need a human.
type ReviewQueue interface {
	Enqueue(ctx context.Context, res *model.PipelineResult) error
}

// ResultStore is the persistence the orchestrator writes to.
type ResultStore interface {
	UpsertInvoice(ctx context.Context, res *model.PipelineResult) error
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

// Stages bundles the four pipeline stages.
type Stages struct {
	Extractor Extractor
	Validator Validator
	Matcher   Matcher
	Reviewer  Reviewer
}

// Options tunes an Orchestrator.
type Options struct {
	// Retry is applied to every stage call and every store write.
	Retry resilience.RetryConfig
	// DLQ enables dead-letter entries for runs that end in error.
	DLQ bool
	// DLQMaxRetries bounds reprocessing of a dead-letter entry. Default 3.
	DLQMaxRetries int
	// Queue, when set, receives every needs_review completion.
	Queue ReviewQueue
	// History, when set, is read before the run's first write so validation
	// sees records left by earlier runs under the same invoice number.
	History anomaly.History
}

// Orchestrator runs the stages of one invoice strictly in order.
type Orchestrator struct {
	stages Stages
	store  ResultStore
	opts   Options
	now    func() time.Time
	log    *zap.Logger
}

// New creates an Orchestrator.
func New(stages Stages, st ResultStore, opts Options) (*Orchestrator, error) {
	if stages.Extractor == nil || stages.Validator == nil || stages.Matcher == nil || stages.Reviewer == nil {
		return nil, eris.New("pipeline: all four stages are required")
	}
	if st == nil {
		return nil, eris.New("pipeline: store is required")
	}
	if opts.DLQMaxRetries <= 0 {
		opts.DLQMaxRetries = 3
	}
	return &Orchestrator{
		stages: stages,
		store:  st,
		opts:   opts,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "pipeline")),
	}, nil
}

// Process runs the document at path through every stage. Stage failures
// that survive retries are returned as an error result, not an error; the
// error return is reserved for cancellation and a failed final write.
func (o *Orchestrator) Process(ctx context.Context, path string) (*model.PipelineResult, error) {
	return o.process(ctx, path, o.opts.DLQ)
}

func (o *Orchestrator) process(ctx context.Context, path string, deadLetter bool) (*model.PipelineResult, error) {
	res := &model.PipelineResult{RunID: uuid.NewString()}
	log := o.log.With(zap.String("path", path), zap.String("run_id", res.RunID))
	log.Info("pipeline: starting")
	start := time.Now()

	// Extraction
	rec, err := runStage(ctx, o, res, model.StageExtraction, func(ctx context.Context) (*model.InvoiceRecord, error) {
		return o.stages.Extractor.Extract(ctx, path)
	})
	if err != nil {
		res.Invoice = *model.FallbackRecord(path, model.SentinelError, model.SentinelErrorUpper, "",
			"Pipeline error: "+err.Error(), model.FailurePipeline, 0, o.now())
		return o.fail(ctx, log, res, model.StageExtraction, err, deadLetter)
	}
	rec.RunID = res.RunID
	if rec.DocumentPath == "" {
		rec.DocumentPath = path
	}
	res.Invoice = *rec
	res.Status = model.StatusExtracted

	if rec.ShortCircuits() {
		res.Status = model.StatusSkipped
		log.Warn("pipeline: document skipped", zap.String("failure", string(rec.Failure)))
		return o.finish(ctx, log, res, start)
	}
	history := o.snapshotHistory(ctx, log, rec)
	o.persist(ctx, log, res)

	// Validation
	vr, err := runStage(ctx, o, res, model.StageValidation, func(ctx context.Context) (*model.ValidationResult, error) {
		return o.stages.Validator.Validate(ctx, &res.Invoice, history)
	})
	if err != nil {
		return o.fail(ctx, log, res, model.StageValidation, err, deadLetter)
	}
	res.Validation = vr
	res.Status = model.StatusValidated
	o.persist(ctx, log, res)

	// Matching
	if vr.Valid() {
		mr, err := runStage(ctx, o, res, model.StageMatching, func(ctx context.Context) (*model.MatchResult, error) {
			return o.stages.Matcher.Match(ctx, &res.Invoice)
		})
		if err != nil {
			return o.fail(ctx, log, res, model.StageMatching, err, deadLetter)
		}
		res.Matching = mr
	} else {
		res.Matching = model.SkippedMatch()
	}
	res.Status = model.StatusMatched
	o.persist(ctx, log, res)

	// Review
	decision, err := runStage(ctx, o, res, model.StageReview, func(ctx context.Context) (*model.ReviewDecision, error) {
		return o.stages.Reviewer.Review(ctx, &res.Invoice, res.Validation)
	})
	if err != nil {
		return o.fail(ctx, log, res, model.StageReview, err, deadLetter)
	}
	res.Review = decision
	res.Invoice.ReviewStatus = decision.Status
	res.Status = model.StatusCompleted

	out, err := o.finish(ctx, log, res, start)
	if err == nil && o.opts.Queue != nil && res.Invoice.ReviewStatus == model.ReviewNeedsReview {
		if qErr := o.opts.Queue.Enqueue(ctx, res); qErr != nil {
			log.Warn("pipeline: review queue failed", zap.Error(qErr))
		}
	}
	return out, err
}

// runStage calls fn under the retry policy and records the stage time,
// retries included.
func runStage[T any](ctx context.Context, o *Orchestrator, res *model.PipelineResult, stage string, fn func(ctx context.Context) (T, error)) (T, error) {
	rc := o.opts.Retry
	if rc.OnRetry == nil {
		rc.OnRetry = resilience.RetryLogger("pipeline", stage)
	}
	start := time.Now()
	val, err := resilience.DoVal(ctx, rc, fn)
	elapsed := time.Since(start)
	res.Timings.Set(stage, elapsed)

	if err != nil {
		o.log.Error("pipeline: stage failed",
			zap.String("stage", stage),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
			zap.Error(err),
		)
		return val, eris.Wrapf(err, "pipeline: %s", stage)
	}
	o.log.Debug("pipeline: stage complete",
		zap.String("stage", stage),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	)
	return val, nil
}

// fail records an exhausted stage and returns the error result. On
// cancellation a run that got past extraction still leaves an error record,
// but no dead-letter entry, and the cancellation is returned.
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, res *model.PipelineResult, stage string, stageErr error, deadLetter bool) (*model.PipelineResult, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if stage != model.StageExtraction {
			markFailed(res, stage, stageErr)
			if err := o.write(context.WithoutCancel(ctx), res); err != nil {
				log.Warn("pipeline: persist cancelled run failed", zap.Error(err))
			}
		}
		return res, eris.Wrap(ctxErr, "pipeline: cancelled")
	}
	markFailed(res, stage, stageErr)

	if err := o.write(ctx, res); err != nil {
		return res, eris.Wrap(err, "pipeline: persist error result")
	}
	if deadLetter {
		entry := resilience.NewDLQEntry(res.Invoice.DocumentPath, res.Key, stage, stageErr, o.opts.DLQMaxRetries, o.now().UTC())
		if err := o.store.EnqueueDLQ(ctx, entry); err != nil {
			log.Error("pipeline: dead-letter enqueue failed", zap.Error(err))
		}
	}
	log.Error("pipeline: run failed",
		zap.String("failed_stage", stage),
		zap.Float64("total_time", res.Timings.Total),
		zap.Error(stageErr),
	)
	return res, nil
}

func markFailed(res *model.PipelineResult, stage string, err error) {
	res.Status = model.StatusError
	res.FailedStage = stage
	res.Error = err.Error()
	res.Invoice.ReviewStatus = model.ReviewError
}

// snapshotHistory reads what the store holds for the record's number before
// this run replaces it. A failed lookup is handed on so the duplicate check
// reports it.
func (o *Orchestrator) snapshotHistory(ctx context.Context, log *zap.Logger, rec *model.InvoiceRecord) anomaly.History {
	if o.opts.History == nil {
		return nil
	}
	number := strings.TrimSpace(rec.InvoiceNumber)
	if number == "" || rec.Failure != model.FailureNone || model.IsSentinel(number) {
		return priorRuns{number: number}
	}

	rc := o.opts.Retry
	rc.OnRetry = resilience.RetryLogger("pipeline", "history")
	records, err := resilience.DoVal(ctx, rc, func(ctx context.Context) ([]model.PipelineResult, error) {
		return o.opts.History.FindByInvoiceNumber(ctx, number)
	})
	if err != nil {
		log.Warn("pipeline: history lookup failed", zap.String("invoice_number", number), zap.Error(err))
	}
	return priorRuns{number: number, records: records, err: err}
}

// priorRuns is a fixed view of the store taken before the run's first write.
type priorRuns struct {
	number  string
	records []model.PipelineResult
	err     error
}

func (p priorRuns) FindByInvoiceNumber(_ context.Context, number string) ([]model.PipelineResult, error) {
	if strings.TrimSpace(number) != p.number {
		return nil, nil
	}
	return p.records, p.err
}

func (o *Orchestrator) finish(ctx context.Context, log *zap.Logger, res *model.PipelineResult, start time.Time) (*model.PipelineResult, error) {
	if err := o.write(ctx, res); err != nil {
		return res, eris.Wrap(err, "pipeline: persist result")
	}
	log.Info("pipeline: complete",
		zap.String("key", res.Key),
		zap.String("status", string(res.Status)),
		zap.String("review_status", string(res.Invoice.ReviewStatus)),
		zap.Float64("confidence", res.Invoice.Confidence),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

// persist is an intermediate write; a failure is logged and the run goes on.
func (o *Orchestrator) persist(ctx context.Context, log *zap.Logger, res *model.PipelineResult) {
	if err := o.write(ctx, res); err != nil {
		log.Warn("pipeline: persist failed", zap.String("status", string(res.Status)), zap.Error(err))
	}
}

func (o *Orchestrator) write(ctx context.Context, res *model.PipelineResult) error {
	rc := o.opts.Retry
	rc.OnRetry = resilience.RetryLogger("pipeline", "persist")
	return resilience.Do(ctx, rc, func(ctx context.Context) error {
		return o.store.UpsertInvoice(ctx, res)
	})
}

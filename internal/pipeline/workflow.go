package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/scorito-extract/internal/images"
	"github.com/sells-group/scorito-extract/internal/model"
)

// Default workflow limits.
const (
	DefaultThreshold  = 8
	DefaultMaxRetries = 3
)

const reasonNoPlayers = "No players extracted"

// RecordExtractor is the extraction step as seen by the workflow.
type RecordExtractor interface {
	Extract(ctx context.Context, img *images.Image) ([]model.PlayerRecord, model.TokenUsage, error)
}

// RecordValidator is the validation step as seen by the workflow.
type RecordValidator interface {
	Validate(ctx context.Context, img *images.Image, records []model.PlayerRecord) (model.ValidationScore, model.TokenUsage, error)
}

// Workflow runs the extract, validate and retry loop for one image.
type Workflow struct {
	Extractor RecordExtractor
	Validator RecordValidator

	Threshold  int
	MaxRetries int
	// CallTimeout bounds each backend call; 0 disables it.
	CallTimeout time.Duration
	// KeepPartial reports the last low-scoring record set of an exhausted
	// image on its result.
	KeepPartial bool
}

func (w *Workflow) maxRetries() int {
	if w.MaxRetries < 1 {
		return DefaultMaxRetries
	}
	return w.MaxRetries
}

func (w *Workflow) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, w.CallTimeout)
}

// Run drives img to Accepted or Exhausted. Every attempt re-extracts from
// scratch; records from a rejected attempt are never merged into a later one.
// A panic in a step ends the image as Exhausted.
func (w *Workflow) Run(ctx context.Context, img *images.Image) (res model.ImageResult) {
	start := time.Now()
	res = model.ImageResult{Image: img.Path, State: model.StatePending}
	log := zap.L().With(zap.String("image", img.Path))

	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("panic: %v", r)
			log.Error("pipeline: step panicked", zap.Int("attempt", res.Attempts), zap.String("reason", reason))
			res.Players = nil
			exhaust(&res, reason)
		}
		res.Duration = time.Since(start)
	}()

	limit := w.maxRetries()
	allEmpty := true
	var lastFailure string
	var partial []model.PlayerRecord

	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			log.Warn("pipeline: cancelled", zap.Int("attempt", attempt), zap.Error(err))
			exhaust(&res, err.Error())
			return res
		}

		res.Attempts = attempt
		res.State = model.StateExtracting
		alog := log.With(zap.Int("attempt", attempt))

		records, score, outcome := w.attempt(ctx, img, attempt, &res.Usage)
		res.Trace = append(res.Trace, outcome)

		switch outcome.Kind {
		case model.OutcomeSuccess:
			res.State = model.StateAccepted
			res.Players = records
			res.Score = &score
			alog.Info("pipeline: accepted",
				zap.Stringer("state", res.State),
				zap.Int("score", score.Score),
				zap.Int("players", len(records)),
			)
			return res

		case model.OutcomeNoExtraction:
			lastFailure = "no players extracted"
			if outcome.Reason != "" {
				lastFailure = outcome.Reason
			}

		case model.OutcomeLowScore:
			allEmpty = false
			partial = records
			s := score
			res.Score = &s
			lastFailure = fmt.Sprintf("score %d below threshold %d: %s", score.Score, w.Threshold, score.Justification)
		}

		res.State = model.StateRetrying
		alog.Warn("pipeline: attempt rejected",
			zap.Stringer("state", res.State),
			zap.String("outcome", string(outcome.Kind)),
			zap.String("detail", lastFailure),
		)
	}

	reason := reasonNoPlayers
	if !allEmpty {
		reason = fmt.Sprintf("failed after %d attempts: %s", res.Attempts, lastFailure)
	}
	if w.KeepPartial {
		res.Partial = partial
	}
	exhaust(&res, reason)
	log.Warn("pipeline: retries exhausted",
		zap.Stringer("state", res.State),
		zap.Int("attempts", res.Attempts),
		zap.String("reason", reason),
	)
	return res
}

// attempt runs one extract and validate round. Validation failures count as
// a zero score so the attempt is retried like any other low score.
func (w *Workflow) attempt(ctx context.Context, img *images.Image, attempt int, usage *model.TokenUsage) ([]model.PlayerRecord, model.ValidationScore, model.ExtractionOutcome) {
	callCtx, cancel := w.callContext(ctx)
	records, u, err := w.Extractor.Extract(callCtx, img)
	cancel()
	usage.Add(u)
	if err != nil {
		return nil, model.ValidationScore{}, model.NoExtraction(attempt, err.Error())
	}
	if len(records) == 0 {
		return nil, model.ValidationScore{}, model.NoExtraction(attempt, "")
	}

	callCtx, cancel = w.callContext(ctx)
	score, u, err := w.Validator.Validate(callCtx, img, records)
	cancel()
	usage.Add(u)
	if err != nil {
		score = model.ValidationScore{Score: 0, Justification: "validation failed: " + err.Error()}
		return records, score, model.LowScore(attempt, records, score)
	}

	if score.Acceptable(w.Threshold) {
		return records, score, model.Success(attempt, records, score)
	}
	return records, score, model.LowScore(attempt, records, score)
}

func exhaust(res *model.ImageResult, reason string) {
	res.State = model.StateExhausted
	res.Reason = reason
	res.Trace = append(res.Trace, model.RetriesExhausted(res.Attempts, reason))
}

package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/scorito-extract/internal/config"
	"github.com/sells-group/scorito-extract/internal/images"
	"github.com/sells-group/scorito-extract/internal/metrics"
	"github.com/sells-group/scorito-extract/internal/model"
	"github.com/sells-group/scorito-extract/internal/resilience"
)

// Sink persists finished player records, keyed by id.
type Sink interface {
	UpsertPlayer(ctx context.Context, p model.PlayerRecord) error
}

// RunRecorder keeps the audit trail of a batch.
type RunRecorder interface {
	CreateRun(ctx context.Context, dir string) (*model.Run, error)
	RecordImage(ctx context.Context, runID string, img model.ImageResult) error
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error
}

// Driver runs every image of a directory through the workflow, one at a time.
type Driver struct {
	Workflow  *Workflow
	Finalizer PlayerFinalizer // nil skips finalization
	Sink      Sink            // nil disables storing
	Runs      RunRecorder     // nil disables the audit trail
	Metrics   *metrics.Recorder

	Patterns []string
	// Delay is the pause between the end of one image and the start of the next.
	Delay       time.Duration
	KeepPartial bool

	// SinkGuard retries transient sink failures.
	SinkGuard *resilience.Guard
	// Load reads an image file; images.Load when nil.
	Load func(path string) (*images.Image, error)
}

// Run processes dir and reports what happened. It never fails: a discovery
// error is logged and reported on the result, and cancellation stops the
// batch after the current image.
func (d *Driver) Run(ctx context.Context, dir string) *model.BatchResult {
	start := time.Now()
	log := zap.L().With(zap.String("dir", dir))
	res := &model.BatchResult{Dir: dir, Players: []model.PlayerRecord{}}

	// Audit and sink writes outlive cancellation so finished work is kept.
	persist := context.WithoutCancel(ctx)

	runID := d.startRun(ctx, dir)
	res.RunID = runID
	defer func() {
		res.Duration = time.Since(start)
		d.completeRun(persist, res)
	}()

	patterns := d.Patterns
	if len(patterns) == 0 {
		patterns = config.DefaultPatterns
	}
	paths, err := images.Discover(dir, patterns)
	if err != nil {
		log.Error("pipeline: image discovery failed", zap.Error(err))
		res.DiscoveryError = err.Error()
		return res
	}
	log.Info("pipeline: batch started", zap.Int("images", len(paths)), zap.String("run_id", runID))

	for i, path := range paths {
		delay := d.Delay
		if i == 0 {
			delay = 0
		}
		if err := pause(ctx, delay); err != nil {
			log.Warn("pipeline: batch cancelled", zap.Int("processed", i), zap.Error(err))
			res.Cancelled = true
			break
		}

		img := d.processImage(ctx, path)
		res.Images = append(res.Images, img)
		res.Usage.Add(img.Usage)
		d.Metrics.RecordImage(img.State.String(), img.Attempts)

		switch {
		case img.Accepted():
			res.Players = append(res.Players, img.Players...)
			d.Metrics.RecordPlayers(len(img.Players))
		case d.KeepPartial && len(img.Partial) > 0:
			res.Players = append(res.Players, img.Partial...)
			d.Metrics.RecordPlayers(len(img.Partial))
		}

		if runID != "" {
			if err := d.Runs.RecordImage(persist, runID, img); err != nil {
				log.Warn("pipeline: record image failed", zap.String("image", path), zap.Error(err))
			}
		}

		if ctx.Err() != nil {
			log.Warn("pipeline: batch cancelled", zap.Int("processed", i+1), zap.Error(ctx.Err()))
			res.Cancelled = true
			break
		}
	}

	if d.Sink != nil {
		res.Players = AssignIDs(res.Players)
		d.store(persist, res)
	}

	accepted, exhausted := res.Counts()
	log.Info("pipeline: batch finished",
		zap.Int("images", len(res.Images)),
		zap.Int("accepted", accepted),
		zap.Int("exhausted", exhausted),
		zap.Int("players", len(res.Players)),
		zap.Int("stored", res.Stored),
		zap.Int("store_failures", res.StoreFailures),
		zap.Float64("estimated_cost_usd", res.Usage.Cost),
	)
	return res
}

// pause blocks for delay or until ctx is done. The limiter starts with one
// token; draining it makes Wait cover the whole interval.
func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	lim := rate.NewLimiter(rate.Every(delay), 1)
	lim.Allow()
	return lim.Wait(ctx)
}

func (d *Driver) processImage(ctx context.Context, path string) model.ImageResult {
	load := d.Load
	if load == nil {
		load = images.Load
	}
	img, err := load(path)
	if err != nil {
		zap.L().Warn("pipeline: image unreadable", zap.String("image", path), zap.Error(err))
		res := model.ImageResult{Image: path}
		exhaust(&res, err.Error())
		return res
	}

	res := d.Workflow.Run(ctx, img)
	if !res.Accepted() || d.Finalizer == nil {
		return res
	}

	started := time.Now()
	final, usage := d.Finalizer.Finalize(ctx, res.Players)
	res.Usage.Add(usage)
	res.Duration += time.Since(started)
	res.Finalized = !reflect.DeepEqual(final, res.Players)
	res.Players = final
	return res
}

// AssignIDs returns a copy of records where every record without an id gets
// "{position}{index}", index being its place in records. A blank position
// becomes "unknown".
func AssignIDs(records []model.PlayerRecord) []model.PlayerRecord {
	out := model.ClonePlayers(records)
	for i := range out {
		if out[i].ID != "" {
			continue
		}
		pos := out[i].Position
		if pos == "" {
			pos = "unknown"
		}
		out[i].ID = fmt.Sprintf("%s%d", pos, i)
	}
	return out
}

func (d *Driver) store(ctx context.Context, res *model.BatchResult) {
	for _, p := range res.Players {
		err := d.SinkGuard.Do(ctx, func(ctx context.Context) error {
			return d.Sink.UpsertPlayer(ctx, p)
		})
		if err != nil {
			zap.L().Warn("pipeline: store player failed", zap.String("id", p.ID), zap.Error(err))
			res.StoreFailures++
			d.Metrics.RecordStoreFailure()
			continue
		}
		res.Stored++
	}
}

func (d *Driver) startRun(ctx context.Context, dir string) string {
	if d.Runs == nil {
		return ""
	}
	run, err := d.Runs.CreateRun(ctx, dir)
	if err != nil {
		zap.L().Warn("pipeline: create run failed, continuing without audit", zap.Error(err))
		return ""
	}
	return run.ID
}

func (d *Driver) completeRun(ctx context.Context, res *model.BatchResult) {
	if res.RunID == "" {
		return
	}
	status := model.RunStatusComplete
	summary := res.Summarize()
	switch {
	case res.DiscoveryError != "":
		status = model.RunStatusFailed
	case res.Cancelled:
		status = model.RunStatusFailed
		summary.Error = "cancelled"
	}
	if err := d.Runs.CompleteRun(ctx, res.RunID, status, summary); err != nil {
		zap.L().Warn("pipeline: complete run failed", zap.String("run_id", res.RunID), zap.Error(err))
	}
}

package pipeline

import (
	"github.com/sells-group/scorito-extract/internal/assets"
	"github.com/sells-group/scorito-extract/internal/config"
	"github.com/sells-group/scorito-extract/internal/cost"
	"github.com/sells-group/scorito-extract/internal/metrics"
	"github.com/sells-group/scorito-extract/internal/resilience"
)

// Default attempts for sink writes.
const sinkRetryAttempts = 3

// NewDriver wires the steps from configuration. Storage is attached by the
// caller through Driver.Sink and Driver.Runs.
func NewDriver(cfg *config.Config, set *assets.Set, sess *Session, rec *metrics.Recorder) (*Driver, error) {
	costs := cost.NewCalculator(cost.RatesFromConfig(cfg.Pricing))

	extractor, err := NewExtractor(sess.AI, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, set, costs, rec)
	if err != nil {
		return nil, err
	}
	validator := NewValidator(sess.AI, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, set, costs, rec)

	d := &Driver{
		Workflow: &Workflow{
			Extractor:   extractor,
			Validator:   validator,
			Threshold:   cfg.Workflow.Threshold,
			MaxRetries:  cfg.Workflow.MaxRetries,
			CallTimeout: cfg.Workflow.CallTimeout(),
			KeepPartial: cfg.Workflow.KeepPartial,
		},
		Metrics:     rec,
		Patterns:    cfg.Workflow.Patterns,
		Delay:       cfg.Workflow.ImageDelay(),
		KeepPartial: cfg.Workflow.KeepPartial,
		SinkGuard:   resilience.NewGuard("store", "upsert_player", sinkRetryAttempts, 0),
	}

	if cfg.Finalize.Enabled {
		d.Finalizer = NewFinalizer(sess.Search, set,
			WithFinalizeMode(cfg.Finalize.Mode),
			WithGuard(resilience.NewGuard("perplexity", "finalize", cfg.Finalize.RetryAttempts, cfg.Finalize.BreakerThreshold)),
			WithFinalizeCosts(costs),
			WithFinalizeMetrics(rec),
			WithFinalizeTimeout(cfg.Workflow.CallTimeout()),
		)
	}
	return d, nil
}

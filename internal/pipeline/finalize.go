package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scorito-extract/internal/assets"
	"github.com/sells-group/scorito-extract/internal/config"
	"github.com/sells-group/scorito-extract/internal/cost"
	"github.com/sells-group/scorito-extract/internal/metrics"
	"github.com/sells-group/scorito-extract/internal/model"
	"github.com/sells-group/scorito-extract/internal/resilience"
	"github.com/sells-group/scorito-extract/pkg/perplexity"
)

const finalizeSystem = "You are a fantasy football data assistant. Use web search to check player details and answer with JSON only."

// PlayerFinalizer is the finalization step as seen by the batch driver.
type PlayerFinalizer interface {
	Finalize(ctx context.Context, records []model.PlayerRecord) ([]model.PlayerRecord, model.TokenUsage)
}

// Finalizer corrects accepted records against a search-grounded backend. It
// never fails: whenever the backend or its answer is unusable the input
// records come back unchanged.
type Finalizer struct {
	search       perplexity.Client
	mode         string
	batchPrompt  *assets.Template
	playerPrompt *assets.Template
	guard        *resilience.Guard
	costs        *cost.Calculator
	metrics      *metrics.Recorder
	timeout      time.Duration
}

// FinalizerOption configures a Finalizer.
type FinalizerOption func(*Finalizer)

// WithFinalizeMode selects config.FinalizeBatch or config.FinalizeIndividual.
func WithFinalizeMode(mode string) FinalizerOption {
	return func(f *Finalizer) {
		if mode != "" {
			f.mode = mode
		}
	}
}

// WithGuard sets the retry and circuit breaker policy for search calls.
func WithGuard(g *resilience.Guard) FinalizerOption {
	return func(f *Finalizer) { f.guard = g }
}

// WithFinalizeCosts attributes search usage to cost.
func WithFinalizeCosts(c *cost.Calculator) FinalizerOption {
	return func(f *Finalizer) { f.costs = c }
}

// WithFinalizeMetrics records call latency.
func WithFinalizeMetrics(r *metrics.Recorder) FinalizerOption {
	return func(f *Finalizer) { f.metrics = r }
}

// WithFinalizeTimeout bounds each search call; 0 disables it.
func WithFinalizeTimeout(d time.Duration) FinalizerOption {
	return func(f *Finalizer) { f.timeout = d }
}

// NewFinalizer builds the finalization step.
func NewFinalizer(search perplexity.Client, set *assets.Set, opts ...FinalizerOption) *Finalizer {
	f := &Finalizer{
		search:       search,
		mode:         config.FinalizeBatch,
		batchPrompt:  set.Finalize,
		playerPrompt: set.FinalizePlayer,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize returns the corrected records, or records itself when
// finalization could not produce anything better.
func (f *Finalizer) Finalize(ctx context.Context, records []model.PlayerRecord) ([]model.PlayerRecord, model.TokenUsage) {
	if len(records) == 0 {
		return records, model.TokenUsage{}
	}
	if f.guard.Open() {
		zap.L().Warn("pipeline: search backend circuit open, keeping extracted records",
			zap.Int("players", len(records)), zap.Int("failures", f.guard.Failures()))
		return records, model.TokenUsage{}
	}
	if f.mode == config.FinalizeIndividual {
		return f.finalizeEach(ctx, records)
	}
	return f.finalizeBatch(ctx, records)
}

func (f *Finalizer) finalizeBatch(ctx context.Context, records []model.PlayerRecord) ([]model.PlayerRecord, model.TokenUsage) {
	log := zap.L().With(zap.Int("players", len(records)))

	extracted, err := playersJSON(records)
	if err != nil {
		log.Warn("pipeline: finalize skipped", zap.Error(err))
		return records, model.TokenUsage{}
	}
	prompt, err := f.batchPrompt.Render(map[string]string{assets.KeyExtractedPlayers: extracted})
	if err != nil {
		log.Warn("pipeline: finalize skipped", zap.Error(err))
		return records, model.TokenUsage{}
	}

	text, usage, err := f.ask(ctx, prompt)
	if err != nil {
		log.Warn("pipeline: finalize call failed, keeping extracted records", zap.Error(err))
		return records, usage
	}

	body, ok := cleanJSON(text)
	if !ok {
		log.Warn("pipeline: finalize answer has no JSON object, keeping extracted records")
		return records, usage
	}
	out, err := decodePlayers([]byte(body))
	if err != nil {
		log.Warn("pipeline: finalize answer rejected, keeping extracted records", zap.Error(err))
		return records, usage
	}
	if len(out) == 0 {
		log.Warn("pipeline: finalize answer has no players, keeping extracted records")
		return records, usage
	}
	log.Info("pipeline: finalized", zap.Int("finalized_players", len(out)))
	return out, usage
}

// finalizeEach asks about one player at a time and overwrites only the
// fields the answer contains.
func (f *Finalizer) finalizeEach(ctx context.Context, records []model.PlayerRecord) ([]model.PlayerRecord, model.TokenUsage) {
	var total model.TokenUsage
	out := model.ClonePlayers(records)

	for i := range out {
		if ctx.Err() != nil {
			break
		}
		log := zap.L().With(zap.String("player", out[i].Name))

		fields := out[i].Fields()
		delete(fields, "id")
		prompt, err := f.playerPrompt.Render(fields)
		if err != nil {
			log.Warn("pipeline: finalize player skipped", zap.Error(err))
			continue
		}

		text, usage, err := f.ask(ctx, prompt)
		total.Add(usage)
		if err != nil {
			log.Warn("pipeline: finalize player call failed", zap.Error(err))
			continue
		}
		body, ok := cleanJSON(text)
		if !ok {
			log.Warn("pipeline: finalize player answer has no JSON object")
			continue
		}
		obj, err := decodeObject([]byte(body))
		if err != nil {
			log.Warn("pipeline: finalize player answer rejected", zap.Error(err))
			continue
		}
		applyFields(&out[i], obj)
	}
	return out, total
}

// ask sends one prompt in a fresh conversation and returns the answer text.
func (f *Finalizer) ask(ctx context.Context, prompt string) (string, model.TokenUsage, error) {
	if f.search == nil {
		return "", model.TokenUsage{}, eris.New("pipeline: no search backend")
	}
	req := perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: finalizeSystem},
			{Role: "user", Content: prompt},
		},
	}

	resp, err := resilience.Call(ctx, f.guard, func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		if f.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, f.timeout)
			defer cancel()
		}
		start := time.Now()
		resp, err := f.search.ChatCompletion(ctx, req)
		f.metrics.ObserveCall("perplexity", "finalize", time.Since(start))
		return resp, err
	})
	if err != nil {
		return "", model.TokenUsage{}, err
	}

	usage := model.TokenUsage{
		InputTokens:   resp.Usage.PromptTokens,
		OutputTokens:  resp.Usage.CompletionTokens,
		SearchQueries: resp.Usage.NumSearchQueries,
	}
	if f.costs != nil {
		usage.Cost = f.costs.Perplexity(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	zap.L().Info("cost attribution",
		zap.String("model", resp.Model),
		zap.String("step", "finalize"),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Int("search_queries", usage.SearchQueries),
		zap.Float64("estimated_cost_usd", usage.Cost),
	)
	return resp.Content(), usage, nil
}

package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scorito-extract/internal/assets"
	"github.com/sells-group/scorito-extract/internal/cost"
	"github.com/sells-group/scorito-extract/internal/images"
	"github.com/sells-group/scorito-extract/internal/metrics"
	"github.com/sells-group/scorito-extract/internal/model"
	"github.com/sells-group/scorito-extract/pkg/anthropic"
)

const (
	extractTool  = "record_players"
	validateTool = "record_validation"

	extractInstruction = "Extract every player visible in this screenshot."
)

// visionCaller is the shared plumbing of the extraction and validation
// steps: one forced tool call against the reasoning backend.
type visionCaller struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	costs     *cost.Calculator
	metrics   *metrics.Recorder
}

func schemaTool(name, description string, s *assets.Schema) anthropic.Tool {
	return anthropic.Tool{
		Name:        name,
		Description: description,
		Properties:  s.Properties,
		Required:    s.Required,
		Extra:       s.Extra,
	}
}

// call sends req and returns the input of the forced tool. A model that
// answers in prose is tolerated as long as the text holds a JSON object.
func (c *visionCaller) call(ctx context.Context, step string, req anthropic.MessageRequest) (json.RawMessage, model.TokenUsage, error) {
	req.Model = c.model
	req.MaxTokens = c.maxTokens

	start := time.Now()
	resp, err := c.client.CreateMessage(ctx, req)
	c.metrics.ObserveCall("anthropic", step, time.Since(start))
	if err != nil {
		return nil, model.TokenUsage{}, err
	}

	resp.Usage.LogCost(c.model, step)
	usage := model.TokenUsage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	if c.costs != nil {
		usage.Cost = c.costs.Claude(c.model,
			int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens),
			int(resp.Usage.CacheCreationInputTokens), int(resp.Usage.CacheReadInputTokens))
	}

	if raw, ok := resp.ToolInput(req.ToolChoice); ok {
		return raw, usage, nil
	}
	if text, ok := cleanJSON(resp.Text()); ok {
		return json.RawMessage(text), usage, nil
	}
	return nil, usage, eris.Errorf("no %s tool call in response (stop reason %q)", req.ToolChoice, resp.StopReason)
}

// Extractor reads player records out of a screenshot.
type Extractor struct {
	visionCaller
	prompt string
	schema *assets.Schema
}

// NewExtractor builds the extraction step. The prompt is sent as a cached
// system block and the schema constrains the tool input.
func NewExtractor(client anthropic.Client, modelID string, maxTokens int64, set *assets.Set, costs *cost.Calculator, rec *metrics.Recorder) (*Extractor, error) {
	prompt, err := set.Extraction.Render(nil)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: render extraction prompt")
	}
	return &Extractor{
		visionCaller: visionCaller{client: client, model: modelID, maxTokens: maxTokens, costs: costs, metrics: rec},
		prompt:       prompt,
		schema:       set.Players,
	}, nil
}

// Extract sends img to the backend and decodes the players it reports. An
// empty list is not an error.
func (e *Extractor) Extract(ctx context.Context, img *images.Image) ([]model.PlayerRecord, model.TokenUsage, error) {
	req := anthropic.MessageRequest{
		System: anthropic.CachedSystem(e.prompt),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: extractInstruction,
			Images:  []anthropic.Image{{MediaType: img.MediaType, Data: img.Data}},
		}},
		Tools:      []anthropic.Tool{schemaTool(extractTool, "Record the players visible in the screenshot.", e.schema)},
		ToolChoice: extractTool,
	}

	raw, usage, err := e.call(ctx, "extract", req)
	if err != nil {
		zap.L().Warn("pipeline: extraction call failed", zap.String("image", img.Path), zap.Error(err))
		return nil, usage, eris.Wrapf(err, "pipeline: extract %s", img.Path)
	}
	records, err := decodePlayers(raw)
	if err != nil {
		zap.L().Warn("pipeline: extraction payload rejected", zap.String("image", img.Path), zap.Error(err))
		return nil, usage, eris.Wrapf(err, "pipeline: extract %s", img.Path)
	}
	return records, usage, nil
}

package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scorito-extract/internal/assets"
	"github.com/sells-group/scorito-extract/internal/cost"
	"github.com/sells-group/scorito-extract/internal/images"
	"github.com/sells-group/scorito-extract/internal/metrics"
	"github.com/sells-group/scorito-extract/internal/model"
	"github.com/sells-group/scorito-extract/pkg/anthropic"
)

// Validator scores an extracted record set against its screenshot.
type Validator struct {
	visionCaller
	template *assets.Template
	schema   *assets.Schema
}

// NewValidator builds the validation step.
func NewValidator(client anthropic.Client, modelID string, maxTokens int64, set *assets.Set, costs *cost.Calculator, rec *metrics.Recorder) *Validator {
	return &Validator{
		visionCaller: visionCaller{client: client, model: modelID, maxTokens: maxTokens, costs: costs, metrics: rec},
		template:     set.Validation,
		schema:       set.Validate,
	}
}

// Validate scores the whole record set of one attempt. The score is returned
// as the backend gave it, without clamping.
func (v *Validator) Validate(ctx context.Context, img *images.Image, records []model.PlayerRecord) (model.ValidationScore, model.TokenUsage, error) {
	extracted, err := playersJSON(records)
	if err != nil {
		return model.ValidationScore{}, model.TokenUsage{}, err
	}
	prompt, err := v.template.Render(map[string]string{
		assets.KeyImageData:     img.DataURL(),
		assets.KeyJSONExtracted: extracted,
	})
	if err != nil {
		return model.ValidationScore{}, model.TokenUsage{}, eris.Wrap(err, "pipeline: render validation prompt")
	}

	req := anthropic.MessageRequest{
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: prompt,
			Images:  []anthropic.Image{{MediaType: img.MediaType, Data: img.Data}},
		}},
		Tools:      []anthropic.Tool{schemaTool(validateTool, "Record the validation verdict.", v.schema)},
		ToolChoice: validateTool,
	}

	raw, usage, err := v.call(ctx, "validate", req)
	if err != nil {
		zap.L().Warn("pipeline: validation call failed", zap.String("image", img.Path), zap.Error(err))
		return model.ValidationScore{}, usage, eris.Wrapf(err, "pipeline: validate %s", img.Path)
	}
	score, err := decodeScore(raw)
	if err != nil {
		zap.L().Warn("pipeline: validation payload rejected", zap.String("image", img.Path), zap.Error(err))
		return model.ValidationScore{}, usage, eris.Wrapf(err, "pipeline: validate %s", img.Path)
	}
	v.metrics.ObserveScore(score.Score)
	return score, usage, nil
}

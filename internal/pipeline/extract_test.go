package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scorito-extract/internal/assets"
	"github.com/sells-group/scorito-extract/internal/cost"
	"github.com/sells-group/scorito-extract/internal/metrics"
	"github.com/sells-group/scorito-extract/internal/model"
	"github.com/sells-group/scorito-extract/pkg/anthropic"
)

const testModel = "claude-sonnet-4-5-20250929"

func defaultAssets(t *testing.T) *assets.Set {
	t.Helper()
	set, err := assets.Defaults()
	require.NoError(t, err)
	return set
}

func toolResponse(name, input string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "tool_use", Name: name, Input: json.RawMessage(input)}},
		StopReason: "tool_use",
		Usage:      anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}
}

func TestExtractor_Extract(t *testing.T) {
	ai := &mockAnthropicClient{}
	set := defaultAssets(t)
	rec := metrics.New()

	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == testModel &&
			req.MaxTokens == 4096 &&
			req.ToolChoice == extractTool &&
			len(req.Tools) == 1 && req.Tools[0].Name == extractTool &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 &&
			len(req.Messages[0].Images) == 1 &&
			req.Messages[0].Images[0].MediaType == "image/jpeg" &&
			req.Messages[0].Images[0].Data == "aGVsbG8="
	})).Return(toolResponse(extractTool, `{"players":[{"name":"A","team":"AZ","position":"MID","points":4},{"name":"B"}]}`), nil).Once()

	costs := cost.NewCalculator(cost.DefaultRates())
	ex, err := NewExtractor(ai, testModel, 4096, set, costs, rec)
	require.NoError(t, err)

	recs, usage, err := ex.Extract(context.Background(), testImage("a.jpeg"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.PlayerRecord{Name: "A", Team: "AZ", Position: "MID", Points: "4"}, recs[0])
	assert.Equal(t, model.PlayerRecord{Name: "B"}, recs[1])
	assert.Equal(t, 1000, usage.InputTokens)
	assert.Equal(t, 200, usage.OutputTokens)
	assert.Greater(t, usage.Cost, 0.0)
	ai.AssertExpectations(t)
}

func TestExtractor_SchemaBecomesToolInput(t *testing.T) {
	ai := &mockAnthropicClient{}
	set := defaultAssets(t)

	var got anthropic.MessageRequest
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(anthropic.MessageRequest) }).
		Return(toolResponse(extractTool, `{"players":[]}`), nil).Once()

	ex, err := NewExtractor(ai, testModel, 1024, set, nil, nil)
	require.NoError(t, err)

	recs, _, err := ex.Extract(context.Background(), testImage("a.jpeg"))
	require.NoError(t, err)
	assert.Empty(t, recs)

	require.Len(t, got.Tools, 1)
	assert.Equal(t, set.Players.Properties, got.Tools[0].Properties)
	assert.Equal(t, set.Players.Required, got.Tools[0].Required)
}

func TestExtractor_TextFallback(t *testing.T) {
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "```json\n{\"players\":[{\"name\":\"A\"}]}\n```"}},
	}, nil).Once()

	ex, err := NewExtractor(ai, testModel, 1024, defaultAssets(t), nil, nil)
	require.NoError(t, err)

	recs, _, err := ex.Extract(context.Background(), testImage("a.jpeg"))
	require.NoError(t, err)
	assert.Equal(t, []model.PlayerRecord{{Name: "A"}}, recs)
}

func TestExtractor_Failures(t *testing.T) {
	tests := []struct {
		name string
		resp *anthropic.MessageResponse
		err  error
	}{
		{name: "backend error", err: errors.New("overloaded")},
		{name: "prose only", resp: &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: "no players here"}}, StopReason: "end_turn"}},
		{name: "schema violation", resp: toolResponse(extractTool, `{"players":"none"}`)},
		{name: "malformed", resp: toolResponse(extractTool, `{"players":[`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := &mockAnthropicClient{}
			if tt.err != nil {
				ai.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, tt.err).Once()
			} else {
				ai.On("CreateMessage", mock.Anything, mock.Anything).Return(tt.resp, nil).Once()
			}

			ex, err := NewExtractor(ai, testModel, 1024, defaultAssets(t), nil, nil)
			require.NoError(t, err)

			recs, _, err := ex.Extract(context.Background(), testImage("shots/a.jpeg"))
			require.Error(t, err)
			assert.Nil(t, recs)
			assert.Contains(t, err.Error(), "shots/a.jpeg")
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	ai := &mockAnthropicClient{}
	rec := metrics.New()

	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		if req.ToolChoice != validateTool || len(req.Messages) != 1 || len(req.Messages[0].Images) != 1 {
			return false
		}
		prompt := req.Messages[0].Content
		return !strings.Contains(prompt, "MID0") && strings.Contains(prompt, `"name": "A"`)
	})).Return(toolResponse(validateTool, `{"validate":{"score":9,"justification":"all match"}}`), nil).Once()

	v := NewValidator(ai, testModel, 1024, defaultAssets(t), nil, rec)
	score, _, err := v.Validate(context.Background(), testImage("a.jpeg"), []model.PlayerRecord{{ID: "MID0", Name: "A"}})
	require.NoError(t, err)
	assert.Equal(t, model.ValidationScore{Score: 9, Justification: "all match"}, score)
	ai.AssertExpectations(t)
}

func TestValidator_OutOfRangeScoreKept(t *testing.T) {
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(toolResponse(validateTool, `{"validate":{"score":14,"justification":"?"}}`), nil).Once()

	v := NewValidator(ai, testModel, 1024, defaultAssets(t), nil, nil)
	score, _, err := v.Validate(context.Background(), testImage("a.jpeg"), players("A"))
	require.NoError(t, err)
	assert.Equal(t, 14, score.Score)
}

func TestValidator_MissingScore(t *testing.T) {
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(toolResponse(validateTool, `{"validate":{"justification":"forgot"}}`), nil).Once()

	v := NewValidator(ai, testModel, 1024, defaultAssets(t), nil, nil)
	_, _, err := v.Validate(context.Background(), testImage("a.jpeg"), players("A"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no score")
}

func TestValidator_BackendError(t *testing.T) {
	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("timeout")).Once()

	v := NewValidator(ai, testModel, 1024, defaultAssets(t), nil, nil)
	_, _, err := v.Validate(context.Background(), testImage("a.jpeg"), players("A"))
	assert.Error(t, err)
}

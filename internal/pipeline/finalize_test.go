package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scorito-extract/internal/config"
	"github.com/sells-group/scorito-extract/internal/cost"
	"github.com/sells-group/scorito-extract/internal/model"
	"github.com/sells-group/scorito-extract/internal/resilience"
	"github.com/sells-group/scorito-extract/pkg/perplexity"
)

func searchAnswer(content string) *perplexity.ChatCompletionResponse {
	return &perplexity.ChatCompletionResponse{
		Model:   "sonar-pro",
		Choices: []perplexity.Choice{{Message: perplexity.Message{Role: "assistant", Content: content}}},
		Usage:   perplexity.Usage{PromptTokens: 300, CompletionTokens: 120, NumSearchQueries: 1},
	}
}

func fastGuard(attempts, threshold int) *resilience.Guard {
	g := resilience.NewGuard("perplexity", "finalize", attempts, threshold)
	g.Retry.InitialBackoff = time.Millisecond
	g.Retry.MaxBackoff = time.Millisecond
	return g
}

func TestFinalizer_CodeFencedAnswer(t *testing.T) {
	search := &mockPerplexityClient{}
	search.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
		return len(req.Messages) == 2 &&
			req.Messages[0].Role == "system" &&
			req.Messages[1].Role == "user" &&
			strings.Contains(req.Messages[1].Content, `"name": "Anon"`)
	})).Return(searchAnswer("```json\n{\"players\":[{\"name\":\"A\"}]}\n```"), nil).Once()

	f := NewFinalizer(search, defaultAssets(t), WithFinalizeCosts(cost.NewCalculator(cost.DefaultRates())))
	out, usage := f.Finalize(context.Background(), []model.PlayerRecord{{Name: "Anon", Team: "AZ"}})

	assert.Equal(t, []model.PlayerRecord{{Name: "A"}}, out)
	assert.Equal(t, 300, usage.InputTokens)
	assert.Equal(t, 1, usage.SearchQueries)
	assert.Greater(t, usage.Cost, 0.0)
	search.AssertExpectations(t)
}

func TestFinalizer_NoJSONObjectIsIdentity(t *testing.T) {
	for _, answer := range []string{
		"I could not verify these players.",
		"",
		"[1, 2, 3]",
		"} backwards {",
	} {
		search := &mockPerplexityClient{}
		search.On("ChatCompletion", mock.Anything, mock.Anything).Return(searchAnswer(answer), nil).Once()

		in := players("A", "B")
		f := NewFinalizer(search, defaultAssets(t))
		out, _ := f.Finalize(context.Background(), in)
		assert.Equal(t, in, out, answer)
	}
}

func TestFinalizer_FallbacksKeepOriginals(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		err    error
	}{
		{name: "backend error", err: errors.New("connection refused")},
		{name: "no players key", answer: `{"result":"ok"}`},
		{name: "empty players", answer: `{"players":[]}`},
		{name: "malformed", answer: `{"players":[{"name":}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			search := &mockPerplexityClient{}
			if tt.err != nil {
				search.On("ChatCompletion", mock.Anything, mock.Anything).Return(nil, tt.err).Once()
			} else {
				search.On("ChatCompletion", mock.Anything, mock.Anything).Return(searchAnswer(tt.answer), nil).Once()
			}

			in := players("A")
			out, _ := NewFinalizer(search, defaultAssets(t)).Finalize(context.Background(), in)
			assert.Equal(t, in, out)
		})
	}
}

func TestFinalizer_EmptyInputSkipsBackend(t *testing.T) {
	search := &mockPerplexityClient{}
	out, usage := NewFinalizer(search, defaultAssets(t)).Finalize(context.Background(), nil)
	assert.Empty(t, out)
	assert.Zero(t, usage)
	search.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
}

func TestFinalizer_NilBackendKeepsOriginals(t *testing.T) {
	in := players("A")
	out, _ := NewFinalizer(nil, defaultAssets(t)).Finalize(context.Background(), in)
	assert.Equal(t, in, out)
}

func TestFinalizer_GuardRetriesTransient(t *testing.T) {
	search := &mockPerplexityClient{}
	search.On("ChatCompletion", mock.Anything, mock.Anything).
		Return(nil, &perplexity.StatusError{StatusCode: 503, Body: "busy"}).Once()
	search.On("ChatCompletion", mock.Anything, mock.Anything).
		Return(searchAnswer(`{"players":[{"name":"A","team":"Ajax"}]}`), nil).Once()

	f := NewFinalizer(search, defaultAssets(t), WithGuard(fastGuard(3, 0)))
	out, _ := f.Finalize(context.Background(), players("A"))

	assert.Equal(t, []model.PlayerRecord{{Name: "A", Team: "Ajax"}}, out)
	search.AssertNumberOfCalls(t, "ChatCompletion", 2)
}

func TestFinalizer_OpenBreakerKeepsOriginals(t *testing.T) {
	search := &mockPerplexityClient{}
	search.On("ChatCompletion", mock.Anything, mock.Anything).
		Return(nil, &perplexity.StatusError{StatusCode: 502, Body: "down"})

	g := fastGuard(5, 2)
	f := NewFinalizer(search, defaultAssets(t), WithGuard(g))

	in := players("A")
	out, _ := f.Finalize(context.Background(), in)
	assert.Equal(t, in, out)
	assert.True(t, g.Open())
	assert.Equal(t, 2, g.Failures())
	search.AssertNumberOfCalls(t, "ChatCompletion", 2)

	// The open breaker short-circuits the next image.
	out, usage := f.Finalize(context.Background(), in)
	assert.Equal(t, in, out)
	assert.Zero(t, usage.Cost)
	search.AssertNumberOfCalls(t, "ChatCompletion", 2)
}

func TestFinalizer_IndividualMode(t *testing.T) {
	search := &mockPerplexityClient{}
	search.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
		return strings.Contains(req.Messages[1].Content, "Name: A")
	})).Return(searchAnswer("Verified:\n{\"name\":\"A\",\"team\":\"Ajax\",\"worth\":\"€2.0m\"}"), nil).Once()
	search.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req perplexity.ChatCompletionRequest) bool {
		return strings.Contains(req.Messages[1].Content, "Name: B")
	})).Return(searchAnswer("no idea"), nil).Once()

	in := []model.PlayerRecord{
		{ID: "MID0", Name: "A", Team: "AZ", Position: "MID", Points: "10"},
		{Name: "B", Team: "PSV"},
	}
	f := NewFinalizer(search, defaultAssets(t), WithFinalizeMode(config.FinalizeIndividual))
	out, usage := f.Finalize(context.Background(), in)

	require.Len(t, out, 2)
	assert.Equal(t, model.PlayerRecord{ID: "MID0", Name: "A", Team: "Ajax", Position: "MID", Points: "10", Worth: "€2.0m"}, out[0])
	assert.Equal(t, in[1], out[1])
	assert.Equal(t, "AZ", in[0].Team, "input records are not modified")
	assert.Equal(t, 600, usage.InputTokens)
	search.AssertExpectations(t)
}

func TestFinalizer_IndividualModeStopsOnCancel(t *testing.T) {
	search := &mockPerplexityClient{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := players("A", "B")
	out, _ := NewFinalizer(search, defaultAssets(t), WithFinalizeMode(config.FinalizeIndividual)).Finalize(ctx, in)
	assert.Equal(t, in, out)
	search.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
}

func TestFinalizer_Timeout(t *testing.T) {
	search := &mockPerplexityClient{}
	search.On("ChatCompletion", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	f := NewFinalizer(search, defaultAssets(t), WithFinalizeTimeout(10*time.Millisecond))
	in := players("A")
	out, _ := f.Finalize(context.Background(), in)
	assert.Equal(t, in, out)
}

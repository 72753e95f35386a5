package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/scorito-extract/internal/images"
	"github.com/sells-group/scorito-extract/internal/model"
	"github.com/sells-group/scorito-extract/pkg/anthropic"
	"github.com/sells-group/scorito-extract/pkg/perplexity"
)

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// --- Perplexity Mock ---

type mockPerplexityClient struct {
	mock.Mock
}

func (m *mockPerplexityClient) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*perplexity.ChatCompletionResponse), args.Error(1)
}

func (m *mockPerplexityClient) Close() {
	m.Called()
}

// --- Store Mocks ---

type mockSink struct {
	mock.Mock
}

func (m *mockSink) UpsertPlayer(ctx context.Context, p model.PlayerRecord) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

type mockRunRecorder struct {
	mock.Mock
}

func (m *mockRunRecorder) CreateRun(ctx context.Context, dir string) (*model.Run, error) {
	args := m.Called(ctx, dir)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockRunRecorder) RecordImage(ctx context.Context, runID string, img model.ImageResult) error {
	args := m.Called(ctx, runID, img)
	return args.Error(0)
}

func (m *mockRunRecorder) CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error {
	args := m.Called(ctx, runID, status, summary)
	return args.Error(0)
}

// --- Step fakes ---

// scriptedExtractor returns one scripted reply per call, repeating the last
// one once the script runs out.
type scriptedExtractor struct {
	mu      sync.Mutex
	replies []extractReply
	calls   int
	seen    []string
}

type extractReply struct {
	records []model.PlayerRecord
	err     error
	panic   any
}

func (e *scriptedExtractor) Extract(_ context.Context, img *images.Image) ([]model.PlayerRecord, model.TokenUsage, error) {
	e.mu.Lock()
	r := e.replies[min(e.calls, len(e.replies)-1)]
	e.calls++
	e.seen = append(e.seen, img.Path)
	e.mu.Unlock()

	if r.panic != nil {
		panic(r.panic)
	}
	return model.ClonePlayers(r.records), model.TokenUsage{InputTokens: 100, OutputTokens: 10, Cost: 0.01}, r.err
}

type scriptedValidator struct {
	mu      sync.Mutex
	replies []validateReply
	calls   int
	got     [][]model.PlayerRecord
}

type validateReply struct {
	score int
	err   error
}

func (v *scriptedValidator) Validate(_ context.Context, _ *images.Image, records []model.PlayerRecord) (model.ValidationScore, model.TokenUsage, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r := v.replies[min(v.calls, len(v.replies)-1)]
	v.calls++
	v.got = append(v.got, model.ClonePlayers(records))
	if r.err != nil {
		return model.ValidationScore{}, model.TokenUsage{InputTokens: 50}, r.err
	}
	return model.ValidationScore{Score: r.score, Justification: "checked"}, model.TokenUsage{InputTokens: 50, Cost: 0.005}, nil
}

// funcFinalizer adapts a function to PlayerFinalizer.
type funcFinalizer func(ctx context.Context, records []model.PlayerRecord) ([]model.PlayerRecord, model.TokenUsage)

func (f funcFinalizer) Finalize(ctx context.Context, records []model.PlayerRecord) ([]model.PlayerRecord, model.TokenUsage) {
	return f(ctx, records)
}

func players(names ...string) []model.PlayerRecord {
	out := make([]model.PlayerRecord, len(names))
	for i, n := range names {
		out[i] = model.PlayerRecord{Name: n, Team: "AZ", Position: "MID"}
	}
	return out
}

func testImage(path string) *images.Image {
	return &images.Image{Path: path, MediaType: "image/jpeg", Data: "aGVsbG8=", Size: 5}
}

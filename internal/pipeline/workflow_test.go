package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scorito-extract/internal/images"
	"github.com/sells-group/scorito-extract/internal/model"
)

func newWorkflow(ex RecordExtractor, v RecordValidator) *Workflow {
	return &Workflow{Extractor: ex, Validator: v, Threshold: DefaultThreshold, MaxRetries: DefaultMaxRetries}
}

func kinds(trace []model.ExtractionOutcome) []model.OutcomeKind {
	out := make([]model.OutcomeKind, len(trace))
	for i, o := range trace {
		out[i] = o.Kind
	}
	return out
}

func TestWorkflow_AcceptsOnThirdAttempt(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{replies: []extractReply{
		{records: players("A1", "B1")},
		{records: players("A2", "B2")},
		{records: players("A3", "B3")},
	}}
	v := &scriptedValidator{replies: []validateReply{{score: 5}, {score: 6}, {score: 9}}}

	res := newWorkflow(ex, v).Run(context.Background(), testImage("a.jpeg"))

	assert.Equal(t, model.StateAccepted, res.State)
	assert.Equal(t, 3, ex.calls)
	assert.Equal(t, 3, v.calls)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, players("A3", "B3"), res.Players)
	require.NotNil(t, res.Score)
	assert.Equal(t, 9, res.Score.Score)
	assert.Equal(t, []model.OutcomeKind{model.OutcomeLowScore, model.OutcomeLowScore, model.OutcomeSuccess}, kinds(res.Trace))
	assert.Empty(t, res.Reason)
	assert.InDelta(t, 3*0.01+3*0.005, res.Usage.Cost, 1e-9)
}

func TestWorkflow_EmptyExtractionExhausts(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{replies: []extractReply{{records: nil}}}
	v := &scriptedValidator{replies: []validateReply{{score: 10}}}

	res := newWorkflow(ex, v).Run(context.Background(), testImage("a.jpeg"))

	assert.Equal(t, model.StateExhausted, res.State)
	assert.Contains(t, res.Reason, "No players extracted")
	assert.Equal(t, 3, ex.calls)
	assert.Zero(t, v.calls)
	assert.Empty(t, res.Players)
	assert.Nil(t, res.Score)
	assert.Equal(t, []model.OutcomeKind{
		model.OutcomeNoExtraction, model.OutcomeNoExtraction, model.OutcomeNoExtraction, model.OutcomeRetriesExhausted,
	}, kinds(res.Trace))
}

func TestWorkflow_ThresholdMonotonicity(t *testing.T) {
	t.Parallel()

	for _, threshold := range []int{8, 9} {
		for score := 0; score <= 10; score++ {
			t.Run(fmt.Sprintf("threshold=%d/score=%d", threshold, score), func(t *testing.T) {
				t.Parallel()

				ex := &scriptedExtractor{replies: []extractReply{{records: players("A")}}}
				v := &scriptedValidator{replies: []validateReply{{score: score}}}
				w := newWorkflow(ex, v)
				w.Threshold = threshold

				res := w.Run(context.Background(), testImage("a.jpeg"))
				if score >= threshold {
					assert.Equal(t, model.StateAccepted, res.State)
					assert.Equal(t, 1, ex.calls)
				} else {
					assert.Equal(t, model.StateExhausted, res.State)
					assert.Equal(t, 3, ex.calls)
					assert.Contains(t, res.Reason, fmt.Sprintf("score %d below threshold %d", score, threshold))
				}
			})
		}
	}
}

func TestWorkflow_RetryBound(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("max_retries=%d", n), func(t *testing.T) {
			t.Parallel()

			ex := &scriptedExtractor{replies: []extractReply{{records: players("A")}}}
			v := &scriptedValidator{replies: []validateReply{{score: 1}}}
			w := newWorkflow(ex, v)
			w.MaxRetries = n

			res := w.Run(context.Background(), testImage("a.jpeg"))
			assert.Equal(t, model.StateExhausted, res.State)
			assert.Equal(t, n, ex.calls)
			assert.Equal(t, n, res.Attempts)
			assert.Contains(t, res.Reason, fmt.Sprintf("failed after %d attempts", n))
		})
	}
}

func TestWorkflow_DefaultMaxRetries(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{replies: []extractReply{{records: nil}}}
	w := &Workflow{Extractor: ex, Validator: &scriptedValidator{replies: []validateReply{{score: 0}}}, Threshold: 8}

	res := w.Run(context.Background(), testImage("a.jpeg"))
	assert.Equal(t, DefaultMaxRetries, ex.calls)
	assert.Equal(t, model.StateExhausted, res.State)
}

func TestWorkflow_RetriesDoNotMerge(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{replies: []extractReply{
		{records: players("A", "B", "C")},
		{records: players("D")},
	}}
	v := &scriptedValidator{replies: []validateReply{{score: 4}, {score: 8}}}

	res := newWorkflow(ex, v).Run(context.Background(), testImage("a.jpeg"))

	require.Equal(t, model.StateAccepted, res.State)
	assert.Equal(t, players("D"), res.Players)
	// Each validation saw only its own attempt's records.
	require.Len(t, v.got, 2)
	assert.Equal(t, players("A", "B", "C"), v.got[0])
	assert.Equal(t, players("D"), v.got[1])
}

func TestWorkflow_ExtractionErrorConsumesAttempt(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{replies: []extractReply{
		{err: errors.New("backend unavailable")},
		{records: players("A")},
	}}
	v := &scriptedValidator{replies: []validateReply{{score: 9}}}

	res := newWorkflow(ex, v).Run(context.Background(), testImage("a.jpeg"))

	assert.Equal(t, model.StateAccepted, res.State)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, res.Trace, 2)
	assert.Equal(t, model.OutcomeNoExtraction, res.Trace[0].Kind)
	assert.Equal(t, "backend unavailable", res.Trace[0].Reason)
}

func TestWorkflow_ValidationErrorCountsAsLowScore(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{replies: []extractReply{{records: players("A")}}}
	v := &scriptedValidator{replies: []validateReply{{err: errors.New("no validate key")}, {score: 8}}}

	res := newWorkflow(ex, v).Run(context.Background(), testImage("a.jpeg"))

	assert.Equal(t, model.StateAccepted, res.State)
	require.Len(t, res.Trace, 2)
	assert.Equal(t, model.OutcomeLowScore, res.Trace[0].Kind)
	require.NotNil(t, res.Trace[0].Score)
	assert.Equal(t, 0, res.Trace[0].Score.Score)
	assert.Contains(t, res.Trace[0].Score.Justification, "validation failed")
}

func TestWorkflow_PanicBecomesExhausted(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{replies: []extractReply{{panic: "boom"}}}
	v := &scriptedValidator{replies: []validateReply{{score: 10}}}

	res := newWorkflow(ex, v).Run(context.Background(), testImage("a.jpeg"))

	assert.Equal(t, model.StateExhausted, res.State)
	assert.Equal(t, "panic: boom", res.Reason)
	assert.Equal(t, 1, ex.calls)
	assert.Nil(t, res.Players)
	require.NotEmpty(t, res.Trace)
	assert.Equal(t, model.OutcomeRetriesExhausted, res.Trace[len(res.Trace)-1].Kind)
}

func TestWorkflow_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ex := &scriptedExtractor{replies: []extractReply{{records: players("A")}}}
	res := newWorkflow(ex, &scriptedValidator{replies: []validateReply{{score: 10}}}).Run(ctx, testImage("a.jpeg"))

	assert.Equal(t, model.StateExhausted, res.State)
	assert.Equal(t, context.Canceled.Error(), res.Reason)
	assert.Zero(t, ex.calls)
}

// cancellingValidator cancels the run after scoring the first attempt.
type cancellingValidator struct {
	cancel context.CancelFunc
}

func (c *cancellingValidator) Validate(_ context.Context, _ *images.Image, _ []model.PlayerRecord) (model.ValidationScore, model.TokenUsage, error) {
	c.cancel()
	return model.ValidationScore{Score: 2}, model.TokenUsage{}, nil
}

func TestWorkflow_CancelledBetweenRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ex := &scriptedExtractor{replies: []extractReply{{records: players("A")}}}
	res := newWorkflow(ex, &cancellingValidator{cancel: cancel}).Run(ctx, testImage("a.jpeg"))

	assert.Equal(t, model.StateExhausted, res.State)
	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, context.Canceled.Error(), res.Reason)
}

// blockingExtractor waits for its context to end.
type blockingExtractor struct{ calls int }

func (b *blockingExtractor) Extract(ctx context.Context, _ *images.Image) ([]model.PlayerRecord, model.TokenUsage, error) {
	b.calls++
	<-ctx.Done()
	return nil, model.TokenUsage{}, ctx.Err()
}

func TestWorkflow_CallTimeout(t *testing.T) {
	t.Parallel()

	ex := &blockingExtractor{}
	w := newWorkflow(ex, &scriptedValidator{replies: []validateReply{{score: 10}}})
	w.MaxRetries = 2
	w.CallTimeout = 10 * time.Millisecond

	res := w.Run(context.Background(), testImage("a.jpeg"))

	assert.Equal(t, model.StateExhausted, res.State)
	assert.Equal(t, 2, ex.calls)
	require.Len(t, res.Trace, 3)
	assert.Equal(t, context.DeadlineExceeded.Error(), res.Trace[0].Reason)
}

func TestWorkflow_KeepPartial(t *testing.T) {
	t.Parallel()

	ex := &scriptedExtractor{replies: []extractReply{
		{records: players("A")},
		{records: players("B", "C")},
		{records: nil},
	}}
	v := &scriptedValidator{replies: []validateReply{{score: 3}, {score: 6}}}

	w := newWorkflow(ex, v)
	w.KeepPartial = true
	res := w.Run(context.Background(), testImage("a.jpeg"))

	assert.Equal(t, model.StateExhausted, res.State)
	assert.Equal(t, players("B", "C"), res.Partial)
	assert.Empty(t, res.Players)
	assert.Contains(t, res.Reason, "failed after 3 attempts")

	// Without the flag nothing partial is reported.
	ex.calls, v.calls = 0, 0
	w.KeepPartial = false
	res = w.Run(context.Background(), testImage("a.jpeg"))
	assert.Nil(t, res.Partial)
}

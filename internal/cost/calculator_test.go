package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/scorito-extract/internal/config"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"sonnet": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Perplexity: PerplexityRate{PerQuery: 0.005, PerMTok: 1.00},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name       string
		model      string
		input      int
		output     int
		cacheWrite int
		cacheRead  int
		want       float64
	}{
		{
			name:  "haiku simple",
			model: "haiku", input: 1000000, output: 100000,
			want: 1.00 + 0.50,
		},
		{
			name:  "sonnet screenshot",
			model: "sonnet", input: 2000, output: 400,
			want: 0.006 + 0.006,
		},
		{
			name:  "sonnet with cache",
			model: "sonnet", input: 0, output: 0, cacheWrite: 1000000, cacheRead: 1000000,
			want: 3.75 + 0.30,
		},
		{
			name:  "unknown model",
			model: "gpt", input: 1000000, output: 1000000,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := calc.Claude(tt.model, tt.input, tt.output, tt.cacheWrite, tt.cacheRead)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestPerplexity(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	assert.InDelta(t, 0.005, calc.Perplexity(0, 0), 1e-9)
	assert.InDelta(t, 0.005+0.001, calc.Perplexity(600, 400), 1e-9)
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	r := DefaultRates()
	assert.Contains(t, r.Anthropic, "claude-sonnet-4-5-20250929")
	assert.InDelta(t, 0.005, r.Perplexity.PerQuery, 1e-9)
}

func TestRatesFromConfig(t *testing.T) {
	t.Parallel()

	r := RatesFromConfig(config.PricingConfig{
		Anthropic: map[string]config.ModelPricing{
			"claude-sonnet-4-5-20250929": {Input: 2, Output: 10},
			"custom-model":               {Input: 1, Output: 1},
		},
		Perplexity: config.PerplexityPricing{PerQuery: 0.01},
	})

	assert.InDelta(t, 2.0, r.Anthropic["claude-sonnet-4-5-20250929"].Input, 1e-9)
	assert.InDelta(t, 1.25, r.Anthropic["custom-model"].CacheWriteMul, 1e-9)
	assert.Contains(t, r.Anthropic, "claude-opus-4-6")
	assert.InDelta(t, 0.01, r.Perplexity.PerQuery, 1e-9)
	assert.InDelta(t, 1.0, r.Perplexity.PerMTok, 1e-9)

	// Defaults are not mutated.
	assert.InDelta(t, 3.0, DefaultRates().Anthropic["claude-sonnet-4-5-20250929"].Input, 1e-9)
}

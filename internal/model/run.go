package model

import "time"

// RunStatus represents the current state of a batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the audit row for one batch invocation.
type Run struct {
	ID        string      `json:"id"`
	Dir       string      `json:"dir"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RunSummary holds the final tallies of a run.
type RunSummary struct {
	Images        int     `json:"images"`
	Accepted      int     `json:"accepted"`
	Exhausted     int     `json:"exhausted"`
	Players       int     `json:"players"`
	Stored        int     `json:"stored"`
	StoreFailures int     `json:"store_failures"`
	TotalCost     float64 `json:"total_cost"`
	Error         string  `json:"error,omitempty"`
}

// Summarize condenses a batch result into its audit summary.
func (b *BatchResult) Summarize() RunSummary {
	accepted, exhausted := b.Counts()
	return RunSummary{
		Images:        len(b.Images),
		Accepted:      accepted,
		Exhausted:     exhausted,
		Players:       len(b.Players),
		Stored:        b.Stored,
		StoreFailures: b.StoreFailures,
		TotalCost:     b.Usage.Cost,
		Error:         b.DiscoveryError,
	}
}

// TokenUsage tracks backend consumption for cost attribution.
type TokenUsage struct {
	InputTokens   int     `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens  int     `json:"output_tokens" yaml:"output_tokens"`
	SearchQueries int     `json:"search_queries" yaml:"search_queries"`
	Cost          float64 `json:"cost" yaml:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.SearchQueries += other.SearchQueries
	t.Cost += other.Cost
}

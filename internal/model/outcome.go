package model

import "time"

// WorkflowState is a node of the per-image extraction state machine.
type WorkflowState int

const (
	StatePending WorkflowState = iota
	StateExtracting
	StateValidating
	StateRetrying
	StateAccepted
	StateExhausted
)

func (s WorkflowState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExtracting:
		return "extracting"
	case StateValidating:
		return "validating"
	case StateRetrying:
		return "retrying"
	case StateAccepted:
		return "accepted"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions leave s.
func (s WorkflowState) Terminal() bool {
	return s == StateAccepted || s == StateExhausted
}

// MarshalText renders the state name in JSON and YAML output.
func (s WorkflowState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OutcomeKind tags an ExtractionOutcome.
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeNoExtraction     OutcomeKind = "no_extraction"
	OutcomeLowScore         OutcomeKind = "low_score"
	OutcomeRetriesExhausted OutcomeKind = "retries_exhausted"
)

// ExtractionOutcome is the result of a single workflow attempt. Records and
// Score are set for Success and LowScore; Reason for NoExtraction (when the
// backend failed) and RetriesExhausted.
type ExtractionOutcome struct {
	Kind    OutcomeKind      `json:"kind" yaml:"kind"`
	Attempt int              `json:"attempt" yaml:"attempt"`
	Records []PlayerRecord   `json:"records,omitempty" yaml:"records,omitempty"`
	Score   *ValidationScore `json:"score,omitempty" yaml:"score,omitempty"`
	Reason  string           `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Success builds an accepted attempt.
func Success(attempt int, records []PlayerRecord, score ValidationScore) ExtractionOutcome {
	return ExtractionOutcome{Kind: OutcomeSuccess, Attempt: attempt, Records: records, Score: &score}
}

// LowScore builds an attempt whose score fell below threshold.
func LowScore(attempt int, records []PlayerRecord, score ValidationScore) ExtractionOutcome {
	return ExtractionOutcome{Kind: OutcomeLowScore, Attempt: attempt, Records: records, Score: &score}
}

// NoExtraction builds an attempt that produced nothing usable. reason is
// empty when the backend answered with an empty player list.
func NoExtraction(attempt int, reason string) ExtractionOutcome {
	return ExtractionOutcome{Kind: OutcomeNoExtraction, Attempt: attempt, Reason: reason}
}

// RetriesExhausted builds the terminal failure outcome.
func RetriesExhausted(attempt int, reason string) ExtractionOutcome {
	return ExtractionOutcome{Kind: OutcomeRetriesExhausted, Attempt: attempt, Reason: reason}
}

// ImageResult reports what happened to one screenshot.
type ImageResult struct {
	Image     string              `json:"image" yaml:"image"`
	State     WorkflowState       `json:"state" yaml:"state"`
	Attempts  int                 `json:"attempts" yaml:"attempts"`
	Players   []PlayerRecord      `json:"players,omitempty" yaml:"players,omitempty"`
	Score     *ValidationScore    `json:"score,omitempty" yaml:"score,omitempty"`
	Reason    string              `json:"reason,omitempty" yaml:"reason,omitempty"`
	Trace     []ExtractionOutcome `json:"trace" yaml:"trace"`
	Partial   []PlayerRecord      `json:"partial,omitempty" yaml:"partial,omitempty"`
	Finalized bool                `json:"finalized" yaml:"finalized"`
	Usage     TokenUsage          `json:"usage" yaml:"usage"`
	Duration  time.Duration       `json:"duration_ns" yaml:"duration"`
}

// Accepted reports whether the image ended in the Accepted state.
func (r ImageResult) Accepted() bool {
	return r.State == StateAccepted
}

// BatchResult is the aggregate of one directory run.
type BatchResult struct {
	RunID          string         `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Dir            string         `json:"dir" yaml:"dir"`
	Images         []ImageResult  `json:"images" yaml:"images"`
	Players        []PlayerRecord `json:"players" yaml:"players"`
	Stored         int            `json:"stored" yaml:"stored"`
	StoreFailures  int            `json:"store_failures" yaml:"store_failures"`
	DiscoveryError string         `json:"discovery_error,omitempty" yaml:"discovery_error,omitempty"`
	Cancelled      bool           `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Usage          TokenUsage     `json:"usage" yaml:"usage"`
	Duration       time.Duration  `json:"duration_ns" yaml:"duration"`
}

// Counts tallies images by terminal state.
func (b *BatchResult) Counts() (accepted, exhausted int) {
	for _, img := range b.Images {
		switch img.State {
		case StateAccepted:
			accepted++
		case StateExhausted:
			exhausted++
		}
	}
	return accepted, exhausted
}

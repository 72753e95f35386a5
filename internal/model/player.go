// Package model holds the records that flow through the extraction pipeline.
package model

// PlayerRecord is one player as read from a screenshot. Values are kept as
// the backend produced them ("€15.0m" and "15.0" are both valid worths).
type PlayerRecord struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string `json:"name" yaml:"name"`
	Team     string `json:"team" yaml:"team"`
	Points   string `json:"points" yaml:"points"`
	Worth    string `json:"worth" yaml:"worth"`
	Jersey   string `json:"jersey" yaml:"jersey"`
	Position string `json:"position" yaml:"position"`
}

// Fields returns the record as the flat string map handed to storage sinks.
// The id key is only present once an id has been assigned.
func (p PlayerRecord) Fields() map[string]string {
	m := map[string]string{
		"name":     p.Name,
		"team":     p.Team,
		"points":   p.Points,
		"worth":    p.Worth,
		"jersey":   p.Jersey,
		"position": p.Position,
	}
	if p.ID != "" {
		m["id"] = p.ID
	}
	return m
}

// WithoutID returns a copy with the storage id cleared.
func (p PlayerRecord) WithoutID() PlayerRecord {
	p.ID = ""
	return p
}

// PlayerSet is the {"players": [...]} envelope used in prompts and backend
// responses.
type PlayerSet struct {
	Players []PlayerRecord `json:"players"`
}

// NewPlayerSet copies records into an envelope with ids stripped, so prompts
// never leak storage keys back to a backend.
func NewPlayerSet(records []PlayerRecord) PlayerSet {
	out := make([]PlayerRecord, len(records))
	for i, r := range records {
		out[i] = r.WithoutID()
	}
	return PlayerSet{Players: out}
}

// ClonePlayers returns an independent copy of records.
func ClonePlayers(records []PlayerRecord) []PlayerRecord {
	if records == nil {
		return nil
	}
	out := make([]PlayerRecord, len(records))
	copy(out, records)
	return out
}

// ValidationScore is the self-consistency verdict for one extraction attempt.
// Score is nominally 0..10 but is not clamped.
type ValidationScore struct {
	Score         int    `json:"score" yaml:"score"`
	Justification string `json:"justification" yaml:"justification"`
}

// Acceptable reports whether the score meets threshold.
func (v ValidationScore) Acceptable(threshold int) bool {
	return v.Score >= threshold
}

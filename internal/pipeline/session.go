// Package pipeline turns screenshots into validated player records: it
// extracts, scores and retries per image, finalizes accepted records against
// a search backend and drives whole directories through that workflow.
package pipeline

import (
	"github.com/sells-group/scorito-extract/internal/config"
	"github.com/sells-group/scorito-extract/pkg/anthropic"
	"github.com/sells-group/scorito-extract/pkg/perplexity"
)

// Session holds the backend clients for one batch. The command that creates
// it closes it when the batch ends.
type Session struct {
	AI     anthropic.Client
	Search perplexity.Client
}

// NewSession builds both clients from configuration.
func NewSession(cfg *config.Config) *Session {
	var aiOpts []anthropic.Option
	if cfg.Anthropic.BaseURL != "" {
		aiOpts = append(aiOpts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
	}

	searchOpts := []perplexity.Option{
		perplexity.WithModel(cfg.Perplexity.Model),
		perplexity.WithSearchContextSize(cfg.Perplexity.SearchContextSize),
	}
	if cfg.Perplexity.BaseURL != "" {
		searchOpts = append(searchOpts, perplexity.WithBaseURL(cfg.Perplexity.BaseURL))
	}

	return &Session{
		AI:     anthropic.NewClient(cfg.Anthropic.Key, aiOpts...),
		Search: perplexity.NewClient(cfg.Perplexity.Key, searchOpts...),
	}
}

// Close releases idle connections held by the clients. Safe on nil.
func (s *Session) Close() {
	if s == nil {
		return
	}
	if s.Search != nil {
		s.Search.Close()
	}
}

package search

import (
	"context"
	"log/slog"
)

// Service is the facade that tries the index first and falls back to Postgres.
type Service struct {
	index    Index
	fallback Searcher
	source   RecordSource
	logger   *slog.Logger
}

// NewService creates a search service. index may be nil when Meilisearch is
// not configured; source is used for reindexing and may be nil.
func NewService(index Index, fallback Searcher, source RecordSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{index: index, fallback: fallback, source: source, logger: logger}
}

// Search tries the index if healthy, otherwise falls back. Failures yield an
// empty result, never an error.
func (s *Service) Search(ctx context.Context, q Query) Response {
	resp := Response{Results: []Suggestion{}, Query: q.Text}
	if s.index != nil && s.index.Healthy() {
		records, err := s.index.Search(ctx, q)
		if err == nil {
			resp.Backend = "meilisearch"
			resp.Results = suggestions(records)
			return resp
		}
		s.logger.Warn("mention index failed, falling back to postgres", "error", err)
	}
	if s.fallback == nil {
		return resp
	}

	records, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("mention lookup failed", "error", err)
		return resp
	}
	resp.Backend = "postgres"
	resp.Results = suggestions(records)
	return resp
}

func suggestions(records []Record) []Suggestion {
	out := make([]Suggestion, 0, len(records))
	for _, r := range records {
		out = append(out, suggest(r))
	}
	return out
}

// ReindexAllFromPG pushes every mentionable record into the index. It is a
// no-op without a healthy index.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.index == nil || !s.index.Healthy() || s.source == nil {
		return
	}
	records, err := s.source.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", "error", err)
		return
	}
	if err := s.index.IndexRecords(records); err != nil {
		s.logger.Error("reindex mentions", "error", err)
		return
	}
	s.logger.Info("reindexed mentions", "records", len(records))
}

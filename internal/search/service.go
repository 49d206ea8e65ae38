package search

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres full-text search.
type Service struct {
	meili *Meili
	pgfts *PgFTS
	log   zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, log zerolog.Logger) *Service {
	return &Service{meili: meili, pgfts: pgfts, log: log.With().Str("component", "search").Logger()}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument indexes a document, fire-and-forget.
func (s *Service) IndexDocument(doc DocumentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(doc); err != nil {
			s.log.Warn().Err(err).Str("id", doc.ID).Msg("index document")
		}
	}()
}

// DeleteDocument removes a document from the index, fire-and-forget.
func (s *Service) DeleteDocument(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDocument(id); err != nil {
			s.log.Warn().Err(err).Str("id", id).Msg("delete document from index")
		}
	}()
}

// Reindex pushes every stored document into Meilisearch.
func (s *Service) Reindex(ctx context.Context) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := s.meili.IndexDocument(record); err != nil {
			return err
		}
	}
	return nil
}

package search

import (
	"context"
	"database/sql"
	"fmt"
)

// PgFTS searches documents with Postgres full-text search over the document
// name and the content of its most recently updated version. It needs no
// extra infrastructure, so it is always available as the fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Search runs a websearch-style query.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	const base = `
		SELECT d.id, d.name,
			ts_headline('english', latest.content, websearch_to_tsquery('english', $1)) AS snippet,
			ts_rank(to_tsvector('english', d.name || ' ' || latest.content), websearch_to_tsquery('english', $1)) AS rank
		FROM documents d
		JOIN LATERAL (
			SELECT content FROM document_versions v
			WHERE v.document_id = d.id
			ORDER BY v.updated_at DESC
			LIMIT 1
		) latest ON TRUE
		WHERE to_tsvector('english', d.name || ' ' || latest.content) @@ websearch_to_tsquery('english', $1)
	`

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM (`+base+`) sub`, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, base+` ORDER BY rank DESC LIMIT $2 OFFSET $3`, q.Text, limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.ID, &r.Name, &r.Snippet, &rank); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every document for full reindexing into Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.name, COALESCE(latest.content, '')
		FROM documents d
		LEFT JOIN LATERAL (
			SELECT content FROM document_versions v
			WHERE v.document_id = d.id
			ORDER BY v.updated_at DESC
			LIMIT 1
		) latest ON TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	records := make([]DocumentRecord, 0)
	for rows.Next() {
		var record DocumentRecord
		if err := rows.Scan(&record.ID, &record.Name, &record.Content); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

package search

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxDocuments = "docvers_documents"

// Meili indexes and searches documents via Meilisearch. It tracks the
// server's health in the background and reports it so the facade can fall
// back to Postgres while Meilisearch is down.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     zerolog.Logger
}

// NewMeili creates a Meilisearch client and configures the document index.
func NewMeili(url, apiKey string, log zerolog.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
		log:    log.With().Str("component", "search").Logger(),
	}

	if _, err := client.Health(); err != nil {
		m.log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxDocuments,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug().Err(err).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxDocuments)
	searchable := []string{"name", "content"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn().Err(err).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Swap(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info().Msg("meilisearch recovered")
				m.configureIndex()
			}
			if err != nil && wasHealthy {
				m.log.Warn().Err(err).Msg("meilisearch went away")
			}
		}
	}
}

// Healthy reports whether the last health probe succeeded.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the document index.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	resp, err := m.client.Index(idxDocuments).Search(q.Text, &meili.SearchRequest{
		Limit:            limit,
		Offset:           int64(q.Offset),
		AttributesToCrop: []string{"content"},
		CropLength:       30,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meili search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, Result{
			ID:      decodeString(hit, "id"),
			Name:    decodeString(hit, "name"),
			Snippet: decodeFormattedString(hit, "content"),
		})
	}
	return results, int(resp.EstimatedTotalHits), nil
}

// IndexDocument adds or replaces one document in the index.
func (m *Meili) IndexDocument(doc DocumentRecord) error {
	if _, err := m.client.Index(idxDocuments).AddDocuments([]DocumentRecord{doc}, nil); err != nil {
		return fmt.Errorf("meili index document: %w", err)
	}
	return nil
}

// DeleteDocument removes one document from the index.
func (m *Meili) DeleteDocument(id string) error {
	if _, err := m.client.Index(idxDocuments).DeleteDocument(id, nil); err != nil {
		return fmt.Errorf("meili delete document: %w", err)
	}
	return nil
}

// Close stops the health loop.
func (m *Meili) Close() {
	close(m.done)
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return formatted[key]
}

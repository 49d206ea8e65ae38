// Package search finds documents by name and latest content, via Meilisearch
// when available and Postgres full-text search otherwise.
package search

// Query is a document search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// DocumentRecord is the indexed shape of a document.
type DocumentRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Result is one search hit.
type Result struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

// Response is a full search answer.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}

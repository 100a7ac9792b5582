// Package index is the boundary to content search. Scope documents are
// indexed as they are ingested; questions and free-text searches come back
// as ranked project hits.
package index

import "context"

// Document is one indexable piece of project text.
type Document struct {
	ProjectID string   `json:"project_id"`
	DocID     string   `json:"doc_id"`
	Text      string   `json:"text"`
	Tags      []string `json:"tags,omitempty"`
}

// Hit is a ranked search result.
type Hit struct {
	ProjectID string  `json:"project_id"`
	DocID     string  `json:"doc_id"`
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet,omitempty"`
}

// Indexer indexes project scope text and answers ranked queries.
// ProjectID on Search is optional; empty means search across all projects.
type Indexer interface {
	Index(ctx context.Context, doc Document) error
	Search(ctx context.Context, query, projectID string, limit int) ([]Hit, error)
}

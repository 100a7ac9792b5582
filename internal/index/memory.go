package index

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is a keyword Indexer for local mode and tests. Scoring is plain
// term overlap; good enough to find a project by client or scope words.
type Memory struct {
	mu   sync.RWMutex
	docs []Document
}

// NewMemory creates an empty in-memory indexer.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Index(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-indexing a doc replaces it.
	for i, d := range m.docs {
		if d.ProjectID == doc.ProjectID && d.DocID == doc.DocID {
			m.docs[i] = doc
			return nil
		}
	}
	m.docs = append(m.docs, doc)
	return nil
}

func (m *Memory) Search(_ context.Context, query, projectID string, limit int) ([]Hit, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, d := range m.docs {
		if projectID != "" && d.ProjectID != projectID {
			continue
		}
		score := scoreDoc(d, terms)
		if score == 0 {
			continue
		}
		hits = append(hits, Hit{
			ProjectID: d.ProjectID,
			DocID:     d.DocID,
			Score:     score,
			Snippet:   snippet(d.Text),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func scoreDoc(d Document, terms []string) float64 {
	text := strings.ToLower(d.Text)
	var score float64
	for _, t := range terms {
		if strings.Contains(text, t) {
			score++
		}
		for _, tag := range d.Tags {
			if strings.EqualFold(tag, t) {
				score += 2
			}
		}
	}
	return score
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,;:?!\"'()")
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

func snippet(text string) string {
	const max = 160
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}

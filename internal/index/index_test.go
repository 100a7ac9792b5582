package index

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SearchRanksByOverlap(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Index(ctx, Document{
		ProjectID: "p1",
		DocID:     "d1",
		Text:      "Full website rebuild with CMS migration for Acme.",
		Tags:      []string{"cms"},
	}))
	require.NoError(t, m.Index(ctx, Document{
		ProjectID: "p2",
		DocID:     "d2",
		Text:      "Brand refresh and logo exploration.",
	}))

	hits, err := m.Search(ctx, "cms migration", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p1", hits[0].ProjectID)
}

func TestMemory_SearchScopedToProject(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Index(ctx, Document{ProjectID: "p1", DocID: "d1", Text: "website rebuild"}))
	require.NoError(t, m.Index(ctx, Document{ProjectID: "p2", DocID: "d2", Text: "website audit"}))

	hits, err := m.Search(ctx, "website", "p2", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d2", hits[0].DocID)
}

func TestMemory_ReindexReplacesDoc(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Index(ctx, Document{ProjectID: "p1", DocID: "d1", Text: "original scope"}))
	require.NoError(t, m.Index(ctx, Document{ProjectID: "p1", DocID: "d1", Text: "revised scope"}))

	hits, err := m.Search(ctx, "revised", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	stale, err := m.Search(ctx, "original", "", 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestHTTPIndexer_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "cms migration", req.Query)

		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"hits": []Hit{{ProjectID: "p1", DocID: "d1", Score: 0.92}},
		})
	}))
	defer srv.Close()

	idx := NewHTTPIndexer(srv.URL, "test-key", WithRateLimit(100))
	hits, err := idx.Search(context.Background(), "cms migration", "", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p1", hits[0].ProjectID)
}

func TestHTTPIndexer_IndexErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	idx := NewHTTPIndexer(srv.URL, "", WithRateLimit(100))
	err := idx.Index(context.Background(), Document{ProjectID: "p1", DocID: "d1", Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

package vectorstore

import (
	"context"
	"hash/fnv"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fabfab/ragchat/config"
	"github.com/fabfab/ragchat/rag"
)

func TestGroupByDocumentKeepsOrder(t *testing.T) {
	chunks := []rag.Chunk{
		{ID: "a_0", DocumentID: "a"},
		{ID: "a_1", DocumentID: "a"},
		{ID: "b_0", DocumentID: "b"},
		{ID: "a_2", DocumentID: "a"},
	}

	groups := groupByDocument(chunks)
	require.Len(t, groups, 2)
	require.Len(t, groups[0], 3)
	require.Equal(t, "a_0", groups[0][0].ID)
	require.Equal(t, "a_2", groups[0][2].ID)
	require.Equal(t, "b_0", groups[1][0].ID)
}

func TestGroupByDocumentEmpty(t *testing.T) {
	require.Empty(t, groupByDocument(nil))
}

func TestContentSHA(t *testing.T) {
	a := []rag.Chunk{{Text: "one"}, {Text: "two"}}
	b := []rag.Chunk{{Text: "one"}, {Text: "two"}}
	c := []rag.Chunk{{Text: "two"}, {Text: "one"}}

	require.Equal(t, contentSHA(a), contentSHA(b))
	require.NotEqual(t, contentSHA(a), contentSHA(c))

	// The separator keeps chunk boundaries part of the hash.
	require.NotEqual(t, contentSHA([]rag.Chunk{{Text: "ab"}, {Text: "c"}}),
		contentSHA([]rag.Chunk{{Text: "a"}, {Text: "bc"}}))
}

// hashEmbedder derives a deterministic pseudo-vector from the text, so
// identical text always lands at distance zero from itself.
type hashEmbedder struct{ dim int }

func (h *hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		sum := fnv.New32a()
		sum.Write([]byte(text))
		seed := sum.Sum32()

		v := make([]float32, h.dim)
		for j := range v {
			seed = seed*1664525 + 1013904223
			v[j] = float32(seed%1000) / 1000
		}
		out[i] = v
	}
	return out, nil
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database integration tests")
	}

	cfg, err := config.Load("")
	require.NoError(t, err)

	ctx := context.Background()
	pool, err := NewPostgresPool(ctx, cfg.Database.DSN)
	require.NoError(t, err)
	defer pool.Close()

	dim := cfg.Embeddings.Dimension
	store := NewPostgres(pool, &hashEmbedder{dim: dim}, dim, zap.NewNop())
	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.Reset(ctx))

	chunks := []rag.Chunk{
		{ID: "docA_chunk_0", DocumentID: "docA", Source: "a.txt", Text: "alpha content", Index: 0, Start: 0, End: 13, Unit: "runes"},
		{ID: "docA_chunk_1", DocumentID: "docA", Source: "a.txt", Text: "beta content", Index: 1, Start: 10, End: 22, Unit: "runes"},
		{ID: "docB_chunk_0", DocumentID: "docB", Source: "b.txt", Text: "gamma content", Index: 0, Start: 0, End: 13, Unit: "runes"},
	}
	require.NoError(t, store.Add(ctx, chunks))

	results, err := store.Query(ctx, "alpha content", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "alpha content", results[0].Text)
	require.Equal(t, "a.txt", results[0].Source)
	require.InDelta(t, 1.0, results[0].Score, 1e-6)

	// Unchanged content is skipped without error.
	require.NoError(t, store.Add(ctx, chunks))

	// Changed content replaces all chunks of the document.
	replacement := []rag.Chunk{
		{ID: "docA_chunk_0", DocumentID: "docA", Source: "a.txt", Text: "delta content", Index: 0, Start: 0, End: 13, Unit: "runes"},
	}
	require.NoError(t, store.Add(ctx, replacement))

	results, err = store.Query(ctx, "delta content", 10)
	require.NoError(t, err)
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	require.Contains(t, texts, "delta content")
	require.NotContains(t, texts, "alpha content")
	require.NotContains(t, texts, "beta content")

	require.NoError(t, store.Reset(ctx))
	results, err = store.Query(ctx, "delta content", 10)
	require.NoError(t, err)
	require.Empty(t, results)
}

package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fabfab/ragchat/llm"
	"github.com/fabfab/ragchat/rag"
	"github.com/fabfab/ragchat/vectorstore"
)

type constEmbedder struct{}

func (constEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type nopLLM struct{}

func (nopLLM) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	return "ok", nil
}

func newTestService(t *testing.T, store rag.VectorStore) *Service {
	t.Helper()
	p, err := rag.New(rag.Config{
		ChunkSize:     50,
		ChunkOverlap:  10,
		TopK:          10,
		HistoryWindow: 4,
	}, store, nopLLM{}, zap.NewNop())
	require.NoError(t, err)
	return NewService(p, zap.NewNop())
}

func TestIngestDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha document content"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.md"), []byte("# Beta\n\nbeta document content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.bin"), []byte{0x00, 0x01}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0o644))

	store := vectorstore.NewMemory(constEmbedder{})
	svc := newTestService(t, store)

	stats, err := svc.IngestDirectory(context.Background(), dir)
	require.NoError(t, err)

	// The binary file is not a supported format and the empty file fails
	// ingestion; both are skipped without failing the run.
	require.Equal(t, 2, stats.Files)
	require.Equal(t, stats.Chunks, store.Len())
	require.Greater(t, stats.Chunks, 0)

	results, err := store.Query(context.Background(), "anything", 100)
	require.NoError(t, err)

	sources := make(map[string]bool)
	for _, r := range results {
		sources[r.Source] = true
	}
	require.True(t, sources["a.txt"])
	require.True(t, sources["sub/b.md"])
	require.False(t, sources["c.bin"])
	require.False(t, sources["empty.txt"])
}

func TestIngestDirectoryMissing(t *testing.T) {
	store := vectorstore.NewMemory(constEmbedder{})
	svc := newTestService(t, store)

	_, err := svc.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestIngestDirectoryEmpty(t *testing.T) {
	store := vectorstore.NewMemory(constEmbedder{})
	svc := newTestService(t, store)

	stats, err := svc.IngestDirectory(context.Background(), t.TempDir())
	require.NoError(t, err)
	require.Zero(t, stats.Files)
	require.Zero(t, stats.Chunks)
}

func TestIngestFileReplacesOnReingest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("original content of the document"), 0o644))

	store := vectorstore.NewMemory(constEmbedder{})
	svc := newTestService(t, store)

	n1, err := svc.IngestFile(context.Background(), dir, path)
	require.NoError(t, err)
	require.Greater(t, n1, 0)
	before := store.Len()

	require.NoError(t, os.WriteFile(path, []byte("rewritten content"), 0o644))
	_, err = svc.IngestFile(context.Background(), dir, path)
	require.NoError(t, err)

	// Same document identity, so the old chunks are replaced not added.
	require.LessOrEqual(t, store.Len(), before)

	results, err := store.Query(context.Background(), "anything", 100)
	require.NoError(t, err)
	for _, r := range results {
		require.NotContains(t, r.Text, "original")
	}
}

func TestDocumentIDDeterministic(t *testing.T) {
	require.Equal(t, documentID("docs/a.txt"), documentID("docs/a.txt"))
	require.NotEqual(t, documentID("docs/a.txt"), documentID("docs/b.txt"))
}

func TestWatchIngestsNewFiles(t *testing.T) {
	dir := t.TempDir()
	store := vectorstore.NewMemory(constEmbedder{})
	svc := newTestService(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx, dir) }()

	// Let the watcher register before the file shows up.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fresh.txt"), []byte("fresh content for the watcher"), 0o644))

	require.Eventually(t, func() bool { return store.Len() > 0 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/fabfab/ragchat/embeddings"
	"github.com/fabfab/ragchat/rag"
)

// Memory is an in-process store for tests and single-node setups. Chunks
// are keyed by ID, and adding chunks replaces everything previously
// stored for the same documents, mirroring the Postgres backend.
type Memory struct {
	embedder embeddings.Embedder

	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	chunk  rag.Chunk
	vector []float32
}

var _ rag.VectorStore = (*Memory)(nil)

func NewMemory(embedder embeddings.Embedder) *Memory {
	return &Memory{
		embedder: embedder,
		records:  make(map[string]memoryRecord),
	}
}

func (s *Memory) Add(ctx context.Context, chunks []rag.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embeddings.InBatches(ctx, s.embedder, texts, embedBatchSize)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Chunk counts can shrink between ingests of the same document, so
	// its old records are dropped before the new ones land.
	incoming := make(map[string]struct{})
	for _, c := range chunks {
		incoming[c.DocumentID] = struct{}{}
	}
	for id, rec := range s.records {
		if _, ok := incoming[rec.chunk.DocumentID]; ok {
			delete(s.records, id)
		}
	}

	for i, c := range chunks {
		s.records[c.ID] = memoryRecord{chunk: c, vector: vectors[i]}
	}
	return nil
}

// Query scores every stored chunk by cosine similarity against the query
// embedding and returns the topK best, ties broken by chunk ID for a
// deterministic order.
func (s *Memory) Query(ctx context.Context, query string, topK int) ([]rag.Retrieval, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}
	qv := vectors[0]

	type scoredChunk struct {
		chunk rag.Chunk
		score float64
	}

	s.mu.RLock()
	scored := make([]scoredChunk, 0, len(s.records))
	for _, rec := range s.records {
		scored = append(scored, scoredChunk{
			chunk: rec.chunk,
			score: cosineSimilarity(qv, rec.vector),
		})
	}
	s.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].chunk.ID < scored[j].chunk.ID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	results := make([]rag.Retrieval, len(scored))
	for i, sc := range scored {
		results[i] = rag.Retrieval{
			Text:       sc.chunk.Text,
			Score:      sc.score,
			DocumentID: sc.chunk.DocumentID,
			Source:     sc.chunk.Source,
		}
	}
	return results, nil
}

// Reset drops every stored chunk.
func (s *Memory) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]memoryRecord)
	return nil
}

// Len reports the number of stored chunks.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

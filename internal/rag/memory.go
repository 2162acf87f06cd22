package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a VectorStore backed by process memory with brute-force
// cosine similarity. It is used by tests and for local development when no
// Qdrant instance is available. Contents do not survive a restart.
type MemoryStore struct {
	// mu guards docs and vectors.
	mu sync.RWMutex
	// docs holds the stored documents, keyed by position.
	docs []Document
	// vectors is parallel to docs.
	vectors [][]float32
	// index maps document ID to its position in docs for upsert-by-ID.
	index map[string]int
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int)}
}

// Upsert stores or replaces documents by ID.
func (s *MemoryStore) Upsert(_ context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("memory store: docs and embeddings length mismatch: %d vs %d", len(docs), len(embeddings))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, doc := range docs {
		if pos, ok := s.index[doc.ID]; ok {
			s.docs[pos] = doc
			s.vectors[pos] = embeddings[i]
			continue
		}
		s.index[doc.ID] = len(s.docs)
		s.docs = append(s.docs, doc)
		s.vectors = append(s.vectors, embeddings[i])
	}
	return nil
}

// Search returns the topK documents ranked by descending cosine similarity.
func (s *MemoryStore) Search(_ context.Context, queryEmbedding []float32, topK int) ([]Document, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("memory store: topK must be > 0, got %d", topK)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		doc   Document
		score float32
	}
	results := make([]scored, 0, len(s.docs))
	for i, vec := range s.vectors {
		results = append(results, scored{doc: s.docs[i], score: cosine(queryEmbedding, vec)})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	if topK > len(results) {
		topK = len(results)
	}
	out := make([]Document, 0, topK)
	for _, r := range results[:topK] {
		doc := r.doc
		doc.Score = r.score
		out = append(out, doc)
	}
	return out, nil
}

// Delete removes documents by ID. Unknown IDs are ignored.
func (s *MemoryStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[int]bool, len(ids))
	for _, id := range ids {
		if pos, ok := s.index[id]; ok {
			drop[pos] = true
		}
	}
	if len(drop) == 0 {
		return nil
	}

	docs := make([]Document, 0, len(s.docs)-len(drop))
	vectors := make([][]float32, 0, len(s.vectors)-len(drop))
	index := make(map[string]int, len(s.docs)-len(drop))
	for i, doc := range s.docs {
		if drop[i] {
			continue
		}
		index[doc.ID] = len(docs)
		docs = append(docs, doc)
		vectors = append(vectors, s.vectors[i])
	}
	s.docs, s.vectors, s.index = docs, vectors, index
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// cosine returns the cosine similarity of a and b. Mismatched lengths score 0.
func cosine(a, b []float32) float32 {
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
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

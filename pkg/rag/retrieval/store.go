package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"bioimage-chatbot-be/internal/repository/contract"
	"bioimage-chatbot-be/pkg/embedding"

	"github.com/patrickmn/go-cache"
)

// Hit is one search result in the store's native rank order.
type Hit struct {
	Text     string
	Score    float64
	Metadata map[string]any
}

// Store searches one channel's similarity index.
type Store interface {
	Search(ctx context.Context, query string, k int) ([]Hit, error)
}

// ChunkSearcher is the slice of the chunk repository a PgvectorStore needs.
type ChunkSearcher interface {
	SearchSimilarWithScore(ctx context.Context, channelId string, embedding []float32, limit int, threshold float64) ([]*contract.ScoredKnowledgeChunk, error)
}

// PgvectorStore serves one channel out of the knowledge_chunks table.
type PgvectorStore struct {
	channelID string
	chunks    ChunkSearcher
	embedder  embedding.EmbeddingProvider
	threshold float64
}

func NewPgvectorStore(channelID string, chunks ChunkSearcher, embedder embedding.EmbeddingProvider) *PgvectorStore {
	return &PgvectorStore{
		channelID: channelID,
		chunks:    chunks,
		embedder:  embedder,
	}
}

func (s *PgvectorStore) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	res, err := s.embedder.Generate(ctx, query, embedding.TaskTypeRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	scored, err := s.chunks.SearchSimilarWithScore(ctx, s.channelID, res.Embedding.Values, k, s.threshold)
	if err != nil {
		return nil, fmt.Errorf("vector search on %s: %w", s.channelID, err)
	}

	hits := make([]Hit, 0, len(scored))
	for _, sc := range scored {
		meta := sc.Chunk.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		if sc.Chunk.DocumentId != "" {
			if _, ok := meta["doc_id"]; !ok {
				meta["doc_id"] = sc.Chunk.DocumentId
			}
		}
		hits = append(hits, Hit{Text: sc.Chunk.Content, Score: sc.Similarity, Metadata: meta})
	}
	return hits, nil
}

const DefaultCacheTTL = 10 * time.Minute

// CachedStore memoises a Store per (query, k). Errors are not cached.
type CachedStore struct {
	next  Store
	cache *cache.Cache
}

func NewCachedStore(next Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (s *CachedStore) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	key := strconv.Itoa(k) + "|" + query
	if v, found := s.cache.Get(key); found {
		return v.([]Hit), nil
	}

	hits, err := s.next.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(key, hits)
	return hits, nil
}

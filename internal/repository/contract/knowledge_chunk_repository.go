package contract

import (
	"context"

	"bioimage-chatbot-be/internal/entity"
	"bioimage-chatbot-be/internal/repository/specification"
)

// ScoredKnowledgeChunk wraps KnowledgeChunk with its similarity score
type ScoredKnowledgeChunk struct {
	Chunk      *entity.KnowledgeChunk
	Similarity float64 // 1.0 = identical
}

type KnowledgeChunkRepository interface {
	CreateBulk(ctx context.Context, chunks []*entity.KnowledgeChunk) error
	Delete(ctx context.Context, specs ...specification.Specification) error
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	// SearchSimilarWithScore returns the channel's chunks nearest to embedding, best first
	SearchSimilarWithScore(ctx context.Context, channelId string, embedding []float32, limit int, threshold float64) ([]*ScoredKnowledgeChunk, error)
}

package entity

import (
	"time"

	"github.com/google/uuid"
)

type KnowledgeChunk struct {
	Id             uuid.UUID
	ChannelId      string
	DocumentId     string
	ChunkIndex     int
	Content        string
	Metadata       map[string]any
	EmbeddingValue []float32
	CreatedAt      time.Time
}

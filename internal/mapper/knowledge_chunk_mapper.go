package mapper

import (
	"encoding/json"

	"bioimage-chatbot-be/internal/entity"
	"bioimage-chatbot-be/internal/model"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type KnowledgeChunkMapper struct{}

func NewKnowledgeChunkMapper() *KnowledgeChunkMapper {
	return &KnowledgeChunkMapper{}
}

func (m *KnowledgeChunkMapper) ToEntity(c *model.KnowledgeChunk) *entity.KnowledgeChunk {
	if c == nil {
		return nil
	}

	meta := map[string]any{}
	if len(c.Metadata) > 0 {
		// Bad rows keep an empty map rather than failing the search
		_ = json.Unmarshal(c.Metadata, &meta)
	}

	return &entity.KnowledgeChunk{
		Id:             c.Id,
		ChannelId:      c.ChannelId,
		DocumentId:     c.DocumentId,
		ChunkIndex:     c.ChunkIndex,
		Content:        c.Content,
		Metadata:       meta,
		EmbeddingValue: c.EmbeddingValue.Slice(),
		CreatedAt:      c.CreatedAt,
	}
}

func (m *KnowledgeChunkMapper) ToModel(c *entity.KnowledgeChunk) (*model.KnowledgeChunk, error) {
	if c == nil {
		return nil, nil
	}

	var meta datatypes.JSON
	if c.Metadata != nil {
		raw, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, err
		}
		meta = datatypes.JSON(raw)
	}

	return &model.KnowledgeChunk{
		Id:             c.Id,
		ChannelId:      c.ChannelId,
		DocumentId:     c.DocumentId,
		ChunkIndex:     c.ChunkIndex,
		Content:        c.Content,
		Metadata:       meta,
		EmbeddingValue: pgvector.NewVector(c.EmbeddingValue),
		CreatedAt:      c.CreatedAt,
	}, nil
}

package mapper

import (
	"testing"

	"bioimage-chatbot-be/internal/entity"
	"bioimage-chatbot-be/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestKnowledgeChunkMapping(t *testing.T) {
	m := NewKnowledgeChunkMapper()
	id := uuid.New()

	mod, err := m.ToModel(&entity.KnowledgeChunk{
		Id:             id,
		ChannelId:      "imagej",
		DocumentId:     "doc-1",
		ChunkIndex:     2,
		Content:        "Threshold the image first.",
		Metadata:       map[string]any{"source": "https://imagej.net/ij/docs"},
		EmbeddingValue: []float32{0.1, 0.2},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, mod.EmbeddingValue.Slice())
	assert.JSONEq(t, `{"source":"https://imagej.net/ij/docs"}`, string(mod.Metadata))

	back := m.ToEntity(mod)
	assert.Equal(t, id, back.Id)
	assert.Equal(t, 2, back.ChunkIndex)
	assert.Equal(t, "https://imagej.net/ij/docs", back.Metadata["source"])
}

func TestToEntityToleratesBadMetadata(t *testing.T) {
	m := NewKnowledgeChunkMapper()

	e := m.ToEntity(&model.KnowledgeChunk{Metadata: datatypes.JSON(`not json`)})
	require.NotNil(t, e)
	assert.Empty(t, e.Metadata)

	assert.Nil(t, m.ToEntity(nil))
}

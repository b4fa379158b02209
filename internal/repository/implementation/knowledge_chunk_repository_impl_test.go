package implementation

import (
	"context"
	"log"
	"os"
	"testing"

	"bioimage-chatbot-be/internal/entity"
	"bioimage-chatbot-be/internal/model"
	"bioimage-chatbot-be/internal/repository/specification"
	"bioimage-chatbot-be/pkg/database"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitVector(hot int) []float32 {
	v := make([]float32, 768)
	v[hot] = 1
	return v
}

func TestKnowledgeChunkRepository(t *testing.T) {
	if err := godotenv.Load("../../../.env"); err != nil {
		log.Println("No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("Skipping integration test: DB_CONNECTION_STRING not set")
	}

	db, err := database.NewGormDBFromDSN(dsn, true)
	require.NoError(t, err)
	require.NoError(t, database.EnsureVectorExtension(db))
	require.NoError(t, db.AutoMigrate(&model.KnowledgeChunk{}))

	ctx := context.Background()
	repo := NewKnowledgeChunkRepository(db)
	channel := "it-" + uuid.NewString()
	t.Cleanup(func() {
		_ = repo.Delete(ctx, specification.ByChannelID{ChannelID: channel})
	})

	chunks := []*entity.KnowledgeChunk{
		{Id: uuid.New(), ChannelId: channel, DocumentId: "doc-a", Content: "segmentation", EmbeddingValue: unitVector(0)},
		{Id: uuid.New(), ChannelId: channel, DocumentId: "doc-b", Content: "tracking", EmbeddingValue: unitVector(1)},
		{Id: uuid.New(), ChannelId: "other-" + channel, DocumentId: "doc-c", Content: "elsewhere", EmbeddingValue: unitVector(0)},
	}
	require.NoError(t, repo.CreateBulk(ctx, chunks))
	t.Cleanup(func() {
		_ = repo.Delete(ctx, specification.ByChannelID{ChannelID: "other-" + channel})
	})

	t.Run("Count by channel", func(t *testing.T) {
		count, err := repo.Count(ctx, specification.ByChannelID{ChannelID: channel})
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("Search stays inside the channel, best first", func(t *testing.T) {
		scored, err := repo.SearchSimilarWithScore(ctx, channel, unitVector(0), 5, 0)
		require.NoError(t, err)
		require.Len(t, scored, 2)
		assert.Equal(t, "segmentation", scored[0].Chunk.Content)
		assert.InDelta(t, 1.0, scored[0].Similarity, 1e-6)
		assert.InDelta(t, 0.0, scored[1].Similarity, 1e-6)
	})

	t.Run("Threshold drops weak matches", func(t *testing.T) {
		scored, err := repo.SearchSimilarWithScore(ctx, channel, unitVector(0), 5, 0.5)
		require.NoError(t, err)
		require.Len(t, scored, 1)
		assert.Equal(t, "doc-a", scored[0].Chunk.DocumentId)
	})

	t.Run("Delete requires a filter", func(t *testing.T) {
		assert.Error(t, repo.Delete(ctx))
	})

	t.Run("Delete by document", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, specification.ByChannelID{ChannelID: channel}, specification.ByDocumentID{DocumentID: "doc-b"}))
		count, err := repo.Count(ctx, specification.ByChannelID{ChannelID: channel})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

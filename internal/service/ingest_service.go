package service

import (
	"context"
	"fmt"

	"bioimage-chatbot-be/internal/dto"
	"bioimage-chatbot-be/internal/entity"
	"bioimage-chatbot-be/internal/pkg/logger"
	"bioimage-chatbot-be/internal/pkg/serverutils"
	"bioimage-chatbot-be/internal/repository/contract"
	"bioimage-chatbot-be/internal/repository/specification"
	"bioimage-chatbot-be/pkg/embedding"
	"bioimage-chatbot-be/pkg/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	IngestChunkSize    = 1000
	IngestChunkOverlap = 100
	ingestParallelism  = 4
)

// IIngestService loads documents into one channel's vector index.
type IIngestService interface {
	Ingest(ctx context.Context, channelID string, docs []dto.KnowledgeDocument, replace bool) (*dto.IngestResult, error)
}

type ingestService struct {
	chunks   contract.KnowledgeChunkRepository
	embedder embedding.EmbeddingProvider
	logger   logger.ILogger
}

func NewIngestService(chunks contract.KnowledgeChunkRepository, embedder embedding.EmbeddingProvider, log logger.ILogger) IIngestService {
	return &ingestService{
		chunks:   chunks,
		embedder: embedder,
		logger:   log,
	}
}

func (s *ingestService) Ingest(ctx context.Context, channelID string, docs []dto.KnowledgeDocument, replace bool) (*dto.IngestResult, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel id is required")
	}
	for i := range docs {
		if err := serverutils.ValidateRequest(docs[i]); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
	}

	var pending []*entity.KnowledgeChunk
	for _, doc := range docs {
		for i, text := range utils.SplitText(doc.Content, IngestChunkSize, IngestChunkOverlap) {
			meta := make(map[string]any, len(doc.Metadata))
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			pending = append(pending, &entity.KnowledgeChunk{
				Id:         uuid.New(),
				ChannelId:  channelID,
				DocumentId: doc.Id,
				ChunkIndex: i,
				Content:    text,
				Metadata:   meta,
			})
		}
	}

	// embed everything before touching the table so a failed run leaves the
	// previous index intact
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestParallelism)
	for _, chunk := range pending {
		g.Go(func() error {
			res, err := s.embedder.Generate(gctx, chunk.Content, embedding.TaskTypeRetrievalDocument)
			if err != nil {
				return fmt.Errorf("embed %s#%d: %w", chunk.DocumentId, chunk.ChunkIndex, err)
			}
			chunk.EmbeddingValue = res.Embedding.Values
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &dto.IngestResult{ChannelId: channelID, Documents: len(docs), Chunks: len(pending)}

	if replace {
		count, err := s.chunks.Count(ctx, specification.ByChannelID{ChannelID: channelID})
		if err != nil {
			return nil, err
		}
		if err := s.chunks.Delete(ctx, specification.ByChannelID{ChannelID: channelID}); err != nil {
			return nil, fmt.Errorf("clear channel %s: %w", channelID, err)
		}
		result.Replaced = count
	}

	if err := s.chunks.CreateBulk(ctx, pending); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}

	s.logger.Info("Ingest", "Channel indexed", map[string]interface{}{
		"channel_id": channelID,
		"documents":  result.Documents,
		"chunks":     result.Chunks,
		"replaced":   result.Replaced,
	})
	return result, nil
}

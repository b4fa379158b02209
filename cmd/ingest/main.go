package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"bioimage-chatbot-be/internal/config"
	"bioimage-chatbot-be/internal/dto"
	"bioimage-chatbot-be/internal/pkg/logger"
	"bioimage-chatbot-be/internal/repository/implementation"
	"bioimage-chatbot-be/internal/service"
	"bioimage-chatbot-be/pkg/collection"
	"bioimage-chatbot-be/pkg/database"
	"bioimage-chatbot-be/pkg/embedding"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("ingest failed: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		channelID string
		replace   bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <documents.jsonl>",
		Short: "Index a JSONL document dump into one knowledge channel",
		Long: `Reads one JSON object per line ({"id","content","metadata"}), splits the
content into chunks, embeds them with the configured provider and stores them
in knowledge_chunks under the given channel.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], channelID, replace, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&channelID, "channel", "c", "", "collection id from the knowledge manifest (required)")
	cmd.Flags().BoolVar(&replace, "replace", false, "delete the channel's existing chunks first")
	_ = cmd.MarkFlagRequired("channel")

	return cmd
}

func run(ctx context.Context, path, channelID string, replace bool, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Load()

	collections, err := collection.LoadManifest(cfg.Knowledge.ManifestPath)
	if err != nil {
		return err
	}
	registry, err := collection.NewRegistry(collections, nil, cfg.Knowledge.DefaultChannelID)
	if err != nil {
		return err
	}
	col, ok := registry.Get(channelID)
	if !ok {
		return fmt.Errorf("%w %q, known collections: %s", collection.ErrUnknownChannel, channelID, strings.Join(registry.Channels(), ", "))
	}

	docs, err := readDocuments(path)
	if err != nil {
		return err
	}

	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, true)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	embedder, err := embedding.NewProvider(ctx, cfg.Ai.EmbeddingProvider, cfg.Ai.OllamaBaseURL, cfg.Ai.EmbeddingModel, cfg.Ai.GoogleAPIKey)
	if err != nil {
		return err
	}

	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	defer sysLogger.Sync()

	svc := service.NewIngestService(implementation.NewKnowledgeChunkRepository(db), embedder, sysLogger)
	res, err := svc.Ingest(ctx, col.ID, docs, replace)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).FprintfFunc()
	green(out, "indexed %d documents as %d chunks into %s (replaced %d)\n", res.Documents, res.Chunks, res.ChannelId, res.Replaced)
	return nil
}

func readDocuments(path string) ([]dto.KnowledgeDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []dto.KnowledgeDocument
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var doc dto.KnowledgeDocument
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		color.Yellow("Warn: %s contains no documents", path)
	}
	return docs, nil
}

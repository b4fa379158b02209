package dto

// KnowledgeDocument is one line of an ingest JSONL file.
type KnowledgeDocument struct {
	Id       string         `json:"id" validate:"required"`
	Content  string         `json:"content" validate:"required"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type IngestResult struct {
	ChannelId string `json:"channel_id"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Replaced  int64  `json:"replaced"`
}

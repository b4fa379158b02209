package intent

import (
	"bioimage-chatbot-be/pkg/collection"
	"bioimage-chatbot-be/pkg/rag/ranking"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type UserProfile struct {
	Name       string `json:"name"`
	Occupation string `json:"occupation"`
	Background string `json:"background"`
}

// CapabilitySpec describes a caller-supplied capability to the classifier.
type CapabilitySpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// ClassifyInput is everything the classifier sees for one request.
type ClassifyInput struct {
	Profile        UserProfile
	History        []ChatMessage
	Question       string
	Channels       []collection.Collection
	PinnedChannel  *collection.Collection
	ResourceSchema string
	Capabilities   []CapabilitySpec
}

type ScriptOutput struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// SynthesisRequest feeds the final answer. Passages is set after a
// retrieval, Script after a script run.
type SynthesisRequest struct {
	Question        string
	Request         string
	PreliminaryText string
	Format          string
	Passages        []ranking.ScoredPassage
	Script          *ScriptOutput
}

package router

import (
	"context"

	"bioimage-chatbot-be/pkg/ai/intent"
	"bioimage-chatbot-be/pkg/collection"
	"bioimage-chatbot-be/pkg/eventbus"
	"bioimage-chatbot-be/pkg/rag/ranking"
	"bioimage-chatbot-be/pkg/sandbox"
)

// Step names as shown to the user.
const (
	StepDirect            = "Direct"
	StepLearn             = "Learn"
	StepFunctionCall      = "Function Call"
	StepDocumentRetrieval = "Document Retrieval"
	StepDocumentSearch    = "Document Search"
	StepFinalResponse     = "Final Response"
	StepScript            = "Model Zoo Info Script"
	StepScriptExecution   = "Script Execution"
)

type Step struct {
	Name    string         `json:"name"`
	Details map[string]any `json:"details,omitempty"`
}

type Response struct {
	Text  string `json:"text"`
	Steps []Step `json:"steps"`
}

// Capability is a caller-supplied function the classifier may choose.
type Capability interface {
	Spec() intent.CapabilitySpec
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// RequestContext is owned by one request and not modified after Route starts.
type RequestContext struct {
	Question     string
	ChatHistory  []intent.ChatMessage
	Profile      intent.UserProfile
	Channel      collection.Selection
	SessionID    string
	Capabilities map[string]Capability
}

type Classifier interface {
	Classify(ctx context.Context, in intent.ClassifyInput, legal intent.VariantSet) (intent.Classification, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, req intent.SynthesisRequest) (string, error)
}

type Responder interface {
	Classifier
	Synthesizer
}

type Merger interface {
	Merge(ctx context.Context, query, channelID string) (ranking.Ranked, error)
}

type Executor interface {
	Execute(ctx context.Context, script string, resources []map[string]any) sandbox.Result
}

type Publisher interface {
	Publish(ev eventbus.Event) error
}

type FallbackPolicy string

const (
	// FallbackLearn re-classifies a failed invocation as a LearnAnswer.
	FallbackLearn FallbackPolicy = "learn"
	// FallbackFail surfaces the InvocationError to the caller.
	FallbackFail FallbackPolicy = "fail"
)

// LegalVariants maps a channel selection to the strategies allowed for it.
func LegalVariants(sel collection.Selection) intent.VariantSet {
	switch sel.Kind {
	case collection.SelectionLearn:
		return intent.NewVariantSet(intent.VariantLearn)
	case collection.SelectionCustom:
		return intent.NewVariantSet(intent.VariantCustom)
	case collection.SelectionNamed:
		return intent.NewVariantSet(intent.VariantDirect, intent.VariantRetrieval)
	default:
		return intent.NewVariantSet(intent.VariantDirect, intent.VariantRetrieval, intent.VariantScript, intent.VariantLearn)
	}
}

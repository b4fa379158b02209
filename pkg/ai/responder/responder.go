package responder

import (
	"context"
	"errors"
	"strings"

	"bioimage-chatbot-be/internal/pkg/logger"
	"bioimage-chatbot-be/pkg/ai/intent"
	"bioimage-chatbot-be/pkg/llm"
)

const logModule = "RESPONDER"

// LLMResponder classifies and synthesizes with a chat model.
type LLMResponder struct {
	provider llm.LLMProvider
	logger   logger.ILogger
	opts     []llm.Option
}

func NewLLMResponder(provider llm.LLMProvider, log logger.ILogger, opts ...llm.Option) *LLMResponder {
	return &LLMResponder{
		provider: provider,
		logger:   log,
		opts:     opts,
	}
}

func (r *LLMResponder) Classify(ctx context.Context, in intent.ClassifyInput, legal intent.VariantSet) (intent.Classification, error) {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: r.classifyPrompt(in, legal)}}
	for _, m := range in.History {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: in.Question})

	opts := append([]llm.Option{llm.WithJSON(), llm.WithTemperature(0.2)}, r.opts...)
	raw, err := r.provider.Chat(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}

	cls, err := ParseClassification(raw, legal)
	if err != nil {
		r.logger.Debug(logModule, "Unparseable classifier reply", map[string]interface{}{
			"reply": raw,
			"error": err.Error(),
		})
		return nil, err
	}
	return cls, nil
}

func (r *LLMResponder) Synthesize(ctx context.Context, req intent.SynthesisRequest) (string, error) {
	text, err := r.provider.Generate(ctx, synthesisPrompt(req), r.opts...)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty synthesis reply")
	}
	return text, nil
}

package responder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bioimage-chatbot-be/pkg/ai/intent"
)

var ErrMalformed = errors.New("malformed classifier output")

// envelope is the flat JSON object the model answers with; "type" picks
// the variant and the other fields are read accordingly.
type envelope struct {
	Type                string         `json:"type"`
	Text                string         `json:"text"`
	Request             string         `json:"request"`
	PreliminaryResponse string         `json:"preliminary_response"`
	Query               string         `json:"query"`
	ChannelID           string         `json:"channel_id"`
	Script              string         `json:"script"`
	Capability          string         `json:"capability"`
	Args                map[string]any `json:"args"`
}

// ParseClassification decodes a model reply into a variant from legal.
func ParseClassification(raw string, legal intent.VariantSet) (intent.Classification, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	variant, ok := intent.ParseVariant(env.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	if !legal.Has(variant) {
		return nil, fmt.Errorf("%w: %s not in %s", ErrMalformed, variant, legal)
	}

	switch variant {
	case intent.VariantDirect:
		if env.Text == "" {
			return nil, fmt.Errorf("%w: DirectAnswer without text", ErrMalformed)
		}
		return intent.DirectAnswer{Text: env.Text}, nil
	case intent.VariantLearn:
		if env.Text == "" {
			return nil, fmt.Errorf("%w: LearnAnswer without text", ErrMalformed)
		}
		return intent.LearnAnswer{Text: env.Text}, nil
	case intent.VariantRetrieval:
		if env.Query == "" {
			return nil, fmt.Errorf("%w: RetrievalQuery without query", ErrMalformed)
		}
		return intent.RetrievalQuery{
			Request:         env.Request,
			PreliminaryText: env.PreliminaryResponse,
			Query:           env.Query,
			ChannelID:       env.ChannelID,
		}, nil
	case intent.VariantScript:
		if env.Script == "" {
			return nil, fmt.Errorf("%w: ScriptQuery without script", ErrMalformed)
		}
		return intent.ScriptQuery{Script: env.Script, Request: env.Request}, nil
	case intent.VariantCustom:
		if env.Capability == "" {
			return nil, fmt.Errorf("%w: CustomInvocation without capability", ErrMalformed)
		}
		args := env.Args
		if args == nil {
			args = map[string]any{}
		}
		return intent.CustomInvocation{Capability: env.Capability, Args: args}, nil
	}
	return nil, fmt.Errorf("%w: unhandled type %s", ErrMalformed, variant)
}

// extractJSON strips markdown fences and surrounding prose.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("%w: no JSON object in reply", ErrMalformed)
	}
	return s[start : end+1], nil
}

package responder

import (
	"encoding/json"
	"fmt"
	"strings"

	"bioimage-chatbot-be/pkg/ai/intent"
	"bioimage-chatbot-be/pkg/collection"
	"bioimage-chatbot-be/pkg/rag/ranking"
)

const assistantPersona = `You are the community knowledge base assistant for bioimage analysis.
You help users with tools, models and workflows, answer clearly and stay friendly.
Tailor the depth of every answer to the user's background.`

// variantSchemas tells the model which fields each strategy carries.
var variantSchemas = map[intent.Variant]string{
	intent.VariantDirect: `{"type": "DirectAnswer", "text": "<complete answer>"}
  Use for greetings, small talk and questions you can answer reliably without documentation.`,
	intent.VariantLearn: `{"type": "LearnAnswer", "text": "<tutor-style answer>"}
  Use to teach a concept step by step, suggesting exercises where it helps.`,
	intent.VariantRetrieval: `{"type": "RetrievalQuery", "request": "<the user's request, rephrased>", "preliminary_response": "<short answer from what you already know>", "query": "<search query for the documentation>", "channel_id": "<one of the channel ids, or \"all\">"}
  Use when the answer needs documentation from the knowledge base.`,
	intent.VariantScript: `{"type": "ScriptQuery", "request": "<the user's request, rephrased>", "script": "<Go statements>"}
  Use for questions about the resource dataset (counts, lookups, filters). The script is a
  sequence of Go statements run by an interpreter; the variable ` + "`resources`" + ` is already
  defined and fmt, strings, strconv, sort, regexp, math, time, encoding/json are imported.
  Print the answer with fmt.Println. No file, network or os access is available.`,
	intent.VariantCustom: `{"type": "CustomInvocation", "capability": "<capability name>", "args": {<arguments matching its schema>}}
  Use to call one of the capabilities listed below.`,
}

func (r *LLMResponder) classifyPrompt(in intent.ClassifyInput, legal intent.VariantSet) string {
	var b strings.Builder

	b.WriteString(assistantPersona)
	b.WriteString("\n\n")
	writeProfile(&b, in.Profile)

	b.WriteString("Reply with exactly one JSON object using one of these shapes:\n")
	for _, v := range legal.Variants() {
		fmt.Fprintf(&b, "- %s\n", variantSchemas[v])
	}

	if legal.Has(intent.VariantRetrieval) {
		writeChannels(&b, in.Channels, in.PinnedChannel)
	}
	if legal.Has(intent.VariantScript) && in.ResourceSchema != "" {
		b.WriteString("\nResource dataset:\n")
		b.WriteString(in.ResourceSchema)
	}
	if legal.Has(intent.VariantCustom) {
		writeCapabilities(&b, in.Capabilities)
	}

	b.WriteString("\nDo not add any text outside the JSON object.")
	return b.String()
}

func writeProfile(b *strings.Builder, p intent.UserProfile) {
	if p == (intent.UserProfile{}) {
		return
	}
	b.WriteString("User profile:\n")
	if p.Name != "" {
		fmt.Fprintf(b, "  name: %s\n", p.Name)
	}
	if p.Occupation != "" {
		fmt.Fprintf(b, "  occupation: %s\n", p.Occupation)
	}
	if p.Background != "" {
		fmt.Fprintf(b, "  background: %s\n", p.Background)
	}
	b.WriteString("\n")
}

func writeChannels(b *strings.Builder, channels []collection.Collection, pinned *collection.Collection) {
	if pinned != nil {
		fmt.Fprintf(b, "\nSearch only the %q channel: %s\n", pinned.ID, pinned.Description)
		return
	}
	b.WriteString("\nKnowledge base channels (use \"all\" when unsure):\n")
	for _, c := range channels {
		fmt.Fprintf(b, "  - %s: %s\n", c.ID, c.Description)
	}
}

func writeCapabilities(b *strings.Builder, caps []intent.CapabilitySpec) {
	b.WriteString("\nCapabilities:\n")
	if len(caps) == 0 {
		b.WriteString("  (none provided)\n")
		return
	}
	for _, c := range caps {
		schema, _ := json.Marshal(c.Schema)
		fmt.Fprintf(b, "  - %s: %s\n    schema: %s\n", c.Name, c.Description, schema)
	}
}

func synthesisPrompt(req intent.SynthesisRequest) string {
	var b strings.Builder

	b.WriteString(assistantPersona)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "User question: %s\n", req.Question)
	if req.Request != "" && req.Request != req.Question {
		fmt.Fprintf(&b, "Interpreted request: %s\n", req.Request)
	}
	if req.PreliminaryText != "" {
		fmt.Fprintf(&b, "Preliminary answer: %s\n", req.PreliminaryText)
	}

	switch {
	case req.Script != nil:
		b.WriteString("\nA script was run against the resource dataset.\n")
		fmt.Fprintf(&b, "stdout:\n%s\n", req.Script.Stdout)
		if req.Script.Stderr != "" {
			fmt.Fprintf(&b, "stderr:\n%s\n", req.Script.Stderr)
			b.WriteString("If the script failed, say so and answer from what is known.\n")
		}
	default:
		writePassages(&b, req.Passages)
		if req.Format != "" {
			fmt.Fprintf(&b, "\nDocumentation format: %s\n", req.Format)
		}
	}

	b.WriteString("\nWrite the final answer in markdown. Cite documentation links when available and do not invent facts.")
	return b.String()
}

func writePassages(b *strings.Builder, passages []ranking.ScoredPassage) {
	if len(passages) == 0 {
		b.WriteString("\nNo relevant documentation was found.\n")
		return
	}
	b.WriteString("\nRelevant documentation:\n")
	for i, p := range passages {
		fmt.Fprintf(b, "[%d] (channel %s, score %.3f", i+1, p.ChannelID, p.Score)
		if src, ok := p.Metadata["source"].(string); ok && src != "" {
			fmt.Fprintf(b, ", source %s", joinURL(p.BaseURL, src))
		} else if p.BaseURL != "" {
			fmt.Fprintf(b, ", base url %s", p.BaseURL)
		}
		fmt.Fprintf(b, ")\n%s\n", p.Text)
	}
}

func joinURL(base, path string) string {
	if base == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

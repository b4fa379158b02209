package router

import (
	"context"
	"errors"
	"fmt"

	"bioimage-chatbot-be/pkg/ai/intent"
	"bioimage-chatbot-be/pkg/eventbus"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func (r *Router) retrieve(ctx context.Context, rn *run, q intent.RetrievalQuery) (string, error) {
	ctx, span := r.tracer.Start(ctx, "router.retrieve", trace.WithAttributes(
		attribute.String("chat.retrieval_channel", q.ChannelID),
	))
	defer span.End()

	r.step(rn, StepDocumentRetrieval, map[string]any{
		"request":              q.Request,
		"query":                q.Query,
		"channel_id":           q.ChannelID,
		"preliminary_response": q.PreliminaryText,
	})

	ranked, err := r.merger.Merge(ctx, q.Query, q.ChannelID)
	if err != nil {
		// validate already checked the channel, so this is a registry/store mismatch
		return "", err
	}

	details := map[string]any{
		"channel_id": q.ChannelID,
		"passages":   ranked.Passages,
	}
	if len(ranked.Degraded) > 0 {
		details["degraded"] = ranked.Degraded
		r.logger.Warn(logModule, "Retrieval degraded", map[string]interface{}{
			"session_id": rn.req.SessionID,
			"degraded":   ranked.Degraded,
		})
	}
	r.step(rn, StepDocumentSearch, details)

	text, err := r.synthesize(ctx, intent.SynthesisRequest{
		Question:        rn.req.Question,
		Request:         q.Request,
		PreliminaryText: q.PreliminaryText,
		Format:          ranked.Format,
		Passages:        ranked.Passages,
	})
	if err != nil {
		return "", err
	}
	r.step(rn, StepFinalResponse, map[string]any{"format": ranked.Format})
	return text, nil
}

func (r *Router) runScript(ctx context.Context, rn *run, q intent.ScriptQuery) (string, error) {
	ctx, span := r.tracer.Start(ctx, "router.script")
	defer span.End()

	r.step(rn, StepScript, map[string]any{
		"script":  q.Script,
		"request": q.Request,
	})

	res := r.executor.Execute(ctx, q.Script, r.registry.Resources())
	if res.Failed() {
		span.SetAttributes(attribute.Bool("chat.script_failed", true))
	}
	r.step(rn, StepScriptExecution, map[string]any{
		"stdout": res.Stdout,
		"stderr": res.Stderr,
	})

	text, err := r.synthesize(ctx, intent.SynthesisRequest{
		Question: rn.req.Question,
		Request:  q.Request,
		Script:   &intent.ScriptOutput{Stdout: res.Stdout, Stderr: res.Stderr},
	})
	if err != nil {
		return "", err
	}
	r.step(rn, StepFinalResponse, nil)
	return text, nil
}

func (r *Router) invoke(ctx context.Context, rn *run, c intent.CustomInvocation) (string, error) {
	ctx, span := r.tracer.Start(ctx, "router.invoke", trace.WithAttributes(
		attribute.String("chat.capability", c.Capability),
	))
	defer span.End()

	result, invErr := r.callCapability(ctx, rn, c)
	if invErr == nil {
		r.step(rn, StepFunctionCall, map[string]any{
			"capability": c.Capability,
			"args":       c.Args,
			"result":     result,
		})
		return result, nil
	}

	span.RecordError(invErr)
	r.step(rn, StepFunctionCall, map[string]any{
		"capability": c.Capability,
		"args":       c.Args,
		"error":      invErr.Error(),
	})
	r.logger.Warn(logModule, "Capability invocation failed", map[string]interface{}{
		"session_id": rn.req.SessionID,
		"capability": c.Capability,
		"policy":     string(r.fallback),
		"error":      invErr.Error(),
	})

	if r.fallback == FallbackFail {
		return "", invErr
	}

	cls, err := r.classify(ctx, rn, intent.NewVariantSet(intent.VariantLearn))
	if err != nil {
		return "", err
	}
	learn, ok := cls.(intent.LearnAnswer)
	if !ok {
		return "", &ClassificationError{Attempts: 1, Err: fmt.Errorf("fallback produced %s", cls.Variant())}
	}
	r.step(rn, StepLearn, map[string]any{
		"fallback_from": c.Capability,
	})
	return learn.Text, nil
}

func (r *Router) callCapability(ctx context.Context, rn *run, c intent.CustomInvocation) (string, error) {
	capability, ok := rn.req.Capabilities[c.Capability]
	if !ok || capability == nil {
		return "", &InvocationError{Capability: c.Capability, Err: errors.New("capability not provided")}
	}

	if r.bus != nil {
		err := r.bus.Publish(eventbus.Event{
			Type:      eventbus.EventFunctionCall,
			SessionID: rn.req.SessionID,
			Name:      c.Capability,
			Details:   c.Args,
		})
		if err != nil {
			r.logger.Warn(logModule, "Failed to publish function call", map[string]interface{}{
				"session_id": rn.req.SessionID,
				"capability": c.Capability,
				"error":      err.Error(),
			})
		}
	}

	result, err := capability.Invoke(ctx, c.Args)
	if err != nil {
		return "", &InvocationError{Capability: c.Capability, Err: err}
	}
	return result, nil
}

func (r *Router) synthesize(ctx context.Context, req intent.SynthesisRequest) (string, error) {
	const attempts = 2
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := r.responder.Synthesize(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		r.logger.Warn(logModule, "Synthesis attempt failed", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
		})
		if ctx.Err() != nil {
			return "", &SynthesisError{Attempts: attempt, Err: ctx.Err()}
		}
	}
	return "", &SynthesisError{Attempts: attempts, Err: lastErr}
}

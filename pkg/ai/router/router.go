package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"bioimage-chatbot-be/internal/pkg/logger"
	"bioimage-chatbot-be/pkg/ai/intent"
	"bioimage-chatbot-be/pkg/collection"
	"bioimage-chatbot-be/pkg/eventbus"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const logModule = "ROUTER"

// Router classifies a chat request and runs the chosen strategy.
type Router struct {
	responder Responder
	merger    Merger
	executor  Executor
	registry  *collection.Registry
	bus       Publisher
	logger    logger.ILogger
	fallback  FallbackPolicy
	tracer    trace.Tracer
}

type Option func(*Router)

func WithFallbackPolicy(p FallbackPolicy) Option {
	return func(r *Router) {
		if p == FallbackFail {
			r.fallback = FallbackFail
		} else {
			r.fallback = FallbackLearn
		}
	}
}

// WithPublisher streams every step as it is appended.
func WithPublisher(p Publisher) Option {
	return func(r *Router) {
		r.bus = p
	}
}

func NewRouter(
	responder Responder,
	merger Merger,
	executor Executor,
	registry *collection.Registry,
	log logger.ILogger,
	opts ...Option,
) *Router {
	r := &Router{
		responder: responder,
		merger:    merger,
		executor:  executor,
		registry:  registry,
		logger:    log,
		fallback:  FallbackLearn,
		tracer:    otel.Tracer("bioimage-chatbot-be/router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run is the per-request state: the append-only step trace.
type run struct {
	req   RequestContext
	steps []Step
}

func (r *Router) step(rn *run, name string, details map[string]any) {
	rn.steps = append(rn.steps, Step{Name: name, Details: details})
	if r.bus == nil {
		return
	}
	err := r.bus.Publish(eventbus.Event{
		Type:      eventbus.EventStep,
		SessionID: rn.req.SessionID,
		Name:      name,
		Details:   details,
	})
	if err != nil {
		r.logger.Warn(logModule, "Failed to publish step", map[string]interface{}{
			"session_id": rn.req.SessionID,
			"step":       name,
			"error":      err.Error(),
		})
	}
}

// Route answers one request. The only fatal faults are classification and
// synthesis failing twice, and a FallbackFail invocation error.
func (r *Router) Route(ctx context.Context, req RequestContext) (Response, error) {
	ctx, span := r.tracer.Start(ctx, "router.Route", trace.WithAttributes(
		attribute.String("chat.session_id", req.SessionID),
		attribute.String("chat.channel", req.Channel.Kind.String()),
	))
	defer span.End()

	rn := &run{req: req}
	legal := LegalVariants(req.Channel)

	r.logger.Info(logModule, "Routing request", map[string]interface{}{
		"session_id": req.SessionID,
		"channel":    req.Channel.Kind.String(),
		"legal":      legal.String(),
		"question":   truncateLog(req.Question, 80),
	})

	cls, err := r.classify(ctx, rn, legal)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		return Response{}, err
	}
	span.SetAttributes(attribute.String("chat.variant", cls.Variant().String()))

	text, err := r.dispatch(ctx, rn, cls)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}

	return Response{Text: text, Steps: rn.steps}, nil
}

func (r *Router) classifyInput(req RequestContext) intent.ClassifyInput {
	in := intent.ClassifyInput{
		Profile:  req.Profile,
		History:  req.ChatHistory,
		Question: req.Question,
		Channels: r.registry.Collections(),
	}
	if req.Channel.Kind == collection.SelectionNamed {
		in.PinnedChannel = req.Channel.Collection
	}
	if req.Channel.Kind == collection.SelectionDefault {
		in.ResourceSchema = r.registry.ResourceStats().Describe()
	}
	if len(req.Capabilities) > 0 {
		names := make([]string, 0, len(req.Capabilities))
		for name := range req.Capabilities {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			in.Capabilities = append(in.Capabilities, req.Capabilities[name].Spec())
		}
	}
	return in
}

// classify calls the classifier and retries once on any fault, including
// an answer outside the legal set.
func (r *Router) classify(ctx context.Context, rn *run, legal intent.VariantSet) (intent.Classification, error) {
	in := r.classifyInput(rn.req)

	const attempts = 2
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, span := r.tracer.Start(ctx, "router.classify", trace.WithAttributes(
			attribute.Int("chat.attempt", attempt),
		))
		cls, err := r.responder.Classify(attemptCtx, in, legal)
		if err == nil {
			cls, err = r.validate(rn.req, cls, legal)
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()

		if err == nil {
			return cls, nil
		}
		lastErr = err
		r.logger.Warn(logModule, "Classification attempt failed", map[string]interface{}{
			"session_id": rn.req.SessionID,
			"attempt":    attempt,
			"error":      err.Error(),
		})
		if ctx.Err() != nil {
			return nil, &ClassificationError{Attempts: attempt, Err: ctx.Err()}
		}
	}
	return nil, &ClassificationError{Attempts: attempts, Err: lastErr}
}

// validate rejects variants outside the legal set and normalises the
// retrieval channel.
func (r *Router) validate(req RequestContext, cls intent.Classification, legal intent.VariantSet) (intent.Classification, error) {
	cls = intent.Deref(cls)
	if cls == nil {
		return nil, errors.New("classifier returned no result")
	}
	if !legal.Has(cls.Variant()) {
		return nil, fmt.Errorf("classifier chose %s, allowed %s", cls.Variant(), legal)
	}

	q, ok := cls.(intent.RetrievalQuery)
	if !ok {
		return cls, nil
	}
	if req.Channel.Kind == collection.SelectionNamed {
		q.ChannelID = req.Channel.Collection.ID
		return q, nil
	}
	if q.ChannelID == "" {
		q.ChannelID = collection.ChannelAll
	}
	if q.ChannelID != collection.ChannelAll {
		col, found := r.registry.Get(q.ChannelID)
		if !found {
			return nil, fmt.Errorf("classifier chose %w %q", ErrUnknownChannel, q.ChannelID)
		}
		q.ChannelID = col.ID
	}
	return q, nil
}

func (r *Router) dispatch(ctx context.Context, rn *run, cls intent.Classification) (string, error) {
	switch c := cls.(type) {
	case intent.DirectAnswer:
		r.step(rn, StepDirect, nil)
		return c.Text, nil
	case intent.LearnAnswer:
		r.step(rn, StepLearn, nil)
		return c.Text, nil
	case intent.RetrievalQuery:
		return r.retrieve(ctx, rn, c)
	case intent.ScriptQuery:
		return r.runScript(ctx, rn, c)
	case intent.CustomInvocation:
		return r.invoke(ctx, rn, c)
	default:
		return "", fmt.Errorf("unhandled classification %T", cls)
	}
}

// truncateLog cuts s to at most maxLen bytes without splitting a rune.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

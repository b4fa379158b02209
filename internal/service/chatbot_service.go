package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"bioimage-chatbot-be/internal/constant"
	"bioimage-chatbot-be/internal/dto"
	"bioimage-chatbot-be/internal/pkg/logger"
	"bioimage-chatbot-be/internal/pkg/serverutils"
	"bioimage-chatbot-be/pkg/ai/capability"
	"bioimage-chatbot-be/pkg/ai/intent"
	"bioimage-chatbot-be/pkg/ai/router"
	"bioimage-chatbot-be/pkg/collection"
	"bioimage-chatbot-be/pkg/eventbus"
	"bioimage-chatbot-be/pkg/events"
	"bioimage-chatbot-be/pkg/transcript"

	"github.com/google/uuid"
)

// Caller is the identity attached to a request by the JWT middleware.
type Caller struct {
	UserID string
	Email  string
}

func (c Caller) transcriptUser() *transcript.User {
	if c.UserID == "" && c.Email == "" {
		return nil
	}
	return &transcript.User{ID: c.UserID, Email: c.Email}
}

// StreamFunc receives every bus event of the caller's session while Chat runs.
type StreamFunc func(eventbus.Event)

type IChatbotService interface {
	Chat(ctx context.Context, caller Caller, req *dto.ChatRequest, stream StreamFunc) (*dto.ChatResponse, error)
	Report(ctx context.Context, caller Caller, req *dto.ReportRequest) (*dto.ReportResponse, error)
	Ping(ctx context.Context, caller Caller) (string, error)
	Channels(ctx context.Context) *dto.ChannelsResponse
}

type ChatRouter interface {
	Route(ctx context.Context, req router.RequestContext) (router.Response, error)
}

type StreamBus interface {
	Subscribe(ctx context.Context, sessionID string, handler func(eventbus.Event)) (*eventbus.Listener, error)
	Unsubscribe(l *eventbus.Listener)
	Publish(ev eventbus.Event) error
}

type TranscriptWriter interface {
	Append(ctx context.Context, sessionID string, user *transcript.User, ex transcript.Exchange) error
	Report(ctx context.Context, r transcript.Report, user *transcript.User) (string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type ChatbotServiceDeps struct {
	Registry     *collection.Registry
	Router       ChatRouter
	Bus          StreamBus
	Transcripts  TranscriptWriter
	Capabilities *capability.Factory
	Events       EventPublisher
	Authorized   *serverutils.AuthorizedUsers
	AuthRequired bool
	Logger       logger.ILogger
	StepLogger   logger.ILogger
}

type chatbotService struct {
	registry     *collection.Registry
	router       ChatRouter
	bus          StreamBus
	transcripts  TranscriptWriter
	capabilities *capability.Factory
	events       EventPublisher
	authorized   *serverutils.AuthorizedUsers
	authRequired bool
	logger       logger.ILogger
	stepLogger   logger.ILogger
}

func NewChatbotService(deps ChatbotServiceDeps) IChatbotService {
	stepLogger := deps.StepLogger
	if stepLogger == nil {
		stepLogger = deps.Logger
	}
	return &chatbotService{
		registry:     deps.Registry,
		router:       deps.Router,
		bus:          deps.Bus,
		transcripts:  deps.Transcripts,
		capabilities: deps.Capabilities,
		events:       deps.Events,
		authorized:   deps.Authorized,
		authRequired: deps.AuthRequired,
		logger:       deps.Logger,
		stepLogger:   stepLogger,
	}
}

func (cs *chatbotService) checkPermission(caller Caller) error {
	if !cs.authRequired {
		return nil
	}
	return cs.authorized.Check(caller.Email)
}

func (cs *chatbotService) Chat(ctx context.Context, caller Caller, req *dto.ChatRequest, stream StreamFunc) (*dto.ChatResponse, error) {
	if err := cs.checkPermission(caller); err != nil {
		return nil, err
	}

	sessionID := req.SessionId
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sel, err := cs.registry.ResolveChannel(req.Channel)
	if err != nil {
		return nil, err
	}

	capabilities, err := cs.buildCapabilities(req.CustomFunctions)
	if err != nil {
		return nil, err
	}

	listener, err := cs.bus.Subscribe(ctx, sessionID, func(ev eventbus.Event) {
		cs.stepLogger.Info(constant.ChatStepLogModule, string(ev.Type), map[string]interface{}{
			"session_id": ev.SessionID,
			"name":       ev.Name,
			"details":    ev.Details,
		})
		if stream != nil {
			stream(ev)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to stream: %w", err)
	}
	defer cs.bus.Unsubscribe(listener)

	if req.ImageData != "" {
		cs.publish(eventbus.Event{
			Type:      eventbus.EventText,
			SessionID: sessionID,
			Content:   fmt.Sprintf("\n![Uploaded Image](%s)\n", req.ImageData),
		})
		if err := decodeImage(req.ImageData); err != nil {
			return &dto.ChatResponse{
				SessionId: sessionID,
				Text:      fmt.Sprintf(constant.ImageDecodeFailedMessage, err),
				Steps:     []router.Step{},
			}, nil
		}
	}

	history := make([]intent.ChatMessage, 0, len(req.ChatHistory))
	for _, m := range req.ChatHistory {
		history = append(history, intent.ChatMessage{Role: m.Role, Content: m.Content})
	}

	res, err := cs.router.Route(ctx, router.RequestContext{
		Question:    req.Text,
		ChatHistory: history,
		Profile: intent.UserProfile{
			Name:       req.UserProfile.Name,
			Occupation: req.UserProfile.Occupation,
			Background: req.UserProfile.Background,
		},
		Channel:      sel,
		SessionID:    sessionID,
		Capabilities: capabilities,
	})
	if err != nil {
		cs.logger.Error(constant.ChatLogModule, "Chat failed", map[string]interface{}{
			"session_id": sessionID,
			"channel":    sel.Kind.String(),
			"error":      err.Error(),
		})
		return nil, err
	}

	// transcript and event faults never fail a delivered answer
	if err := cs.transcripts.Append(ctx, sessionID, caller.transcriptUser(), transcript.Exchange{
		Question: req.Text,
		Answer:   res.Text,
	}); err != nil {
		cs.logger.Warn(constant.ChatLogModule, "Failed to write transcript", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	} else {
		stepNames := make([]string, 0, len(res.Steps))
		for _, s := range res.Steps {
			stepNames = append(stepNames, s.Name)
		}
		cs.emit(ctx, events.NewChatCompleted(sessionID, req.Channel, stepNames))
	}

	return &dto.ChatResponse{
		SessionId: sessionID,
		Text:      res.Text,
		Steps:     res.Steps,
	}, nil
}

func (cs *chatbotService) buildCapabilities(defs []dto.CustomFunctionDTO) (map[string]router.Capability, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make(map[string]router.Capability, len(defs))
	for i, def := range defs {
		hook, err := cs.capabilities.New(def.Name, def.Description, def.Schema, def.Endpoint)
		if err != nil {
			return nil, &serverutils.ValidationError{Fields: map[string]string{
				fmt.Sprintf("custom_functions[%d]", i): err.Error(),
			}}
		}
		out[def.Name] = hook
	}
	return out, nil
}

func (cs *chatbotService) publish(ev eventbus.Event) {
	if err := cs.bus.Publish(ev); err != nil {
		cs.logger.Warn(constant.ChatLogModule, "Failed to publish stream event", map[string]interface{}{
			"session_id": ev.SessionID,
			"error":      err.Error(),
		})
	}
}

func (cs *chatbotService) emit(ctx context.Context, ev events.Event) {
	if cs.events == nil {
		return
	}
	if err := cs.events.Publish(ctx, ev); err != nil {
		cs.logger.Warn(constant.ChatLogModule, "Failed to publish domain event", map[string]interface{}{
			"type":  ev.EventType(),
			"error": err.Error(),
		})
	}
}

// decodeImage accepts a data URL or bare base64.
func decodeImage(data string) error {
	if strings.HasPrefix(data, "data:") {
		idx := strings.Index(data, ",")
		if idx < 0 {
			return fmt.Errorf("malformed data url")
		}
		data = data[idx+1:]
	}
	_, err := base64.StdEncoding.DecodeString(data)
	return err
}

func (cs *chatbotService) Report(ctx context.Context, caller Caller, req *dto.ReportRequest) (*dto.ReportResponse, error) {
	if err := cs.checkPermission(caller); err != nil {
		return nil, err
	}

	conversations := make([]transcript.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		conversations = append(conversations, transcript.Message{Role: m.Role, Content: m.Content})
	}

	key, err := cs.transcripts.Report(ctx, transcript.Report{
		Type:          req.Type,
		Feedback:      req.Feedback,
		Conversations: conversations,
		SessionID:     req.SessionId,
	}, caller.transcriptUser())
	if err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}

	cs.logger.Info(constant.ChatLogModule, "User report saved", map[string]interface{}{"key": key})
	cs.emit(ctx, events.NewChatReported(req.SessionId, req.Type, key, req.Feedback))

	return &dto.ReportResponse{Key: key}, nil
}

func (cs *chatbotService) Ping(ctx context.Context, caller Caller) (string, error) {
	if err := cs.checkPermission(caller); err != nil {
		return "", err
	}
	return "pong", nil
}

func (cs *chatbotService) Channels(ctx context.Context) *dto.ChannelsResponse {
	return &dto.ChannelsResponse{
		Channels: cs.registry.Channels(),
		Default:  "auto",
	}
}

package service

import (
	"context"

	"bioimage-chatbot-be/internal/constant"
	"bioimage-chatbot-be/internal/pkg/logger"
	"bioimage-chatbot-be/internal/pkg/mailer"
	"bioimage-chatbot-be/pkg/events"
	pktNats "bioimage-chatbot-be/pkg/nats"
)

// IConsumerService drains domain events published by the chatbot service.
type IConsumerService interface {
	Consume(ctx context.Context) error
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, eventType, durableName string, handler pktNats.EventHandler) error
}

// consumerService keeps an audit log of completed chats and user reports so
// operators can follow feedback without reading the transcript store.
// Reports are also mailed when a notifier is configured.
type consumerService struct {
	subscriber EventSubscriber
	auditLog   logger.ILogger
	notifier   mailer.IReportNotifier
}

func NewConsumerService(subscriber EventSubscriber, auditLog logger.ILogger, notifier mailer.IReportNotifier) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		auditLog:   auditLog,
		notifier:   notifier,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	if err := cs.subscriber.Subscribe(ctx, events.ChatReported, constant.ReportConsumerName, cs.handleReport); err != nil {
		return err
	}
	return cs.subscriber.Subscribe(ctx, events.ChatCompleted, constant.ReportConsumerName+"-completed", cs.handleCompleted)
}

func (cs *consumerService) handleReport(ctx context.Context, event events.Event) error {
	payload := event.Payload()
	cs.auditLog.Warn("REPORT", "User report received", payload)

	if cs.notifier == nil {
		return nil
	}
	err := cs.notifier.NotifyReport(
		stringField(payload, "session_id"),
		stringField(payload, "type"),
		stringField(payload, "key"),
		stringField(payload, "feedback"),
	)
	if err != nil {
		// redelivery would only repeat the audit entry
		cs.auditLog.Error("REPORT", "Failed to mail report", map[string]interface{}{
			"session_id": payload["session_id"],
			"error":      err.Error(),
		})
	}
	return nil
}

func stringField(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

func (cs *consumerService) handleCompleted(ctx context.Context, event events.Event) error {
	cs.auditLog.Info("CHAT", "Chat completed", event.Payload())
	return nil
}

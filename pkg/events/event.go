package events

import "time"

const (
	ChatCompleted = "CHAT_COMPLETED"
	ChatReported  = "CHAT_REPORTED"
)

// Event is a domain notification published after a chat side effect landed.
type Event interface {
	// EventType returns the unique code, e.g. "CHAT_COMPLETED".
	EventType() string

	Payload() map[string]interface{}

	Timestamp() time.Time
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// NewChatCompleted announces that a transcript was written for sessionID.
func NewChatCompleted(sessionID, channel string, steps []string) BaseEvent {
	return BaseEvent{
		Type: ChatCompleted,
		Data: map[string]interface{}{
			"session_id": sessionID,
			"channel":    channel,
			"steps":      steps,
		},
		OccurredAt: time.Now(),
	}
}

// NewChatReported announces a stored feedback report.
func NewChatReported(sessionID, reportType, key, feedback string) BaseEvent {
	return BaseEvent{
		Type: ChatReported,
		Data: map[string]interface{}{
			"session_id": sessionID,
			"type":       reportType,
			"key":        key,
			"feedback":   feedback,
		},
		OccurredAt: time.Now(),
	}
}

package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic is the single topic every session shares.
const Topic = "stream"

const sessionMetadataKey = "session_id"

type EventType string

const (
	EventStep         EventType = "step"
	EventText         EventType = "text"
	EventFunctionCall EventType = "function_call"
)

// Event is one progress notification. SessionID decides which listener
// keeps it.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Name      string         `json:"name,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Content   string         `json:"content,omitempty"`
}

var ErrClosed = errors.New("event bus closed")

// Bus is a process-wide broadcast. Every listener sees every event and
// drops the ones that belong to other sessions.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.RWMutex
	closed bool
}

func New(logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			// Publish returns only after every listener acked, so each
			// listener observes publish order.
			BlockPublishUntilSubscriberAck: true,
		}, logger),
	}
}

func (b *Bus) Publish(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(sessionMetadataKey, ev.SessionID)
	return b.pubsub.Publish(Topic, msg)
}

// Subscribe registers a listener for sessionID. handler runs on the
// listener's goroutine, one event at a time, and must not publish.
func (b *Bus) Subscribe(ctx context.Context, sessionID string, handler func(Event)) (*Listener, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	msgs, err := b.pubsub.Subscribe(subCtx, Topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	l := &Listener{
		sessionID: sessionID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go l.consume(msgs, handler)
	return l, nil
}

// Unsubscribe is safe to call more than once.
func (b *Bus) Unsubscribe(l *Listener) {
	if l != nil {
		l.Close()
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}

type Listener struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once
}

func (l *Listener) SessionID() string {
	return l.sessionID
}

func (l *Listener) consume(msgs <-chan *message.Message, handler func(Event)) {
	defer close(l.done)

	for msg := range msgs {
		if msg.Metadata.Get(sessionMetadataKey) == l.sessionID {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err == nil && handler != nil {
				handler(ev)
			}
		}
		msg.Ack()
	}
}

// Close stops delivery and waits for the in-flight handler call to return.
func (l *Listener) Close() {
	l.once.Do(func() {
		l.cancel()
		<-l.done
	})
}

// Done is closed once the listener has stopped.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/flowbit-ai/chat-with-data/internal/model"
)

const (
	// StreamName is the name of the chat events stream.
	StreamName = "CHAT_EVENTS"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "chat"
)

// StreamManager publishes conversation log mutations to JetStream.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream creates the events stream if it does not exist yet.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Chat turn and clear events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// SubjectToken makes a namespace usable as a single subject token.
func SubjectToken(namespace string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(namespace)
}

// TurnSubject returns the subject for an appended turn.
func TurnSubject(namespace string, role model.Role) string {
	return fmt.Sprintf("%s.%s.turn.%s", SubjectPrefix, SubjectToken(namespace), role)
}

// EventSubject returns the subject for a non-turn event.
func EventSubject(namespace string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, SubjectToken(namespace), eventType)
}

// Subject picks the subject for ev.
func Subject(ev *model.TurnEvent) string {
	if ev.Type == model.EventTypeTurn && ev.Turn != nil {
		return TurnSubject(ev.Namespace, ev.Turn.Role)
	}
	return EventSubject(ev.Namespace, ev.Type)
}

// Publish sends ev to JetStream and waits for the ack.
func (m *StreamManager) Publish(ctx context.Context, ev *model.TurnEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, Subject(ev), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

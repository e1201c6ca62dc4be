package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"skillswap/internal/models"
)

// Event types published after a committed mutation.
const (
	TypeRequestSubmitted = "request.submitted"
	TypeRequestAccepted  = "request.accepted"
	TypeRequestRejected  = "request.rejected"
	TypeChannelSeeded    = "channel.seeded"
	TypeMessageSent      = "channel.message_sent"
)

// Event is the envelope carried by every broker backend.
// UserID is the user the event concerns and is used as the partition / routing key.
type Event struct {
	Type      string              `json:"type"`
	UserID    string              `json:"userId"`
	ActorID   string              `json:"actorId"`
	RequestID string              `json:"requestId,omitempty"`
	ChannelID string              `json:"channelId,omitempty"`
	Request   *models.SwapRequest `json:"request,omitempty"`
	Message   *models.ChatMessage `json:"message,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// IsRequestEvent reports whether the event belongs to the request lifecycle.
func (e Event) IsRequestEvent() bool {
	return strings.HasPrefix(e.Type, "request.")
}

// Encode 序列化事件。
func (e Event) Encode() ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	return payload, nil
}

// Decode parses an event payload.
func Decode(payload []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Event{}, fmt.Errorf("反序列化事件失败: %w", err)
	}
	return evt, nil
}

// Publisher sends domain events to a broker.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close()
}

// Handler processes one consumed event. Returning an error leaves the event unacknowledged.
type Handler func(ctx context.Context, evt Event) error

// Subscriber consumes domain events until ctx is canceled.
type Subscriber interface {
	Run(ctx context.Context, handler Handler) error
	Close()
}

type nopPublisher struct{}

// NewNopPublisher returns a Publisher that drops every event.
func NewNopPublisher() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, Event) error { return nil }
func (nopPublisher) Close()                               {}

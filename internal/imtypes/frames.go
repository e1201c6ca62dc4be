package imtypes

import (
	"time"

	"skillswap/internal/models"
)

// FrameType defines the type of a websocket frame.
type FrameType string

const (
	// server -> client
	SnapshotFrameType     FrameType = "snapshot"
	RequestEventFrameType FrameType = "request_event"
	ErrorFrameType        FrameType = "error"

	// client -> server
	SendFrameType FrameType = "send"
)

// SnapshotFrame carries the full message log of a channel. Clients re-render from Messages, never append.
type SnapshotFrame struct {
	Type      FrameType            `json:"type"`
	ChannelID string               `json:"channelId"`
	Version   int64                `json:"version"`
	Messages  []models.ChatMessage `json:"messages"`
}

// NewSnapshotFrame 根据频道快照构造下发帧。
func NewSnapshotFrame(ch *models.Channel) SnapshotFrame {
	messages := ch.Messages
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return SnapshotFrame{
		Type:      SnapshotFrameType,
		ChannelID: ch.ID,
		Version:   ch.Version,
		Messages:  messages,
	}
}

// RequestEventFrame notifies a user about a change to one of their swap requests.
type RequestEventFrame struct {
	Type      FrameType           `json:"type"`
	Event     string              `json:"event"`
	RequestID string              `json:"requestId"`
	ActorID   string              `json:"actorId"`
	Request   *models.SwapRequest `json:"request,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// ErrorFrame 通知客户端其上一帧处理失败。
type ErrorFrame struct {
	Type  FrameType `json:"type"`
	Error string    `json:"error"`
}

// NewErrorFrame creates an error frame.
func NewErrorFrame(err error) ErrorFrame {
	return ErrorFrame{Type: ErrorFrameType, Error: err.Error()}
}

// ClientFrame is what a client sends over the socket.
type ClientFrame struct {
	Type FrameType `json:"type"`
	Text string    `json:"text"`
}

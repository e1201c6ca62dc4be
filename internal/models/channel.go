package models

import "slices"

// ChatMessage 是频道中的一条消息，追加后不可修改。Timestamp 为 Unix 毫秒。
type ChatMessage struct {
	ID        string `json:"id" bson:"id"`
	Sender    string `json:"sender" bson:"sender"`
	Text      string `json:"text" bson:"text"`
	Timestamp int64  `json:"timestamp" bson:"timestamp"`
}

// Channel 是一对参与者之间的消息日志。
type Channel struct {
	ID           string        `gorm:"primaryKey;type:varchar(300)" json:"channelId" bson:"_id"`
	Participants []string      `gorm:"serializer:json" json:"participants" bson:"participants"`
	Messages     []ChatMessage `gorm:"serializer:json" json:"messages" bson:"messages"`

	VersionedModel `bson:",inline"`
}

// TableName 指定 Channel 模型的表名。
func (Channel) TableName() string {
	return "channels"
}

// EmptyChannel is the snapshot of a channel that has not been created yet.
func EmptyChannel(id string) *Channel {
	return &Channel{ID: id, Participants: []string{}, Messages: []ChatMessage{}}
}

// Clone returns a deep copy.
func (c *Channel) Clone() *Channel {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = cloneStrings(c.Participants)
	if c.Messages != nil {
		out.Messages = make([]ChatMessage, len(c.Messages))
		copy(out.Messages, c.Messages)
	}
	return &out
}

// HasParticipant 判断用户是否为频道成员。
func (c *Channel) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// LastMessage returns the newest message, if any.
func (c *Channel) LastMessage() (ChatMessage, bool) {
	if len(c.Messages) == 0 {
		return ChatMessage{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skillswap/internal/events"
	"skillswap/internal/metrics"
	"skillswap/internal/models"
	"skillswap/internal/storage"
)

// MaxMessageLength 单条消息允许的最大字符数
const MaxMessageLength = 2000

var (
	ErrEmptyMessage          = errors.New("消息内容不能为空")
	ErrMessageTooLong        = errors.New("消息内容过长")
	ErrNotChannelParticipant = errors.New("用户不是该频道的成员")
	ErrChannelSelf           = errors.New("不能与自己建立会话")
	ErrChannelMismatch       = errors.New("频道ID与参与者不匹配")
)

// ChatService defines the operations on a pair's message channel.
type ChatService interface {
	EnsureSeeded(ctx context.Context, channelID, participantA, participantB string) (*models.Channel, error)
	OpenChannel(ctx context.Context, userID, peerID string) (*models.Channel, error)
	GetChannel(ctx context.Context, channelID string) (*models.Channel, error)
	Subscribe(ctx context.Context, channelID string, onChange func(*models.Channel)) (func(), error)
	Send(ctx context.Context, channelID, senderID, text string) (*models.ChatMessage, error)
}

type chatService struct {
	store      storage.ConnectionStore
	publisher  events.Publisher
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

// NewChatService creates a new ChatService instance.
func NewChatService(store storage.ConnectionStore, publisher events.Publisher, logger *zap.Logger, maxRetries int) ChatService {
	if publisher == nil {
		publisher = events.NewNopPublisher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &chatService{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		maxRetries: maxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSeeded returns the channel, creating it on first access. A new channel carries the message of
// the request that connected the pair, if there is one. An existing channel is never modified.
func (s *chatService) EnsureSeeded(ctx context.Context, channelID, participantA, participantB string) (ch *models.Channel, err error) {
	defer func(start time.Time) { metrics.RecordOperation("ensure_seeded", start, err) }(time.Now())

	first, second, err := ParseChannelID(channelID)
	if err != nil {
		return nil, err
	}
	if ResolveChannelID(participantA, participantB) != channelID {
		return nil, fmt.Errorf("%w: %s (%s, %s)", ErrChannelMismatch, channelID, participantA, participantB)
	}

	existing, err := s.store.ReadChannel(ctx, channelID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("读取频道失败: %w", err)
	}

	seed, err := s.findOriginatingRequest(ctx, participantA, participantB)
	if err != nil {
		return nil, err
	}

	initial := &models.Channel{
		ID:           channelID,
		Participants: []string{first, second},
		Messages:     []models.ChatMessage{},
	}
	if seed != nil {
		// 种子消息完全由请求推导，两端同时打开时内容一致
		initial.Messages = append(initial.Messages, models.ChatMessage{
			ID:        seed.ID,
			Sender:    seed.FromUserID,
			Text:      seed.Message,
			Timestamp: seed.CreatedAt.UnixMilli(),
		})
	}

	created, err := s.store.CreateChannel(ctx, initial)
	if errors.Is(err, storage.ErrChannelExists) {
		s.logger.Debug("频道已被并发创建，读取已有频道", zap.String("channelId", channelID))
		return s.store.ReadChannel(ctx, channelID)
	}
	if err != nil {
		return nil, fmt.Errorf("创建频道失败: %w", err)
	}

	s.logger.Info("频道已创建",
		zap.String("channelId", channelID), zap.Int("seedMessages", len(created.Messages)))
	s.publish(ctx, events.Event{
		Type:      events.TypeChannelSeeded,
		UserID:    participantB,
		ActorID:   participantA,
		ChannelID: channelID,
		Timestamp: s.now(),
	})
	return created, nil
}

// findOriginatingRequest looks for the request between a and b: pending ones first, then accepted history.
func (s *chatService) findOriginatingRequest(ctx context.Context, a, b string) (*models.SwapRequest, error) {
	recA, err := s.store.ReadUser(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("读取用户 %s 失败: %w", a, err)
	}
	recB, err := s.store.ReadUser(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("读取用户 %s 失败: %w", b, err)
	}

	if req := latestFrom(recA.Requests, b, models.SwapRequestStatusPending); req != nil {
		return req, nil
	}
	if req := latestFrom(recB.Requests, a, models.SwapRequestStatusPending); req != nil {
		return req, nil
	}
	if req := latestFrom(recA.History, b, models.SwapRequestStatusAccepted); req != nil {
		return req, nil
	}
	return latestFrom(recB.History, a, models.SwapRequestStatusAccepted), nil
}

// latestFrom returns the newest entry sent by fromUserID with the given status that carries a message.
func latestFrom(requests []models.SwapRequest, fromUserID string, status models.SwapRequestStatus) *models.SwapRequest {
	for i := len(requests) - 1; i >= 0; i-- {
		if requests[i].FromUserID == fromUserID && requests[i].Status == status && requests[i].Message != "" {
			req := requests[i]
			return &req
		}
	}
	return nil
}

// OpenChannel resolves the channel between userID and peerID and makes sure it is seeded.
func (s *chatService) OpenChannel(ctx context.Context, userID, peerID string) (*models.Channel, error) {
	if err := ValidateParticipantID(userID); err != nil {
		return nil, err
	}
	if err := ValidateParticipantID(peerID); err != nil {
		return nil, err
	}
	if userID == peerID {
		return nil, ErrChannelSelf
	}
	return s.EnsureSeeded(ctx, ResolveChannelID(userID, peerID), userID, peerID)
}

// GetChannel returns the channel, or an empty unversioned channel when it has not been created.
func (s *chatService) GetChannel(ctx context.Context, channelID string) (*models.Channel, error) {
	if _, _, err := ParseChannelID(channelID); err != nil {
		return nil, err
	}
	ch, err := s.store.ReadChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.EmptyChannel(channelID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取频道失败: %w", err)
	}
	return ch, nil
}

// Subscribe delivers the current snapshot and then every committed change, in version order.
func (s *chatService) Subscribe(ctx context.Context, channelID string, onChange func(*models.Channel)) (func(), error) {
	if _, _, err := ParseChannelID(channelID); err != nil {
		return nil, err
	}
	cancel, err := s.store.Subscribe(ctx, channelID, onChange)
	if err != nil {
		return nil, fmt.Errorf("订阅频道失败: %w", err)
	}
	return cancel, nil
}

// Send appends a message through a conditional write. Concurrent senders are retried, never overwritten.
func (s *chatService) Send(ctx context.Context, channelID, senderID, text string) (msg *models.ChatMessage, err error) {
	defer func(start time.Time) { metrics.RecordOperation("send_message", start, err) }(time.Now())

	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	first, second, err := ParseChannelID(channelID)
	if err != nil {
		return nil, err
	}
	var peerID string
	switch senderID {
	case first:
		peerID = second
	case second:
		peerID = first
	default:
		return nil, ErrNotChannelParticipant
	}

	message := models.ChatMessage{
		ID:     uuid.NewString(),
		Sender: senderID,
		Text:   text,
	}
	err = retryOnConflict(ctx, s.maxRetries, "send_message", func() error {
		ch, err := s.store.ReadChannel(ctx, channelID)
		if errors.Is(err, storage.ErrNotFound) {
			ch, err = s.EnsureSeeded(ctx, channelID, senderID, peerID)
		}
		if err != nil {
			return err
		}
		message.Timestamp = s.now().UnixMilli()
		messages := append(slices.Clone(ch.Messages), message)
		_, err = s.store.WriteChannel(ctx, channelID, messages, ch.Version)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.MessagesSent.Inc()
	s.logger.Debug("消息已发送", zap.String("channelId", channelID), zap.String("sender", senderID), zap.String("messageId", message.ID))
	s.publish(ctx, events.Event{
		Type:      events.TypeMessageSent,
		UserID:    peerID,
		ActorID:   senderID,
		ChannelID: channelID,
		Message:   &message,
		Timestamp: s.now(),
	})
	return &message, nil
}

func (s *chatService) publish(ctx context.Context, evt events.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("发布事件失败", zap.String("type", evt.Type), zap.String("channelId", evt.ChannelID), zap.Error(err))
	}
}

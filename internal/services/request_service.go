package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"skillswap/internal/events"
	"skillswap/internal/metrics"
	"skillswap/internal/models"
	"skillswap/internal/storage"
)

var (
	ErrRequestSelf            = errors.New("不能向自己发送交换请求")
	ErrSkillRequired          = errors.New("必须填写提供的技能和想学的技能")
	ErrRecipientNotFound      = errors.New("接收用户不存在")
	ErrRequestNotFound        = errors.New("交换请求不存在")
	ErrRequestAlreadyResolved = errors.New("该交换请求已被处理")
)

// SubmitRequestInput carries the user-provided fields of a swap proposal.
type SubmitRequestInput struct {
	OfferedSkill string `json:"offeredSkill"`
	WantedSkill  string `json:"wantedSkill"`
	Message      string `json:"message"`
}

// ProfileUpdate 用于写入用户资料字段，nil 表示不修改。
type ProfileUpdate struct {
	DisplayName   *string   `json:"displayName"`
	OfferedSkills *[]string `json:"offeredSkills"`
	WantedSkills  *[]string `json:"wantedSkills"`
	Availability  *string   `json:"availability"`
}

// RequestService defines the swap request lifecycle operations.
type RequestService interface {
	SubmitRequest(ctx context.Context, fromUserID, toUserID string, input SubmitRequestInput) (*models.SwapRequest, error)
	ListRequests(ctx context.Context, userID string) ([]models.IndexedSwapRequest, error)
	AcceptRequest(ctx context.Context, userID, requestID string) (*models.SwapRequest, error)
	RejectRequest(ctx context.Context, userID, requestID string) (*models.SwapRequest, error)
	ListHistory(ctx context.Context, userID string) ([]models.SwapRequest, error)
	GetFriendsList(ctx context.Context, userID string) ([]*models.UserBasicInfo, error)
	CountSwaps(ctx context.Context, userID string) (int, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*models.UserRecord, error)
}

type requestService struct {
	store      storage.ConnectionStore
	publisher  events.Publisher
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

// NewRequestService creates a new RequestService instance.
func NewRequestService(store storage.ConnectionStore, publisher events.Publisher, logger *zap.Logger, maxRetries int) RequestService {
	if publisher == nil {
		publisher = events.NewNopPublisher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &requestService{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		maxRetries: maxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SubmitRequest appends a new Pending request to the recipient's list. Submitting twice yields two entries.
func (s *requestService) SubmitRequest(ctx context.Context, fromUserID, toUserID string, input SubmitRequestInput) (req *models.SwapRequest, err error) {
	defer func(start time.Time) { metrics.RecordOperation("submit_request", start, err) }(time.Now())

	if err := ValidateParticipantID(fromUserID); err != nil {
		return nil, err
	}
	if err := ValidateParticipantID(toUserID); err != nil {
		return nil, err
	}
	if fromUserID == toUserID {
		return nil, ErrRequestSelf
	}
	offered := strings.TrimSpace(input.OfferedSkill)
	wanted := strings.TrimSpace(input.WantedSkill)
	if offered == "" || wanted == "" {
		return nil, ErrSkillRequired
	}

	sender, err := s.store.ReadUser(ctx, fromUserID)
	if err != nil {
		return nil, fmt.Errorf("读取发送者信息失败: %w", err)
	}
	fromName := sender.DisplayName
	if fromName == "" {
		fromName = fromUserID
	}

	created := models.SwapRequest{
		ID:           uuid.NewString(),
		FromUserID:   fromUserID,
		FromUserName: fromName,
		OfferedSkill: offered,
		WantedSkill:  wanted,
		Message:      input.Message,
		Status:       models.SwapRequestStatusPending,
		CreatedAt:    s.now(),
	}

	err = retryOnConflict(ctx, s.maxRetries, "submit_request", func() error {
		recipient, err := s.store.ReadUser(ctx, toUserID)
		if err != nil {
			return fmt.Errorf("读取接收者 %s 失败: %w", toUserID, err)
		}
		if !recipient.Exists() {
			return ErrRecipientNotFound
		}
		requests := append(slices.Clone(recipient.Requests), created)
		_, err = s.store.WriteUser(ctx, toUserID, models.UserPatch{Requests: &requests}, recipient.Version)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("交换请求已创建",
		zap.String("requestId", created.ID), zap.String("from", fromUserID), zap.String("to", toUserID))
	s.publish(ctx, events.Event{
		Type:      events.TypeRequestSubmitted,
		UserID:    toUserID,
		ActorID:   fromUserID,
		RequestID: created.ID,
		Request:   &created,
		Timestamp: created.CreatedAt,
	})
	return &created, nil
}

// ListRequests returns the pending requests newest first. Index is the stored position and is for display only.
func (s *requestService) ListRequests(ctx context.Context, userID string) ([]models.IndexedSwapRequest, error) {
	rec, err := s.store.ReadUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取交换请求失败: %w", err)
	}
	out := make([]models.IndexedSwapRequest, 0, len(rec.Requests))
	for i := len(rec.Requests) - 1; i >= 0; i-- {
		out = append(out, models.IndexedSwapRequest{SwapRequest: rec.Requests[i], Index: i})
	}
	return out, nil
}

// AcceptRequest removes the request, archives it as Accepted and adds the sender to the
// receiver's friends in one conditional write. Accepting an already accepted id succeeds again.
func (s *requestService) AcceptRequest(ctx context.Context, userID, requestID string) (resolved *models.SwapRequest, err error) {
	defer func(start time.Time) { metrics.RecordOperation("accept_request", start, err) }(time.Now())

	req, replayed, err := s.resolve(ctx, userID, requestID, models.SwapRequestStatusAccepted)
	if err != nil {
		return nil, err
	}

	// The receiver side is committed; the sender side is repaired on every replay.
	s.linkReciprocalFriend(ctx, req.FromUserID, userID)

	if !replayed {
		s.logger.Info("交换请求已接受", zap.String("requestId", requestID), zap.String("user", userID), zap.String("friend", req.FromUserID))
		s.publish(ctx, events.Event{
			Type:      events.TypeRequestAccepted,
			UserID:    req.FromUserID,
			ActorID:   userID,
			RequestID: requestID,
			Request:   req,
			Timestamp: s.now(),
		})
	}
	return req, nil
}

// RejectRequest removes the request and archives it as Rejected.
func (s *requestService) RejectRequest(ctx context.Context, userID, requestID string) (resolved *models.SwapRequest, err error) {
	defer func(start time.Time) { metrics.RecordOperation("reject_request", start, err) }(time.Now())

	req, replayed, err := s.resolve(ctx, userID, requestID, models.SwapRequestStatusRejected)
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.logger.Info("交换请求已拒绝", zap.String("requestId", requestID), zap.String("user", userID))
		s.publish(ctx, events.Event{
			Type:      events.TypeRequestRejected,
			UserID:    req.FromUserID,
			ActorID:   userID,
			RequestID: requestID,
			Request:   req,
			Timestamp: s.now(),
		})
	}
	return req, nil
}

// resolve moves requestID from requests[] to history[] with the given status.
// replayed is true when the request had already been resolved with the same status.
func (s *requestService) resolve(ctx context.Context, userID, requestID string, status models.SwapRequestStatus) (*models.SwapRequest, bool, error) {
	if err := ValidateParticipantID(userID); err != nil {
		return nil, false, err
	}
	if requestID == "" {
		return nil, false, ErrRequestNotFound
	}

	var (
		resolved models.SwapRequest
		replayed bool
	)
	err := retryOnConflict(ctx, s.maxRetries, string(status), func() error {
		replayed = false
		rec, err := s.store.ReadUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("读取用户 %s 失败: %w", userID, err)
		}

		idx := models.FindRequest(rec.Requests, requestID)
		if idx < 0 {
			h := models.FindRequest(rec.History, requestID)
			if h < 0 {
				return ErrRequestNotFound
			}
			if rec.History[h].Status != status {
				return ErrRequestAlreadyResolved
			}
			resolved = rec.History[h]
			replayed = true
			return nil
		}

		resolved = rec.Requests[idx].Resolve(status, s.now())
		requests := slices.Delete(slices.Clone(rec.Requests), idx, idx+1)
		history := append(slices.Clone(rec.History), resolved)
		patch := models.UserPatch{Requests: &requests, History: &history}
		if status == models.SwapRequestStatusAccepted && !rec.HasFriend(resolved.FromUserID) {
			friends := append(slices.Clone(rec.Friends), resolved.FromUserID)
			patch.Friends = &friends
		}
		_, err = s.store.WriteUser(ctx, userID, patch, rec.Version)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return &resolved, replayed, nil
}

// linkReciprocalFriend adds friendID to userID's friends if missing. Failures are logged, not returned.
func (s *requestService) linkReciprocalFriend(ctx context.Context, userID, friendID string) {
	err := retryOnConflict(ctx, s.maxRetries, "link_friend", func() error {
		rec, err := s.store.ReadUser(ctx, userID)
		if err != nil {
			return err
		}
		if !rec.Exists() || rec.HasFriend(friendID) {
			return nil
		}
		friends := append(slices.Clone(rec.Friends), friendID)
		_, err = s.store.WriteUser(ctx, userID, models.UserPatch{Friends: &friends}, rec.Version)
		return err
	})
	if err != nil {
		metrics.ReciprocalLinkFailures.Inc()
		s.logger.Warn("写入对方好友关系失败 (reciprocal friend link failed)",
			zap.String("user", userID), zap.String("friend", friendID), zap.Error(err))
	}
}

// ListHistory returns resolved requests newest first.
func (s *requestService) ListHistory(ctx context.Context, userID string) ([]models.SwapRequest, error) {
	rec, err := s.store.ReadUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取请求历史失败: %w", err)
	}
	history := slices.Clone(rec.History)
	slices.Reverse(history)
	return history, nil
}

// GetFriendsList retrieves the basic info for all friends of the given user, skipping unknown ids.
func (s *requestService) GetFriendsList(ctx context.Context, userID string) ([]*models.UserBasicInfo, error) {
	rec, err := s.store.ReadUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取好友列表失败: %w", err)
	}
	friends := make([]*models.UserBasicInfo, 0, len(rec.Friends))
	for _, friendID := range rec.Friends {
		friend, err := s.store.ReadUser(ctx, friendID)
		if err != nil {
			return nil, fmt.Errorf("获取好友 %s 信息失败: %w", friendID, err)
		}
		if !friend.Exists() {
			continue
		}
		friends = append(friends, friend.BasicInfo())
	}
	return friends, nil
}

// CountSwaps returns how many requests the user has accepted.
func (s *requestService) CountSwaps(ctx context.Context, userID string) (int, error) {
	rec, err := s.store.ReadUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("统计交换次数失败: %w", err)
	}
	return rec.CountSwaps(), nil
}

// UpdateProfile writes profile fields, creating the user record when it does not exist.
func (s *requestService) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*models.UserRecord, error) {
	if err := ValidateParticipantID(userID); err != nil {
		return nil, err
	}
	patch := models.UserPatch{
		DisplayName:  update.DisplayName,
		Availability: update.Availability,
	}
	if update.OfferedSkills != nil {
		skills := normalizeSkills(*update.OfferedSkills)
		patch.OfferedSkills = &skills
	}
	if update.WantedSkills != nil {
		skills := normalizeSkills(*update.WantedSkills)
		patch.WantedSkills = &skills
	}
	if patch.IsEmpty() {
		return nil, storage.ErrEmptyPatch
	}

	var updated *models.UserRecord
	err := retryOnConflict(ctx, s.maxRetries, "update_profile", func() error {
		rec, err := s.store.ReadUser(ctx, userID)
		if err != nil {
			return err
		}
		updated, err = s.store.WriteUser(ctx, userID, patch, rec.Version)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *requestService) publish(ctx context.Context, evt events.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("发布事件失败", zap.String("type", evt.Type), zap.String("user", evt.UserID), zap.Error(err))
	}
}

// normalizeSkills trims, drops blanks and removes duplicates while keeping first-seen order.
func normalizeSkills(in []string) []string {
	out := make([]string, 0, len(in))
	for _, skill := range in {
		skill = strings.TrimSpace(skill)
		if skill == "" || slices.Contains(out, skill) {
			continue
		}
		out = append(out, skill)
	}
	return out
}

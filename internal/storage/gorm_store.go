package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"skillswap/internal/models"
)

type gormConnectionStore struct {
	db     *gorm.DB
	feed   *ChannelFeed
	logger *zap.Logger
}

// NewGormConnectionStore creates a ConnectionStore backed by a relational database.
// Embedded lists are stored as JSON columns and every write is guarded by the version column.
func NewGormConnectionStore(db *gorm.DB, feed *ChannelFeed, logger *zap.Logger) ConnectionStore {
	if feed == nil {
		feed = NewChannelFeed(logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &gormConnectionStore{db: db, feed: feed, logger: logger}
}

func (s *gormConnectionStore) ReadUser(ctx context.Context, id string) (*models.UserRecord, error) {
	var rec models.UserRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.EmptyUserRecord(id), nil
		}
		return nil, fmt.Errorf("读取用户 %s 失败: %w", id, err)
	}
	rec.Normalize()
	return &rec, nil
}

func (s *gormConnectionStore) WriteUser(ctx context.Context, id string, patch models.UserPatch, expectedVersion int64) (*models.UserRecord, error) {
	if patch.IsEmpty() {
		return nil, ErrEmptyPatch
	}

	if expectedVersion == 0 {
		rec := models.EmptyUserRecord(id)
		patch.Apply(rec)
		rec.Version = 1
		if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, ErrVersionConflict
			}
			return nil, fmt.Errorf("创建用户 %s 失败: %w", id, err)
		}
		rec.Normalize()
		return rec, nil
	}

	var updated models.UserRecord
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		changes := models.UserRecord{ID: id}
		patch.Apply(&changes)
		changes.Version = expectedVersion + 1

		cols := append(patch.Columns(), "version")
		res := tx.Model(&models.UserRecord{ID: id}).
			Where("version = ?", expectedVersion).
			Select(cols).
			Updates(&changes)
		if res.Error != nil {
			return fmt.Errorf("更新用户 %s 失败: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		return tx.Where("id = ?", id).First(&updated).Error
	})
	if txErr != nil {
		return nil, txErr
	}
	updated.Normalize()
	return &updated, nil
}

func (s *gormConnectionStore) ReadChannel(ctx context.Context, id string) (*models.Channel, error) {
	var ch models.Channel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&ch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取频道 %s 失败: %w", id, err)
	}
	if ch.Messages == nil {
		ch.Messages = []models.ChatMessage{}
	}
	return &ch, nil
}

func (s *gormConnectionStore) CreateChannel(ctx context.Context, channel *models.Channel) (*models.Channel, error) {
	created := channel.Clone()
	if created.Messages == nil {
		created.Messages = []models.ChatMessage{}
	}
	created.Version = 1
	if err := s.db.WithContext(ctx).Create(created).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrChannelExists
		}
		return nil, fmt.Errorf("创建频道 %s 失败: %w", channel.ID, err)
	}
	s.feed.Publish(ctx, created)
	return created.Clone(), nil
}

func (s *gormConnectionStore) WriteChannel(ctx context.Context, id string, messages []models.ChatMessage, expectedVersion int64) (*models.Channel, error) {
	var updated models.Channel
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		changes := models.Channel{ID: id, Messages: messages}
		changes.Version = expectedVersion + 1
		res := tx.Model(&models.Channel{ID: id}).
			Where("version = ?", expectedVersion).
			Select("messages", "version").
			Updates(&changes)
		if res.Error != nil {
			return fmt.Errorf("更新频道 %s 失败: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Channel{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrVersionConflict
		}
		return tx.Where("id = ?", id).First(&updated).Error
	})
	if txErr != nil {
		return nil, txErr
	}
	s.feed.Publish(ctx, &updated)
	return updated.Clone(), nil
}

func (s *gormConnectionStore) Subscribe(ctx context.Context, id string, onChange func(*models.Channel)) (func(), error) {
	return subscribeWithFeed(ctx, s, s.feed, id, onChange)
}

package storage

import (
	"context"
	"errors"

	"skillswap/internal/models"
)

var (
	ErrNotFound        = errors.New("文档不存在")
	ErrVersionConflict = errors.New("文档版本冲突")
	ErrChannelExists   = errors.New("频道已存在")
	ErrEmptyPatch      = errors.New("更新内容为空")
)

// ConnectionStore defines the document operations shared by every store backend.
// Writes are conditional on the version the caller read; a mismatch yields ErrVersionConflict.
type ConnectionStore interface {
	// ReadUser returns an empty record with Version 0 when the user does not exist.
	ReadUser(ctx context.Context, id string) (*models.UserRecord, error)
	// WriteUser applies patch when the stored version equals expectedVersion (0 creates the record).
	WriteUser(ctx context.Context, id string, patch models.UserPatch, expectedVersion int64) (*models.UserRecord, error)
	// ReadChannel returns ErrNotFound when the channel has not been created.
	ReadChannel(ctx context.Context, id string) (*models.Channel, error)
	// CreateChannel stores channel only if no document with its id exists yet.
	CreateChannel(ctx context.Context, channel *models.Channel) (*models.Channel, error)
	WriteChannel(ctx context.Context, id string, messages []models.ChatMessage, expectedVersion int64) (*models.Channel, error)
	// Subscribe delivers the current snapshot and then every committed change until cancel is called.
	Subscribe(ctx context.Context, id string, onChange func(*models.Channel)) (cancel func(), err error)
}

// subscribeWithFeed 是各后端共享的订阅实现：先注册，再读取当前快照，确保不会遗漏中间的提交。
func subscribeWithFeed(ctx context.Context, store ConnectionStore, feed *ChannelFeed, id string, onChange func(*models.Channel)) (func(), error) {
	sub := feed.Subscribe(id, onChange)
	current, err := store.ReadChannel(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			sub.Cancel()
			return nil, err
		}
		current = models.EmptyChannel(id)
	}
	sub.Offer(current)
	return sub.Cancel, nil
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"skillswap/internal/config"
	"skillswap/internal/models"
	"skillswap/internal/storage"
)

// NewClient 根据配置创建 Redis 客户端并检查连通性。
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis (%s) 失败: %w", cfg.Addr, err)
	}
	return client, nil
}

// ChannelRelay publishes committed channel snapshots on Redis pub/sub so that every
// instance can hand them to its local subscribers.
type ChannelRelay struct {
	client *redis.Client
	prefix string
	feed   *storage.ChannelFeed
	logger *zap.Logger
}

var _ storage.SnapshotRelay = (*ChannelRelay)(nil)

// NewChannelRelay 创建一个新的 ChannelRelay 实例。
func NewChannelRelay(client *redis.Client, prefix string, feed *storage.ChannelFeed, logger *zap.Logger) *ChannelRelay {
	if prefix == "" {
		prefix = "skillswap:channel:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelRelay{client: client, prefix: prefix, feed: feed, logger: logger}
}

// Relay 将快照发布到 prefix+channelID。
func (r *ChannelRelay) Relay(ctx context.Context, channel *models.Channel) error {
	payload, err := json.Marshal(channel)
	if err != nil {
		return fmt.Errorf("序列化频道快照失败: %w", err)
	}
	if err := r.client.Publish(ctx, r.prefix+channel.ID, payload).Err(); err != nil {
		return fmt.Errorf("发布频道快照到 Redis 失败 for %s: %w", channel.ID, err)
	}
	return nil
}

// Run receives snapshots relayed by any instance until ctx is done.
// Snapshots this instance already delivered are dropped by the feed's version check.
func (r *ChannelRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("订阅 Redis 频道失败: %w", err)
	}
	r.logger.Info("Redis 频道快照中继已启动", zap.String("pattern", r.prefix+"*"))

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.handle(msg)
		}
	}
}

func (r *ChannelRelay) handle(msg *redis.Message) {
	var channel models.Channel
	if err := json.Unmarshal([]byte(msg.Payload), &channel); err != nil {
		r.logger.Warn("无法解析中继的频道快照", zap.String("redisChannel", msg.Channel), zap.Error(err))
		return
	}
	if channel.ID != strings.TrimPrefix(msg.Channel, r.prefix) {
		r.logger.Warn("中继快照的频道ID不匹配", zap.String("redisChannel", msg.Channel), zap.String("channelId", channel.ID))
		return
	}
	r.feed.Deliver(&channel)
}

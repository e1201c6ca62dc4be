// Package bootstrap wires the store, event bus and relay backends selected by configuration.
// Both servers and the admin CLI share it.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"skillswap/internal/config"
	"skillswap/internal/events"
	appKafka "skillswap/internal/kafka"
	"skillswap/internal/rabbitmq"
	appRedis "skillswap/internal/redis"
	"skillswap/internal/storage"
)

// Store backends.
const (
	BackendGorm   = "gorm"
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// Event brokers.
const (
	BrokerKafka    = "kafka"
	BrokerRabbitMQ = "rabbitmq"
	BrokerNone     = "none"
)

// OpenStore 根据 STORE.BACKEND 初始化文档存储。返回的 closer 释放底层连接。
func OpenStore(ctx context.Context, cfg config.Config, feed *storage.ChannelFeed, logger *zap.Logger) (storage.ConnectionStore, func(), error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case BackendGorm, "":
		db, err := storage.InitDB(cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("无法初始化数据库: %w", err)
		}
		if err := storage.AutoMigrateTables(db, logger); err != nil {
			return nil, nil, fmt.Errorf("无法迁移数据库表: %w", err)
		}
		closer := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return storage.NewGormConnectionStore(db, feed, logger), closer, nil

	case BackendMongo:
		client, err := storage.ConnectMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Warn("断开 MongoDB 连接失败", zap.Error(err))
			}
		}
		return storage.NewMongoConnectionStore(client.Database(cfg.Mongo.Database), feed, logger), closer, nil

	case BackendMemory:
		logger.Warn("使用内存存储，数据不会持久化且不在实例间共享")
		return storage.NewMemoryConnectionStore(feed), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("不支持的存储后端: %s", cfg.Store.Backend)
	}
}

// NewPublisher 根据 EVENTS.BROKER 创建事件发布者。
func NewPublisher(cfg config.Config, logger *zap.Logger) (events.Publisher, error) {
	switch strings.ToLower(cfg.Events.Broker) {
	case BrokerKafka:
		producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka, logger)
		if err != nil {
			return nil, fmt.Errorf("无法创建 Kafka 生产者: %w", err)
		}
		return events.NewKafkaPublisher(producer, cfg.Kafka), nil
	case BrokerRabbitMQ:
		client, err := rabbitmq.Dial(cfg.RabbitMQ, logger)
		if err != nil {
			return nil, err
		}
		return events.NewRabbitPublisher(client), nil
	case BrokerNone, "":
		return events.NewNopPublisher(), nil
	default:
		return nil, fmt.Errorf("不支持的事件代理: %s", cfg.Events.Broker)
	}
}

// NewRequestEventSubscriber consumes request lifecycle events. It returns nil when no broker is configured.
// Every chat server instance needs every event, so the consumer group is suffixed with instanceID and
// the RabbitMQ queue is private to this instance.
func NewRequestEventSubscriber(cfg config.Config, instanceID string, logger *zap.Logger) (events.Subscriber, error) {
	if instanceID != "" {
		cfg.Kafka.ConsumerGroup += "-" + instanceID
	}
	switch strings.ToLower(cfg.Events.Broker) {
	case BrokerKafka:
		consumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka, logger)
		if err != nil {
			return nil, fmt.Errorf("无法创建 Kafka 消费者: %w", err)
		}
		return events.NewKafkaSubscriber(consumer, []string{cfg.Kafka.RequestEventsTopic}, cfg.Kafka.ConsumerGroup, logger), nil
	case BrokerRabbitMQ:
		client, err := rabbitmq.Dial(cfg.RabbitMQ, logger)
		if err != nil {
			return nil, err
		}
		client.UseQueue(rabbitmq.InstanceQueue(cfg.RabbitMQ.Queue, instanceID))
		return events.NewRabbitSubscriber(client, "request.#", logger), nil
	case BrokerNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("不支持的事件代理: %s", cfg.Events.Broker)
	}
}

// StartRelay attaches a Redis relay to feed when REDIS.ENABLED is set and runs it until ctx is done.
func StartRelay(ctx context.Context, cfg config.RedisConfig, feed *storage.ChannelFeed, logger *zap.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}
	client, err := appRedis.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	relay := appRedis.NewChannelRelay(client, cfg.ChannelPrefix, feed, logger)
	feed.AttachRelay(relay)
	go func() {
		if err := relay.Run(ctx); err != nil {
			logger.Error("Redis 频道中继停止", zap.Error(err))
		}
	}()
	logger.Info("成功连接到 Redis", zap.String("addr", cfg.Addr))
	return func() { client.Close() }, nil
}

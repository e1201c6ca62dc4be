package events

import (
	"context"
	"fmt"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"skillswap/internal/config"
	"skillswap/internal/kafka"
)

type kafkaPublisher struct {
	producer kafka.MessageProducer
	cfg      config.KafkaConfig
}

// NewKafkaPublisher publishes request events to the request topic and channel events to the channel topic,
// keyed by the concerned user so a user's events stay ordered within a partition.
func NewKafkaPublisher(producer kafka.MessageProducer, cfg config.KafkaConfig) Publisher {
	return &kafkaPublisher{producer: producer, cfg: cfg}
}

func (p *kafkaPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := evt.Encode()
	if err != nil {
		return err
	}
	topic := p.cfg.ChannelEventsTopic
	if evt.IsRequestEvent() {
		topic = p.cfg.RequestEventsTopic
	}
	if err := p.producer.SendMessage(ctx, topic, []byte(evt.UserID), payload); err != nil {
		return fmt.Errorf("发布事件 %s 到 Kafka 失败: %w", evt.Type, err)
	}
	return nil
}

func (p *kafkaPublisher) Close() {
	p.producer.Close()
}

type kafkaSubscriber struct {
	consumer kafka.MessageConsumer
	topics   []string
	groupID  string
	logger   *zap.Logger
}

// NewKafkaSubscriber consumes events from topics within groupID.
func NewKafkaSubscriber(consumer kafka.MessageConsumer, topics []string, groupID string, logger *zap.Logger) Subscriber {
	return &kafkaSubscriber{consumer: consumer, topics: topics, groupID: groupID, logger: logger}
}

func (s *kafkaSubscriber) Run(ctx context.Context, handler Handler) error {
	return s.consumer.Consume(ctx, s.topics, s.groupID, func(ctx context.Context, msg *confluentKafka.Message) error {
		evt, err := Decode(msg.Value)
		if err != nil {
			// Malformed payloads are committed and skipped.
			s.logger.Warn("跳过无法解析的 Kafka 事件", zap.ByteString("value", msg.Value), zap.Error(err))
			return nil
		}
		return handler(ctx, evt)
	})
}

func (s *kafkaSubscriber) Close() {
	s.consumer.Close()
}

package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"skillswap/internal/rabbitmq"
)

// rabbitPublisher routes each event by its type, e.g. "request.accepted".
type rabbitPublisher struct {
	client *rabbitmq.Client
}

// NewRabbitPublisher publishes events to the client's topic exchange.
func NewRabbitPublisher(client *rabbitmq.Client) Publisher {
	return &rabbitPublisher{client: client}
}

func (p *rabbitPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := evt.Encode()
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, evt.Type, payload); err != nil {
		return fmt.Errorf("发布事件 %s 到 RabbitMQ 失败: %w", evt.Type, err)
	}
	return nil
}

func (p *rabbitPublisher) Close() {
	p.client.Close()
}

type rabbitSubscriber struct {
	client     *rabbitmq.Client
	bindingKey string
	logger     *zap.Logger
}

// NewRabbitSubscriber consumes events whose routing key matches bindingKey (e.g. "request.#").
func NewRabbitSubscriber(client *rabbitmq.Client, bindingKey string, logger *zap.Logger) Subscriber {
	return &rabbitSubscriber{client: client, bindingKey: bindingKey, logger: logger}
}

func (s *rabbitSubscriber) Run(ctx context.Context, handler Handler) error {
	return s.client.Consume(ctx, s.bindingKey, func(ctx context.Context, body []byte) error {
		evt, err := Decode(body)
		if err != nil {
			s.logger.Warn("跳过无法解析的 RabbitMQ 事件", zap.ByteString("body", body), zap.Error(err))
			return nil
		}
		return handler(ctx, evt)
	})
}

func (s *rabbitSubscriber) Close() {
	s.client.Close()
}

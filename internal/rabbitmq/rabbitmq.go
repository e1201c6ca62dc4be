package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"skillswap/internal/config"
)

// Client owns one AMQP connection and channel bound to a topic exchange.
type Client struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    QueueSpec
	logger   *zap.Logger
	mu       sync.Mutex
}

// QueueSpec describes how Consume declares its queue.
type QueueSpec struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
}

// SharedQueue is a durable queue that competing consumers drain together.
func SharedQueue(name string) QueueSpec {
	return QueueSpec{Name: name, Durable: true}
}

// InstanceQueue is a queue private to one process. 连接断开后 broker 自动删除，重启不会留下孤儿队列。
func InstanceQueue(base, instanceID string) QueueSpec {
	name := base
	if instanceID != "" {
		name += "." + instanceID
	}
	return QueueSpec{Name: name, AutoDelete: true, Exclusive: true}
}

// queueChannel is the part of *amqp.Channel used to set up a consumer queue.
type queueChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// declareQueue declares spec and binds it to exchange with bindingKey, returning the queue name.
func declareQueue(ch queueChannel, spec QueueSpec, exchange, bindingKey string) (string, error) {
	q, err := ch.QueueDeclare(
		spec.Name,
		spec.Durable,
		spec.AutoDelete,
		spec.Exclusive,
		false, // no-wait
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, bindingKey, exchange, false, nil); err != nil {
		return "", fmt.Errorf("failed to bind queue: %w", err)
	}
	return q.Name, nil
}

// Dial 连接 RabbitMQ 并声明 topic 类型的 exchange。
func Dial(cfg config.RabbitMQConfig, logger *zap.Logger) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	logger.Info("RabbitMQ initialized", zap.String("exchange", cfg.Exchange))
	return &Client{conn: conn, ch: ch, exchange: cfg.Exchange, queue: SharedQueue(cfg.Queue), logger: logger}, nil
}

// UseQueue replaces the queue Consume declares. Call it before Consume.
func (c *Client) UseQueue(spec QueueSpec) {
	c.queue = spec
}

// Publish sends body to the exchange with the given routing key.
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte) error {
	// amqp channels are not safe for concurrent publishing
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch.PublishWithContext(ctx,
		c.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Consume declares the client's queue, binds it with bindingKey and hands each body to handler.
// Deliveries are acked after handler succeeds and requeued otherwise.
func (c *Client) Consume(ctx context.Context, bindingKey string, handler func(ctx context.Context, body []byte) error) error {
	queue, err := declareQueue(c.ch, c.queue, c.exchange, bindingKey)
	if err != nil {
		return err
	}
	msgs, err := c.ch.Consume(
		queue,
		"",
		false, // auto-ack
		c.queue.Exclusive,
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel closed")
			}
			if err := handler(ctx, msg.Body); err != nil {
				c.logger.Warn("处理 RabbitMQ 消息失败，重新入队", zap.String("routingKey", msg.RoutingKey), zap.Error(err))
				_ = msg.Nack(false, true)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

// Close closes the channel and the connection.
func (c *Client) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

package fraud

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// routingKey アラートのルーティングキー
const routingKey = "scan.forged"

// Alert 閾値を超えた不正スキャンの通知内容
type Alert struct {
	DeviceID   string    `json:"device_id"`
	ScannerID  string    `json:"scanner_id,omitempty"`
	Count      int64     `json:"count"`
	Threshold  int       `json:"threshold"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
}

// publishChannel amqp.Channelのうち発行に使う部分
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher RabbitMQのtopic exchangeへアラートを発行する
type AMQPPublisher struct {
	exchange string
	conn     *amqp.Connection

	mu      sync.Mutex
	channel publishChannel
}

// NewAMQPPublisher RabbitMQに接続しexchangeを宣言する
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPPublisher{exchange: exchange, conn: conn, channel: ch}, nil
}

// newPublisherWithChannel 任意のチャネルでAMQPPublisherを作成
func newPublisherWithChannel(exchange string, ch publishChannel) *AMQPPublisher {
	return &AMQPPublisher{exchange: exchange, channel: ch}
}

// Publish アラートをJSONで発行
func (p *AMQPPublisher) Publish(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    alert.DetectedAt,
		Body:         body,
	}); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// Close チャネルと接続を閉じる
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/rl1809/bookstore/internal/core/domain"
)

const (
	publishTimeout = 5 * time.Second
	exchangeType   = "topic"
)

// AMQPNotifier hands notifications to delivery workers through a RabbitMQ
// topic exchange. Routing keys are "notify.<channel>". Every publish waits
// for the broker's confirm, so a nil error means the broker owns the message.
type AMQPNotifier struct {
	url      string
	exchange string
	logger   *zap.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	confirms  chan amqp.Confirmation
	closeChan chan *amqp.Error
}

func NewAMQPNotifier(url, exchange string, logger *zap.Logger) (*AMQPNotifier, error) {
	n := &AMQPNotifier{url: url, exchange: exchange, logger: logger}
	if err := n.connect(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *AMQPNotifier) connect() error {
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("channel could not be put into confirm mode: %w", err)
	}
	if err := ch.ExchangeDeclare(n.exchange, exchangeType, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", n.exchange, err)
	}

	n.conn = conn
	n.ch = ch
	n.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	n.closeChan = conn.NotifyClose(make(chan *amqp.Error, 1))
	n.logger.Info("connected to RabbitMQ", zap.String("exchange", n.exchange))
	return nil
}

// ensureConnected redials after the broker dropped the connection. Callers
// hold n.mu.
func (n *AMQPNotifier) ensureConnected() error {
	select {
	case err := <-n.closeChan:
		n.logger.Warn("RabbitMQ connection lost, reconnecting", zap.Any("reason", err))
		return n.connect()
	default:
	}
	if n.conn == nil || n.conn.IsClosed() {
		return n.connect()
	}
	return nil
}

func RoutingKey(c domain.NotificationChannel) string {
	return "notify." + string(c)
}

func (n *AMQPNotifier) Notify(ctx context.Context, note domain.Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.ensureConnected(); err != nil {
		return err
	}

	err = n.ch.Publish(n.exchange, RoutingKey(note.Channel), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    note.OrderID + ":" + string(note.Channel),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	select {
	case confirm, ok := <-n.confirms:
		if !ok {
			return errors.New("channel closed before confirm")
		}
		if !confirm.Ack {
			return errors.New("notification published but not confirmed")
		}
		return nil
	case <-time.After(publishTimeout):
		return errors.New("publish confirmation timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"draftforge/internal/util"
)

// AMQPBus implements Bus on a durable RabbitMQ queue. Used instead of the
// Redis transport when a broker is already part of the deployment.
type AMQPBus struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewAMQPBus connects to the broker and declares the durable event queue.
func NewAMQPBus(url, queue string) (*AMQPBus, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		return nil, errors.New("amqp queue required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp declare queue: %w", err)
	}
	return &AMQPBus{conn: conn, ch: ch, queue: queue}, nil
}

// Publish enqueues a stage event as a persistent message.
func (b *AMQPBus) Publish(ctx context.Context, evt Event) (Event, error) {
	evt.ProjectID = strings.TrimSpace(evt.ProjectID)
	if evt.ProjectID == "" {
		return Event{}, errors.New("projectId required")
	}
	if strings.TrimSpace(evt.Name) == "" {
		return Event{}, errors.New("event name required")
	}
	if evt.ID == "" {
		evt.ID = util.NewID()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return Event{}, err
	}
	err = b.ch.PublishWithContext(ctx, "", b.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.ID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return Event{}, fmt.Errorf("amqp publish: %w", err)
	}
	return evt, nil
}

// Start launches consumer goroutines until ctx is canceled. A handler error
// requeues the delivery once; a second failure drops it.
func (b *AMQPBus) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := b.ch.Qos(concurrency, 0, false); err != nil {
		slog.Error("amqp qos", "err", err)
	}
	for i := 0; i < concurrency; i++ {
		go b.consumeLoop(ctx, fmt.Sprintf("draftforge-%d", i), handler)
	}
}

func (b *AMQPBus) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	deliveries, err := b.ch.Consume(b.queue, consumer, false, false, false, false, nil)
	if err != nil {
		slog.Error("amqp consume", "consumer", consumer, "err", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			var evt Event
			if err := json.Unmarshal(d.Body, &evt); err != nil {
				slog.Error("amqp decode event", "err", err)
				_ = d.Ack(false)
				continue
			}
			if err := handler(ctx, evt); err != nil {
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close releases the channel and connection.
func (b *AMQPBus) Close() error {
	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return err
	}
	return b.conn.Close()
}

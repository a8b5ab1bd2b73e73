package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the part of *amqp.Channel the recorder needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPRecorder publishes entries to a topic exchange with routing key
// "audit.<action>". Entries are queued and published by Run; when the queue
// is full the entry is dropped.
type AMQPRecorder struct {
	ch       Publisher
	exchange string
	queue    chan Entry
	logger   *slog.Logger
	now      func() time.Time
}

func NewAMQPRecorder(ch Publisher, exchange string, buffer int, logger *slog.Logger) *AMQPRecorder {
	return &AMQPRecorder{
		ch:       ch,
		exchange: exchange,
		queue:    make(chan Entry, buffer),
		logger:   logger,
		now:      time.Now,
	}
}

func (r *AMQPRecorder) Record(ctx context.Context, actorID *uuid.UUID, action string, detail map[string]any) {
	e := Entry{ID: uuid.New(), ActorID: actorID, Action: action, At: r.now(), Detail: detail}
	select {
	case r.queue <- e:
	default:
		r.logger.WarnContext(ctx, "audit queue full, dropping entry", "action", action)
	}
}

// Run publishes queued entries until ctx is cancelled.
func (r *AMQPRecorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.queue:
			if err := r.publish(ctx, e); err != nil {
				r.logger.Error("failed to publish audit entry", "action", e.Action, "error", err)
			}
		}
	}
}

func (r *AMQPRecorder) publish(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return r.ch.PublishWithContext(ctx, r.exchange, "audit."+e.Action, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID.String(),
		Timestamp:    e.At,
		Body:         body,
	})
}

// DialAMQP connects to url and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return conn, ch, nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gema-intervention-api/internal/dto"
)

// BrokerMentorNotifier publishes alerts on a Redis channel and/or a NATS subject
// derived from a shared channel base, for mentor tooling subscribed to either bus.
type BrokerMentorNotifier struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
}

// NewBrokerMentorNotifier builds the notifier. A nil client disables that bus.
func NewBrokerMentorNotifier(redisClient *redis.Client, natsConn *nats.Conn, channelBase string) *BrokerMentorNotifier {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":mentor-alerts"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".mentor-alerts"
	}
	return &BrokerMentorNotifier{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
	}
}

// Notify publishes the JSON encoded alert.
func (b *BrokerMentorNotifier) Notify(ctx context.Context, alert dto.MentorAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	var errs []error
	if b.redis != nil && b.redisChannel != "" {
		if err := b.redis.Publish(ctx, b.redisChannel, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis publish: %w", err))
		}
	}

	if b.nats != nil && b.natsSubject != "" {
		if err := b.nats.Publish(b.natsSubject, payload); err != nil {
			errs = append(errs, fmt.Errorf("nats publish: %w", err))
		}
	}

	return errors.Join(errs...)
}

// AMQPPublisher is the subset of *amqp091.Channel used to publish alerts.
type AMQPPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPMentorNotifier publishes persistent alert messages to a RabbitMQ exchange.
type AMQPMentorNotifier struct {
	channel    AMQPPublisher
	exchange   string
	routingKey string
	now        func() time.Time
}

// NewAMQPMentorNotifier constructs an AMQP notifier.
func NewAMQPMentorNotifier(channel AMQPPublisher, exchange, routingKey string) *AMQPMentorNotifier {
	return &AMQPMentorNotifier{
		channel:    channel,
		exchange:   exchange,
		routingKey: routingKey,
		now:        time.Now,
	}
}

// Notify publishes the alert with a bounded publish timeout.
func (a *AMQPMentorNotifier) Notify(ctx context.Context, alert dto.MentorAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal mentor alert: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = a.channel.PublishWithContext(publishCtx, a.exchange, a.routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		MessageId:    alert.InterventionID,
		Timestamp:    a.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish mentor alert: %w", err)
	}
	return nil
}

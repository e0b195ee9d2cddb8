package database

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPBroker bundles the connection and the channel mentor alerts are published on.
type AMQPBroker struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
}

// Close releases the channel and then the connection.
func (b *AMQPBroker) Close() error {
	if b == nil {
		return nil
	}
	if b.Channel != nil {
		_ = b.Channel.Close()
	}
	if b.Connection != nil {
		return b.Connection.Close()
	}
	return nil
}

// ConnectAMQP dials RabbitMQ and declares the durable exchange mentor alerts are routed through.
func ConnectAMQP(url, exchange string) (*AMQPBroker, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url must not be empty")
	}
	if exchange == "" {
		return nil, fmt.Errorf("amqp exchange must not be empty")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPBroker{Connection: conn, Channel: channel}, nil
}

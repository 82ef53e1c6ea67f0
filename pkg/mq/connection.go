package mq

import (
	"errors"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "events"
)

// NewConnection creates a new RabbitMQ connection.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the events exchange.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// QueueExists reports whether queueName is declared on the broker. A passive
// declare of a missing queue closes the channel it runs on, so it uses a
// throwaway channel.
func QueueExists(conn *amqp091.Connection, queueName string) (bool, error) {
	ch, err := conn.Channel()
	if err != nil {
		return false, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclarePassive(queueName, true, false, false, false, nil)
	if err != nil {
		var amqpErr *amqp091.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp091.NotFound {
			return false, nil
		}
		ch.Close()
		return false, fmt.Errorf("failed to inspect queue %s: %w", queueName, err)
	}

	ch.Close()
	return true, nil
}

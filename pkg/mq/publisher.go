package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
)

var (
	// ErrUnroutable means the broker returned a mandatory publish because no
	// queue took it.
	ErrUnroutable = errors.New("mq: message returned as unroutable")
	// ErrNotConfirmed means the broker nacked the publish.
	ErrNotConfirmed = errors.New("mq: publish not confirmed by broker")
)

// Publisher sends on a channel in confirm mode. Publishes are serialized so
// each confirm and return belongs to the message just sent.
type Publisher struct {
	mu      sync.Mutex
	channel *amqp091.Channel
	returns chan amqp091.Return
}

func NewPublisher(conn *amqp091.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &Publisher{
		channel: ch,
		returns: ch.NotifyReturn(make(chan amqp091.Return, 1)),
	}, nil
}

func (p *Publisher) Close() error {
	if p.channel == nil {
		return nil
	}
	return p.channel.Close()
}

// PublishToQueue publishes payload as persistent JSON to queue through the
// default exchange and waits for the broker confirm. A publish the broker
// cannot route returns ErrUnroutable instead of being dropped.
func (p *Publisher) PublishToQueue(ctx context.Context, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// 丢弃上一次超时后才到达的 return
	p.takeReturn()

	// 默认交换机按队列名直接路由
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"",
		queue,
		true,  // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to await confirm: %w", err)
	}

	// broker 先发 basic.return 再发 ack，所以此时 return 已经到达
	return confirmOutcome(queue, acked, p.takeReturn())
}

func (p *Publisher) takeReturn() *amqp091.Return {
	select {
	case r, ok := <-p.returns:
		if ok {
			return &r
		}
	default:
	}
	return nil
}

func confirmOutcome(queue string, acked bool, returned *amqp091.Return) error {
	if returned != nil {
		return fmt.Errorf("%w: %s (%d %s)", ErrUnroutable, queue, returned.ReplyCode, returned.ReplyText)
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrNotConfirmed, queue)
	}
	return nil
}

package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqcontracts "dmrelay/contracts/mq"
	"dmrelay/internal/model"
	"dmrelay/pkg/mq"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type AMQPOptions struct {
	URL         string
	Queue       string
	RoutingKey  string
	ConsumerTag string
}

// AMQPClient talks to a protocol bridge over RabbitMQ: the bridge publishes
// inbound messages on the events exchange and consumes outbound messages from
// one queue per recipient handle.
type AMQPClient struct {
	opts   AMQPOptions
	logger *zap.Logger

	mu        sync.Mutex
	conn      *amqp091.Connection
	consumer  *mq.Consumer
	publisher *mq.Publisher
	closed    chan *amqp091.Error
	handler   EventHandler
}

func NewAMQPClient(opts AMQPOptions, logger *zap.Logger) *AMQPClient {
	if opts.RoutingKey == "" {
		opts.RoutingKey = mqcontracts.RoutingKeyPrivateMessage
	}
	return &AMQPClient{
		opts:   opts,
		logger: logger,
	}
}

func (c *AMQPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	conn, err := mq.NewConnection(c.opts.URL)
	if err != nil {
		if isAuthError(err) {
			return fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return err
	}

	consumer, err := mq.NewConsumer(conn, c.opts.Queue, c.opts.RoutingKey, c.opts.ConsumerTag, c.logger)
	if err != nil {
		conn.Close()
		return err
	}

	publisher, err := mq.NewPublisher(conn)
	if err != nil {
		consumer.Close()
		conn.Close()
		return err
	}

	c.conn = conn
	c.consumer = consumer
	c.publisher = publisher
	c.closed = conn.NotifyClose(make(chan *amqp091.Error, 1))

	c.logger.Info("Connected to message bridge",
		zap.String("queue", c.opts.Queue),
		zap.String("routing_key", c.opts.RoutingKey),
	)
	return nil
}

func (c *AMQPClient) ResolveRecipient(ctx context.Context, handle string) (Recipient, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return Recipient{}, ErrNotConnected
	}

	address := mqcontracts.OutboundQueuePrefix + handle
	ok, err := mq.QueueExists(conn, address)
	if err != nil {
		return Recipient{}, err
	}
	if !ok {
		return Recipient{}, fmt.Errorf("%w: no outbound queue %s", ErrInvalidRecipient, address)
	}
	return Recipient{Handle: handle, Address: address}, nil
}

func (c *AMQPClient) Subscribe(handler EventHandler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

func (c *AMQPClient) Run(ctx context.Context) error {
	c.mu.Lock()
	consumer, closed, handler := c.consumer, c.closed, c.handler
	c.mu.Unlock()

	if consumer == nil {
		return ErrNotConnected
	}
	if handler == nil {
		return errors.New("messenger: no event handler subscribed")
	}

	deliveries, err := consumer.Consume()
	if err != nil {
		return err
	}

	return c.consume(ctx, handler, deliveries, closed)
}

// consume dispatches deliveries one at a time. Cancellation wins over a
// delivery that is ready at the same moment; an undispatched delivery stays
// unacked and the broker requeues it when the channel closes.
func (c *AMQPClient) consume(ctx context.Context, handler EventHandler, deliveries <-chan amqp091.Delivery, closed <-chan *amqp091.Error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			return fmt.Errorf("%w: %v", ErrDisconnected, amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return ErrDisconnected
			}
			if ctx.Err() != nil {
				return nil
			}
			c.dispatch(ctx, handler, d)
		}
	}
}

// dispatch handles one delivery. The handler runs on a context detached from
// cancellation so a shutdown never interrupts a relay and its state write.
func (c *AMQPClient) dispatch(ctx context.Context, handler EventHandler, d amqp091.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered", zap.Any("panic", r))
			_ = d.Nack(false, false)
		}
	}()

	var payload mqcontracts.PrivateMessagePayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		c.logger.Warn("Dropping malformed message payload", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	msg, ok := toIncomingMessage(payload)
	if !ok {
		c.logger.Debug("Ignoring non-private or outgoing message",
			zap.Int64("message_id", payload.MessageID),
		)
		_ = d.Ack(false)
		return
	}

	// A failed event is not requeued: redelivery could relay it twice.
	if err := handler(context.WithoutCancel(ctx), msg); err != nil {
		c.logger.Error("Handler error",
			zap.Int64("message_id", msg.ID),
			zap.Int64("sender_id", msg.Sender.ID),
			zap.Error(err),
		)
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("Failed to ack message", zap.Error(err))
	}
}

func (c *AMQPClient) Send(ctx context.Context, to Recipient, text string) error {
	c.mu.Lock()
	publisher := c.publisher
	connected := c.conn != nil && !c.conn.IsClosed()
	c.mu.Unlock()

	if publisher == nil || !connected {
		return ErrNotConnected
	}

	payload := mqcontracts.OutboundMessagePayload{
		Recipient: to.Handle,
		Text:      text,
		SentAt:    time.Now(),
	}
	if err := publisher.PublishToQueue(ctx, to.Address, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", to.Address, err)
	}
	return nil
}

func (c *AMQPClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	var errs []error
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if c.consumer != nil {
		if err := c.consumer.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
	}

	c.conn, c.consumer, c.publisher, c.closed = nil, nil, nil, nil
	return errors.Join(errs...)
}

func (c *AMQPClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}

func toIncomingMessage(p mqcontracts.PrivateMessagePayload) (model.IncomingMessage, bool) {
	if !p.IsPrivate || !p.Incoming {
		return model.IncomingMessage{}, false
	}
	return model.IncomingMessage{
		ID:   p.MessageID,
		Text: p.Text,
		Sender: model.Sender{
			ID:        p.Sender.ID,
			FirstName: p.Sender.FirstName,
			LastName:  p.Sender.LastName,
			Username:  p.Sender.Username,
		},
		Date: p.Date,
	}, true
}

func isAuthError(err error) bool {
	if errors.Is(err, amqp091.ErrCredentials) || errors.Is(err, amqp091.ErrSASL) {
		return true
	}
	var amqpErr *amqp091.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp091.AccessRefused
}

package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	mqcontracts "dmrelay/contracts/mq"
	"dmrelay/internal/model"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestToIncomingMessage(t *testing.T) {
	date := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	payload := mqcontracts.PrivateMessagePayload{
		MessageID: 42,
		Text:      "hi",
		Sender: mqcontracts.SenderPayload{
			ID:        1001,
			FirstName: "John",
			LastName:  "Doe",
			Username:  "jdoe",
		},
		Date:      date,
		IsPrivate: true,
		Incoming:  true,
	}

	msg, ok := toIncomingMessage(payload)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ID)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, int64(1001), msg.Sender.ID)
	assert.Equal(t, "John Doe (@jdoe)", msg.Sender.DisplayName())
	assert.Equal(t, date, msg.Date)
}

func TestToIncomingMessageRejectsGroupAndOutgoing(t *testing.T) {
	_, ok := toIncomingMessage(mqcontracts.PrivateMessagePayload{IsPrivate: false, Incoming: true})
	assert.False(t, ok)

	_, ok = toIncomingMessage(mqcontracts.PrivateMessagePayload{IsPrivate: true, Incoming: false})
	assert.False(t, ok)
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, isAuthError(fmt.Errorf("failed to connect to RabbitMQ: %w", amqp091.ErrCredentials)))
	assert.True(t, isAuthError(amqp091.ErrSASL))
	assert.True(t, isAuthError(&amqp091.Error{Code: amqp091.AccessRefused, Reason: "ACCESS_REFUSED"}))
	assert.False(t, isAuthError(errors.New("dial tcp: connection refused")))
}

func TestAMQPClientRequiresConnection(t *testing.T) {
	c := NewAMQPClient(AMQPOptions{URL: "amqp://localhost", Queue: "relay.private.q"}, zap.NewNop())

	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Run(context.Background()), ErrNotConnected)
	assert.ErrorIs(t, c.Send(context.Background(), Recipient{Handle: "bot", Address: "outbound.bot"}, "hi"), ErrNotConnected)

	_, err := c.ResolveRecipient(context.Background(), "bot")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, c.Disconnect())
}

func privateDelivery(t *testing.T, senderID int64) amqp091.Delivery {
	t.Helper()
	body, err := json.Marshal(mqcontracts.PrivateMessagePayload{
		MessageID: 1,
		Text:      "hi",
		Sender:    mqcontracts.SenderPayload{ID: senderID, FirstName: "John", LastName: "Doe"},
		IsPrivate: true,
		Incoming:  true,
	})
	require.NoError(t, err)
	return amqp091.Delivery{Body: body}
}

func TestConsumeStopsBeforeDispatchOnCancel(t *testing.T) {
	c := NewAMQPClient(AMQPOptions{Queue: "relay.private.q"}, zap.NewNop())
	deliveries := make(chan amqp091.Delivery, 2)
	deliveries <- privateDelivery(t, 1)
	deliveries <- privateDelivery(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	handler := func(ctx context.Context, msg model.IncomingMessage) error {
		calls++
		return nil
	}

	require.NoError(t, c.consume(ctx, handler, deliveries, make(chan *amqp091.Error)))
	assert.Zero(t, calls)
	assert.Len(t, deliveries, 2, "pending deliveries are left for redelivery")
}

func TestConsumeDispatchesUntilChannelCloses(t *testing.T) {
	c := NewAMQPClient(AMQPOptions{Queue: "relay.private.q"}, zap.NewNop())
	deliveries := make(chan amqp091.Delivery, 1)
	deliveries <- privateDelivery(t, 1001)
	close(deliveries)

	var got []int64
	handler := func(ctx context.Context, msg model.IncomingMessage) error {
		got = append(got, msg.Sender.ID)
		return nil
	}

	err := c.consume(context.Background(), handler, deliveries, make(chan *amqp091.Error))
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.Equal(t, []int64{1001}, got)
}

func TestConsumeReportsConnectionClose(t *testing.T) {
	c := NewAMQPClient(AMQPOptions{Queue: "relay.private.q"}, zap.NewNop())
	closed := make(chan *amqp091.Error, 1)
	closed <- &amqp091.Error{Code: amqp091.ConnectionForced, Reason: "CONNECTION_FORCED"}

	err := c.consume(context.Background(), nil, make(chan amqp091.Delivery), closed)
	assert.ErrorIs(t, err, ErrDisconnected)
}

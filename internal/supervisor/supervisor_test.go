package supervisor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"dmrelay/internal/messenger"
	"dmrelay/internal/messenger/messengertest"
	"dmrelay/internal/model"
	"dmrelay/internal/mqhandler"
	"dmrelay/internal/repository"
	"dmrelay/internal/service/gateway"
	"dmrelay/internal/service/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errRefused = errors.New("dial tcp 127.0.0.1:5672: connect: connection refused")

func newSupervisor(t *testing.T, fake *messengertest.Fake, opts Options, logger *zap.Logger) *Supervisor {
	t.Helper()
	repo := repository.NewFileStateRepository(t.TempDir(), zap.NewNop())
	store := tracking.NewStore(repo, tracking.Options{Window: time.Hour, Enabled: true}, zap.NewNop())
	store.Load(context.Background(), time.Now())

	gw := gateway.NewGateway(fake, "relay_bot", zap.NewNop())
	handler := mqhandler.NewPrivateMessageHandler(store, gw, zap.NewNop())
	return NewSupervisor(fake, gw, handler, store, opts, logger)
}

func fastOptions(maxRetries int) Options {
	return Options{MaxRetries: maxRetries, RetryDelay: time.Millisecond}
}

func runAsync(ctx context.Context, s *Supervisor) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func awaitRunning(t *testing.T, fake *messengertest.Fake) {
	t.Helper()
	select {
	case <-fake.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("session never reached running")
	}
}

func awaitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not return")
		return nil
	}
}

func TestRunCleanShutdown(t *testing.T) {
	fake := messengertest.NewFake()
	s := newSupervisor(t, fake, fastOptions(5), zap.NewNop())
	assert.Equal(t, Idle, s.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	awaitRunning(t, fake)
	assert.Equal(t, Running, s.State())

	cancel()
	require.NoError(t, awaitResult(t, done))
	assert.Equal(t, ShuttingDown, s.State())

	connects, resolves, disconnects := fake.Stats()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, resolves)
	assert.Equal(t, 1, disconnects)
	assert.False(t, fake.IsConnected())
}

func TestRunRelaysMessages(t *testing.T) {
	fake := messengertest.NewFake()
	s := newSupervisor(t, fake, fastOptions(5), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	awaitRunning(t, fake)

	msg := model.IncomingMessage{
		ID:     1,
		Text:   "hi",
		Sender: model.Sender{ID: 1001, FirstName: "John", LastName: "Doe"},
		Date:   time.Now(),
	}
	require.NoError(t, fake.Deliver(ctx, msg))
	require.NoError(t, fake.Deliver(ctx, msg))

	cancel()
	require.NoError(t, awaitResult(t, done))

	sent := fake.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "outbound.relay_bot", sent[0].To.Address)
}

func TestRunRetriesExhausted(t *testing.T) {
	fake := messengertest.NewFake()
	fake.FailConnect(errRefused, errRefused, errRefused)
	s := newSupervisor(t, fake, fastOptions(3), zap.NewNop())

	err := awaitResult(t, runAsync(context.Background(), s))

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, errRefused)
	connects, _, _ := fake.Stats()
	assert.Equal(t, 3, connects)
	assert.Equal(t, ShuttingDown, s.State())
}

func TestRunRecoversFromTransientConnectFailure(t *testing.T) {
	fake := messengertest.NewFake()
	fake.FailConnect(errRefused, errRefused)
	s := newSupervisor(t, fake, fastOptions(3), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	awaitRunning(t, fake)

	cancel()
	require.NoError(t, awaitResult(t, done))
	connects, _, _ := fake.Stats()
	assert.Equal(t, 3, connects)
}

func TestRunAuthFailureIsFatal(t *testing.T) {
	fake := messengertest.NewFake()
	fake.FailConnect(fmt.Errorf("%w: username or password not allowed", messenger.ErrAuth))
	s := newSupervisor(t, fake, fastOptions(5), zap.NewNop())

	err := awaitResult(t, runAsync(context.Background(), s))

	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, messenger.ErrAuth)
	connects, _, _ := fake.Stats()
	assert.Equal(t, 1, connects)
}

func TestRunInvalidRecipientIsFatal(t *testing.T) {
	fake := messengertest.NewFake()
	fake.FailResolve(messenger.ErrInvalidRecipient)
	s := newSupervisor(t, fake, fastOptions(5), zap.NewNop())

	err := awaitResult(t, runAsync(context.Background(), s))

	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, messenger.ErrInvalidRecipient)
	_, _, disconnects := fake.Stats()
	assert.Equal(t, 1, disconnects)
	assert.Equal(t, gateway.Invalidated, s.gateway.State())
}

func TestRunResetsRetriesAfterRunning(t *testing.T) {
	fake := messengertest.NewFake()
	fake.FailConnect(errRefused)
	s := newSupervisor(t, fake, fastOptions(2), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	awaitRunning(t, fake)

	// One failure already spent; without a reset this drop would exhaust
	// the budget.
	fake.Drop(nil)
	awaitRunning(t, fake)

	cancel()
	require.NoError(t, awaitResult(t, done))
	connects, resolves, disconnects := fake.Stats()
	assert.Equal(t, 3, connects)
	assert.Equal(t, 2, resolves)
	assert.Equal(t, 1, disconnects, "a dropped session is not disconnected again")
}

func TestRunSkipsDisconnectForDroppedSession(t *testing.T) {
	fake := messengertest.NewFake()
	s := newSupervisor(t, fake, fastOptions(1), zap.NewNop())

	done := runAsync(context.Background(), s)
	awaitRunning(t, fake)
	fake.Drop(nil)

	err := awaitResult(t, done)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, messenger.ErrDisconnected)
	_, _, disconnects := fake.Stats()
	assert.Zero(t, disconnects)
}

func TestRunBackoffIsCancellable(t *testing.T) {
	fake := messengertest.NewFake()
	fake.FailConnect(errRefused)
	s := newSupervisor(t, fake, Options{MaxRetries: 5, RetryDelay: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	require.Eventually(t, func() bool {
		connects, _, _ := fake.Stats()
		return connects == 1
	}, 5*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, awaitResult(t, done))
	connects, _, _ := fake.Stats()
	assert.Equal(t, 1, connects)
}

func TestRunLogsDisconnectError(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	fake := messengertest.NewFake()
	fake.DisconnectErr = errors.New("channel already closed")
	s := newSupervisor(t, fake, fastOptions(5), zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)
	awaitRunning(t, fake)

	cancel()
	require.NoError(t, awaitResult(t, done))
	assert.Equal(t, 1, logs.FilterMessage("Error during disconnect").Len())
}

func TestRetentionDisabledWithTracking(t *testing.T) {
	repo := repository.NewFileStateRepository(t.TempDir(), zap.NewNop())
	store := tracking.NewStore(repo, tracking.Options{Window: time.Hour}, zap.NewNop())
	fake := messengertest.NewFake()
	gw := gateway.NewGateway(fake, "relay_bot", zap.NewNop())
	handler := mqhandler.NewPrivateMessageHandler(store, gw, zap.NewNop())

	s := NewSupervisor(fake, gw, handler, store, fastOptions(5), zap.NewNop())
	assert.Nil(t, s.retention)

	store = tracking.NewStore(repo, tracking.Options{Window: 4 * time.Hour, Enabled: true}, zap.NewNop())
	s = NewSupervisor(fake, gw, handler, store, fastOptions(5), zap.NewNop())
	require.NotNil(t, s.retention)
	assert.Equal(t, 2*time.Hour, s.retention.Interval())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "shutting_down", ShuttingDown.String())
	assert.Equal(t, "unknown", State(42).String())
}

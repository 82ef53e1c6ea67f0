// Package supervisor owns the messaging session: it connects, resolves the
// downstream recipient, runs the event loop and reconnects on transient
// failures within a bounded retry budget.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dmrelay/internal/messenger"
	"dmrelay/internal/mqhandler"
	"dmrelay/internal/service/gateway"
	"dmrelay/internal/service/tracking"
	"dmrelay/pkg/metrics"
	"dmrelay/pkg/util"

	"go.uber.org/zap"
)

type State int32

const (
	Idle State = iota
	Connecting
	Running
	Disconnected
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Disconnected:
		return "disconnected"
	case ShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

var (
	ErrRetriesExhausted = errors.New("supervisor: retries exhausted")
	ErrFatal            = errors.New("supervisor: fatal connection error")
)

type Options struct {
	MaxRetries    int
	RetryDelay    time.Duration
	PruneInterval time.Duration
}

type Supervisor struct {
	client  messenger.Client
	gateway *gateway.Gateway
	handler *mqhandler.PrivateMessageHandler
	store   *tracking.Store
	opts    Options
	logger  *zap.Logger

	retention *tracking.Retention
	state     atomic.Int32
}

func NewSupervisor(
	client messenger.Client,
	gw *gateway.Gateway,
	handler *mqhandler.PrivateMessageHandler,
	store *tracking.Store,
	opts Options,
	logger *zap.Logger,
) *Supervisor {
	s := &Supervisor{
		client:  client,
		gateway: gw,
		handler: handler,
		store:   store,
		opts:    opts,
		logger:  logger,
	}
	if store.Enabled() {
		interval := opts.PruneInterval
		if interval <= 0 {
			interval = tracking.PruneInterval(store.Window())
		}
		s.retention = tracking.NewRetention(handler.Prune, interval, logger)
	}
	return s
}

func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
	metrics.SetSupervisorState(int(st))
	s.logger.Debug("Supervisor state changed", zap.String("state", st.String()))
}

// Run keeps a session alive until ctx is cancelled, which returns nil.
// Authentication and recipient errors return ErrFatal at once; transient
// errors are retried and return ErrRetriesExhausted once the budget is spent.
func (s *Supervisor) Run(ctx context.Context) error {
	retries := 0
	for {
		if ctx.Err() != nil {
			return s.shutdown()
		}

		reached, err := s.session(ctx)
		if ctx.Err() != nil {
			return s.shutdown()
		}
		if reached {
			retries = 0
		}

		// 认证失败、接收者无效等错误不重试
		retryable, kind := util.IsRetryableError(err)
		if !retryable {
			s.logger.Error("Fatal connection error", zap.String("error_type", kind), zap.Error(err))
			s.setState(ShuttingDown)
			return fmt.Errorf("%w (%s): %w", ErrFatal, kind, err)
		}

		retries++
		if !util.ShouldRetry(retries, s.opts.MaxRetries, retryable) {
			s.logger.Error("Max retries reached. Giving up.",
				zap.Int("attempt", retries),
				zap.Error(err),
			)
			s.setState(ShuttingDown)
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, retries, err)
		}

		s.logger.Warn("Connection lost, retrying",
			zap.Int("attempt", retries),
			zap.Int("max_retries", s.opts.MaxRetries),
			zap.Duration("retry_delay", s.opts.RetryDelay),
			zap.String("error_type", kind),
			zap.Error(err),
		)
		metrics.IncrementReconnect()

		if !s.wait(ctx) {
			return s.shutdown()
		}
	}
}

// session runs one connect → run cycle. reached reports whether it got to
// Running, which resets the retry budget.
func (s *Supervisor) session(ctx context.Context) (reached bool, err error) {
	s.setState(Connecting)
	if err := s.client.Connect(ctx); err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer s.teardown()

	if err := s.gateway.Resolve(ctx); err != nil {
		return false, fmt.Errorf("resolve recipient: %w", err)
	}
	s.client.Subscribe(s.handler.Handle)

	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	// 启动时先清理一次，之后按周期清理，随会话结束而停止
	if s.retention != nil {
		s.retention.RunOnce(sessCtx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.retention.Start(sessCtx)
		}()
	}

	tracking.LogStats(s.logger, s.store.Stats(time.Now()))
	s.setState(Running)
	s.logger.Info("Relay is running, waiting for private messages")

	err = s.client.Run(sessCtx)
	if ctx.Err() != nil {
		return true, ctx.Err()
	}
	if err == nil {
		err = messenger.ErrDisconnected
	}
	s.setState(Disconnected)
	return true, err
}

// teardown drops the cached recipient and closes a still-open client,
// logging any close error.
func (s *Supervisor) teardown() {
	s.gateway.Invalidate()
	if !s.client.IsConnected() {
		return
	}
	if err := s.client.Disconnect(); err != nil {
		s.logger.Warn("Error during disconnect", zap.Error(err))
	}
}

func (s *Supervisor) wait(ctx context.Context) bool {
	timer := time.NewTimer(s.opts.RetryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Supervisor) shutdown() error {
	s.setState(ShuttingDown)
	s.logger.Info("Relay stopped")
	return nil
}

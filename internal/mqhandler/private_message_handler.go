package mqhandler

import (
	"context"
	"sync"
	"time"

	"dmrelay/internal/model"
	"dmrelay/internal/service/forward"
	"dmrelay/internal/service/tracking"
	"dmrelay/pkg/logger"
	"dmrelay/pkg/metrics"
	"dmrelay/pkg/trace"

	"go.uber.org/zap"
)

// Forwarder relays a message and reports whether it was delivered.
type Forwarder interface {
	Forward(ctx context.Context, msg model.IncomingMessage, senderName string) bool
}

// PrivateMessageHandler runs decide → deliver → record for each inbound
// message. The whole sequence holds mu, and so does Prune, so two messages
// from one sender can never both pass the daily check.
type PrivateMessageHandler struct {
	store     *tracking.Store
	forwarder Forwarder
	logger    *zap.Logger
	now       func() time.Time

	mu sync.Mutex
}

func NewPrivateMessageHandler(store *tracking.Store, forwarder Forwarder, logger *zap.Logger) *PrivateMessageHandler {
	return &PrivateMessageHandler{
		store:     store,
		forwarder: forwarder,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces time.Now, for tests.
func (h *PrivateMessageHandler) WithClock(now func() time.Time) *PrivateMessageHandler {
	h.now = now
	return h
}

// Handle is the messenger.EventHandler for private messages. Failures are
// logged and recorded, never returned.
func (h *PrivateMessageHandler) Handle(ctx context.Context, msg model.IncomingMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx = trace.WithContext(ctx, trace.GenerateTraceID())
	name := msg.Sender.DisplayName()
	log := logger.WithTrace(ctx, h.logger).With(
		zap.Int64("sender_id", msg.Sender.ID),
		zap.String("sender_name", name),
	)

	// 1. 决策：最近处理 → 今日已转发 → 过滤条件
	now := h.now()
	decision := forward.Decide(msg, h.store, now)
	metrics.IncrementDecision(decision.Verdict.String())

	switch decision.Verdict {
	case forward.SkipRecent:
		log.Info("Already handled a message from this sender recently. Skipping.")
		return nil
	case forward.SkipDaily:
		log.Info("Already forwarded a message from this sender today. Skipping.")
	case forward.SkipFiltered:
		log.Info("Ignoring message, doesn't match criteria")
	}
	if decision.Record() {
		h.store.RecordIgnored(ctx, msg.Sender.ID, name, decision.Reason, now)
		return nil
	}

	log.Info("Processing first message today", zap.String("preview", preview(msg.Text, 50)))

	// 2. 转发，失败时记录为 ignored，发送者仍可再次转发
	if !h.forwarder.Forward(ctx, msg, name) {
		log.Warn("Failed to forward message")
		h.store.RecordIgnored(ctx, msg.Sender.ID, name, model.ReasonForwardFailed, h.now())
		return nil
	}

	// 3. 成功：写入当日记录和 collected
	done := h.now()
	h.store.RecordDailyForward(ctx, msg.Sender.ID, name, done)
	h.store.RecordCollected(ctx, msg.Sender.ID, name, done)
	log.Info("Marked sender as forwarded for today and tracked as collected")
	return nil
}

// Prune runs a store prune under the handler's lock.
func (h *PrivateMessageHandler) Prune(ctx context.Context, now time.Time) tracking.PruneResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.Prune(ctx, now)
}

func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}

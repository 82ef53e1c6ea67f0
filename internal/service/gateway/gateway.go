package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"dmrelay/internal/messenger"
	"dmrelay/internal/model"
	"dmrelay/pkg/metrics"

	"go.uber.org/zap"
)

// HandleState tracks the cached downstream recipient.
type HandleState int

const (
	Unresolved HandleState = iota
	Resolved
	Invalidated
)

func (s HandleState) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolved:
		return "resolved"
	case Invalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

const separatorWidth = 40

// Gateway relays qualifying messages to the single downstream recipient.
type Gateway struct {
	client    messenger.Client
	recipient string
	logger    *zap.Logger

	mu     sync.Mutex
	state  HandleState
	target messenger.Recipient
}

func NewGateway(client messenger.Client, recipient string, logger *zap.Logger) *Gateway {
	return &Gateway{
		client:    client,
		recipient: recipient,
		logger:    logger,
	}
}

func (g *Gateway) State() HandleState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Resolve looks the recipient up and caches it. Called while connecting, where
// an error is fatal for the attempt.
func (g *Gateway) Resolve(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolveLocked(ctx)
}

func (g *Gateway) resolveLocked(ctx context.Context) error {
	target, err := g.client.ResolveRecipient(ctx, g.recipient)
	if err != nil {
		g.state = Invalidated
		return fmt.Errorf("failed to resolve recipient %s: %w", g.recipient, err)
	}
	g.target = target
	g.state = Resolved
	g.logger.Info("Resolved downstream recipient",
		zap.String("recipient", target.Handle),
		zap.String("address", target.Address),
	)
	return nil
}

// Invalidate drops the cached recipient so the next send resolves it again.
func (g *Gateway) Invalidate() {
	g.mu.Lock()
	if g.state == Resolved {
		g.state = Invalidated
	}
	g.mu.Unlock()
}

// Forward sends the envelope for msg. Every failure is logged and reported as
// false; the cached recipient is invalidated so the next call re-resolves.
func (g *Gateway) Forward(ctx context.Context, msg model.IncomingMessage, senderName string) bool {
	start := time.Now()
	ok := g.forward(ctx, msg, senderName)
	metrics.RecordDelivery(ok, time.Since(start))
	return ok
}

func (g *Gateway) forward(ctx context.Context, msg model.IncomingMessage, senderName string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	log := g.logger.With(
		zap.Int64("sender_id", msg.Sender.ID),
		zap.String("sender_name", senderName),
	)

	if g.state != Resolved {
		log.Warn("Recipient not available, resolving again", zap.String("state", g.state.String()))
		if err := g.resolveLocked(ctx); err != nil {
			log.Error("Failed to resolve recipient", zap.Error(err))
			return false
		}
	}

	if err := g.client.Send(ctx, g.target, Envelope(msg, senderName)); err != nil {
		log.Error("Error forwarding message",
			zap.String("recipient", g.target.Handle),
			zap.Error(err),
		)
		g.state = Invalidated
		return false
	}

	log.Info("Message forwarded successfully", zap.String("recipient", g.target.Handle))
	return true
}

// Envelope formats the relayed text with the sender details.
func Envelope(msg model.IncomingMessage, senderName string) string {
	var b strings.Builder
	b.WriteString("📨 FIRST MESSAGE TODAY from: ")
	b.WriteString(senderName)
	b.WriteString("\n👤 User ID: ")
	b.WriteString(strconv.FormatInt(msg.Sender.ID, 10))
	b.WriteString("\n⏰ Time: ")
	b.WriteString(msg.Date.Format(model.TimeLayout))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", separatorWidth))
	b.WriteString("\n")
	b.WriteString(msg.Text)
	return b.String()
}

package domain

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"bizforge.io/platform/internal/pkg/logger"
)

// IntentHandler consumes one delivered outbox intent.
type IntentHandler func(ctx context.Context, intent *OutboxIntent) error

// IntentDispatcher routes relayed outbox intents to registered handlers.
// It is the in-process downstream of the outbox table: the relay worker
// claims pending rows and hands them here. Outbound transports (webhook
// HTTP, external integrations) register handlers; the kernel itself never
// delivers over the network.
type IntentDispatcher struct {
	handlers map[IntentKind][]IntentHandler
	mu       sync.RWMutex
}

// NewIntentDispatcher creates an empty dispatcher.
func NewIntentDispatcher() *IntentDispatcher {
	return &IntentDispatcher{
		handlers: make(map[IntentKind][]IntentHandler),
	}
}

// Register registers a handler for an intent kind.
func (d *IntentDispatcher) Register(kind IntentKind, handler IntentHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], handler)
}

// Dispatch hands the intent to all handlers for its kind, sequentially.
// Handler failures are logged and the first one is returned, but remaining
// handlers still run (best-effort delivery).
func (d *IntentDispatcher) Dispatch(ctx context.Context, intent *OutboxIntent) error {
	d.mu.RLock()
	handlers := d.handlers[intent.Kind]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		logger.Warn("No handlers registered for intent kind",
			zap.String("kind", string(intent.Kind)),
			zap.String("intent_id", intent.ID),
		)
		return nil
	}

	var firstErr error
	for _, handler := range handlers {
		if err := handler(ctx, intent); err != nil {
			logger.Error("Intent handler failed",
				zap.String("kind", string(intent.Kind)),
				zap.String("intent_id", intent.ID),
				zap.String("event", intent.Event),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("handler for %s failed: %w", intent.Kind, err)
			}
		}
	}

	return firstErr
}

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Processor drains the queue against registered handlers. One drain runs at
// a time; operations for the same entity are therefore applied in order.
type Processor struct {
	mu       sync.RWMutex
	store    *Store
	handlers map[string]Handler
	logger   *slog.Logger
	interval time.Duration
	draining sync.Mutex
	shutdown chan struct{}
	done     chan struct{}
}

// NewProcessor creates a processor over the given store
func NewProcessor(store *Store, interval time.Duration, logger *slog.Logger) *Processor {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:    store,
		handlers: make(map[string]Handler),
		logger:   logger.With(slog.String("component", "queue-processor")),
		interval: interval,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// RegisterHandler binds a handler to an entity type. Operations whose
// entity type has no handler are skipped with a warning and stay pending.
func (p *Processor) RegisterHandler(entityType string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[entityType] = h
}

// Start begins the periodic drain loop
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("starting queue processor",
		slog.Duration("interval", p.interval))
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("queue processor stopped by context")
				return
			case <-p.shutdown:
				p.logger.Debug("queue processor stopped by shutdown")
				return
			case <-ticker.C:
				if err := p.Drain(ctx); err != nil {
					p.logger.Error("queue drain failed",
						slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop shuts the drain loop down, waiting up to timeout for an in-flight
// drain to finish
func (p *Processor) Stop(timeout time.Duration) error {
	close(p.shutdown)
	select {
	case <-p.done:
		p.logger.Info("queue processor stopped")
		return nil
	case <-time.After(timeout):
		p.logger.Warn("queue processor stop timeout exceeded")
		return fmt.Errorf("timeout waiting for queue processor to stop")
	}
}

// Drain processes every currently runnable operation once, in (priority,
// created_at) order. Safe to call from timers and from connectivity
// restoration alike; concurrent calls serialize.
func (p *Processor) Drain(ctx context.Context) error {
	p.draining.Lock()
	defer p.draining.Unlock()

	ops, err := p.store.GetPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending operations: %w", err)
	}
	for _, op := range ops {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.processOne(ctx, op)
	}
	return nil
}

func (p *Processor) processOne(ctx context.Context, op *Operation) {
	logger := p.logger.With(
		slog.String("operation_id", op.ID),
		slog.String("entity_type", op.EntityType),
		slog.String("entity_id", op.EntityID))

	p.mu.RLock()
	handler, ok := p.handlers[op.EntityType]
	p.mu.RUnlock()
	if !ok {
		logger.Warn("no handler registered for entity type, skipping")
		return
	}

	// Re-read status right before dispatch so a CancelByEntity issued after
	// the pending snapshot was taken still wins.
	current, err := p.store.Get(ctx, op.ID)
	if err != nil {
		logger.Error("failed to re-check operation status",
			slog.String("error", err.Error()))
		return
	}
	if current == nil || current.IsTerminal() {
		logger.Debug("operation no longer runnable, skipping")
		return
	}

	if err := p.store.MarkProcessing(ctx, op.ID); err != nil {
		logger.Error("failed to mark operation processing",
			slog.String("error", err.Error()))
		return
	}

	success, handlerErr := p.runHandler(handler, current, logger)
	if success {
		if err := p.store.MarkCompleted(ctx, op.ID); err != nil {
			logger.Error("failed to mark operation completed",
				slog.String("error", err.Error()))
		}
		logger.Debug("operation completed",
			slog.Int("attempts", current.Attempts+1))
		return
	}

	if handlerErr == nil {
		handlerErr = fmt.Errorf("handler reported failure")
	}
	if err := p.store.MarkFailed(ctx, op.ID, handlerErr); err != nil {
		logger.Error("failed to mark operation failed",
			slog.String("error", err.Error()))
		return
	}
	if current.Attempts+1 >= current.MaxAttempts {
		logger.Warn("operation exhausted retry budget",
			slog.Int("attempts", current.Attempts+1),
			slog.Int("max_attempts", current.MaxAttempts),
			slog.String("error", handlerErr.Error()))
	} else {
		logger.Debug("operation attempt failed, will retry",
			slog.Int("attempts", current.Attempts+1),
			slog.String("error", handlerErr.Error()))
	}
}

// runHandler invokes a handler with panic recovery so one bad handler
// cannot take down the drain loop
func (p *Processor) runHandler(h Handler, op *Operation, logger *slog.Logger) (success bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("operation handler panicked", slog.Any("panic", r))
			success = false
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(op)
}

package webhook

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// HandlerFunc processes a stored webhook event. A returned error sends the
// event down the retry path; a panic is contained and treated the same way.
type HandlerFunc func(ctx context.Context, ev *Event) error

// Config holds dispatcher configuration.
type Config struct {
	// Storage is the event store backend (required).
	Storage Storage

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking dispatch outcomes (default: NoopMetrics).
	Metrics Metrics

	// Now overrides the clock, mainly for tests (default: time.Now UTC).
	Now func() time.Time
}

// Dispatcher receives validated inbound events, gates them through the
// idempotency guard and routes them to the handler registered for their
// (provider, event type) pair. Every outcome is reported back to the event
// store, so no event is ever left stuck in processing by a handler error.
type Dispatcher struct {
	storage   Storage
	guard     *Guard
	scheduler *Scheduler
	handlers  map[string]HandlerFunc
	logger    Logger
	metrics   Metrics
	now       func() time.Time
}

// NewDispatcher creates a dispatcher with the given configuration.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Storage == nil {
		return nil, ErrStorageUnavailable
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	guard, err := NewGuard(cfg.Storage)
	if err != nil {
		return nil, err
	}
	guard.now = cfg.Now

	scheduler, err := NewScheduler(cfg.Storage, cfg.Logger, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	scheduler.now = cfg.Now

	return &Dispatcher{
		storage:   cfg.Storage,
		guard:     guard,
		scheduler: scheduler,
		handlers:  make(map[string]HandlerFunc),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}, nil
}

// Guard exposes the dispatcher's idempotency guard for read-only checks.
func (d *Dispatcher) Guard() *Guard {
	return d.guard
}

// Handle registers a handler for a (provider, eventType) pair.
// Registering again for the same pair replaces the previous handler.
func (d *Dispatcher) Handle(provider, eventType string, h HandlerFunc) {
	d.handlers[handlerKey(provider, eventType)] = h
}

// HandleDefault registers a fallback handler for all of a provider's event
// types that have no specific handler.
func (d *Dispatcher) HandleDefault(provider string, h HandlerFunc) {
	d.handlers[handlerKey(provider, "*")] = h
}

func handlerKey(provider, eventType string) string {
	return provider + ":" + eventType
}

func (d *Dispatcher) lookup(provider, eventType string) (HandlerFunc, bool) {
	if h, ok := d.handlers[handlerKey(provider, eventType)]; ok {
		return h, true
	}
	h, ok := d.handlers[handlerKey(provider, "*")]
	return h, ok
}

// Dispatch registers the inbound delivery (insert-or-get on the idempotency
// key) and processes it when the guard allows. Duplicate deliveries of
// completed or in-flight events short-circuit without error so callers can
// acknowledge them to the provider.
func (d *Dispatcher) Dispatch(ctx context.Context, in Inbound) (*Result, error) {
	ev, isNew, err := d.guard.Register(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to register webhook event: %w", err)
	}

	if !isNew {
		decision := decide(ev)
		if !decision.Process {
			d.logger.Info("webhook delivery short-circuited",
				Field{Key: "event_id", Value: ev.ID},
				Field{Key: "provider", Value: ev.Provider},
				Field{Key: "external_event_id", Value: ev.ExternalEventID},
				Field{Key: "reason", Value: string(decision.Reason)},
			)
			d.metrics.RecordEvent(ev.Provider, ev.EventType, "short_circuit")
			return &Result{EventID: ev.ID, ShortCircuited: true, Reason: decision.Reason}, nil
		}
	}

	return d.process(ctx, ev)
}

// process claims the event and runs its handler, always reporting the
// outcome back to the event store.
func (d *Dispatcher) process(ctx context.Context, ev *Event) (*Result, error) {
	claimed, err := d.storage.MarkProcessing(ctx, ev.ID, d.now())
	if err != nil {
		if err == ErrStatusConflict {
			// Another worker got there first.
			d.metrics.RecordEvent(ev.Provider, ev.EventType, "short_circuit")
			return &Result{EventID: ev.ID, ShortCircuited: true, Reason: ReasonCurrentlyProcessing}, nil
		}
		return nil, err
	}

	handler, ok := d.lookup(claimed.Provider, claimed.EventType)
	if !ok {
		cause := fmt.Errorf("%w: %s/%s", ErrNoHandler, claimed.Provider, claimed.EventType)
		if ferr := d.scheduler.RecordFailure(ctx, claimed, cause, ""); ferr != nil {
			return nil, ferr
		}
		d.metrics.RecordEvent(claimed.Provider, claimed.EventType, "failed")
		return &Result{EventID: claimed.ID}, cause
	}

	start := d.now()
	stack, herr := d.invoke(ctx, handler, claimed)
	took := d.now().Sub(start)

	if herr != nil {
		if ferr := d.scheduler.RecordFailure(ctx, claimed, herr, stack); ferr != nil {
			return nil, ferr
		}
		d.metrics.RecordEvent(claimed.Provider, claimed.EventType, "failed")
		return &Result{EventID: claimed.ID}, herr
	}

	if err := d.storage.MarkCompleted(ctx, claimed.ID, d.now(), took); err != nil {
		return nil, err
	}

	d.metrics.RecordEvent(claimed.Provider, claimed.EventType, "completed")
	d.metrics.RecordProcessingDuration(claimed.Provider, claimed.EventType, took)
	d.logger.Info("webhook event completed",
		Field{Key: "event_id", Value: claimed.ID},
		Field{Key: "provider", Value: claimed.Provider},
		Field{Key: "event_type", Value: claimed.EventType},
		Field{Key: "took_ms", Value: took.Milliseconds()},
	)
	return &Result{EventID: claimed.ID, Processed: true}, nil
}

// invoke runs the handler with panic containment.
func (d *Dispatcher) invoke(ctx context.Context, handler HandlerFunc, ev *Event) (stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			stack = string(debug.Stack())
		}
	}()
	return "", handler(ctx, ev)
}

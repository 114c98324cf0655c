package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"gatehouse.org/internal/obs"
)

const (
	defaultQueueSize = 256
	defaultTimeout   = 2 * time.Second
)

// Dispatcher queues events and hands them to a Sink on a background worker.
// Emit never blocks: when the queue is full the event is dropped, counted
// and logged.
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	timeout time.Duration
	logger  *slog.Logger
	dropped atomic.Int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize bounds the number of pending events.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}

// WithDeliveryTimeout bounds each Sink.Deliver call.
func WithDeliveryTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger sets the logger used for drop and failure reports.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a dispatcher for sink. Call Run to start delivery.
func NewDispatcher(sink Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan Event, defaultQueueSize),
		timeout: defaultTimeout,
		logger:  obs.Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Emit enqueues evt or drops it when the queue is full.
func (d *Dispatcher) Emit(evt Event) {
	select {
	case d.queue <- evt:
	default:
		d.dropped.Add(1)
		obs.ObserveEventDropped()
		d.logger.Warn("notification queue full, dropping event",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"record_id", evt.RecordID,
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Run delivers queued events until ctx is cancelled, then drains whatever
// is still queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case evt := <-d.queue:
			d.deliver(evt)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case evt := <-d.queue:
			d.deliver(evt)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sink.Deliver(ctx, evt); err != nil {
		obs.ObserveEventDelivered(false)
		d.logger.Error("notification delivery failed",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"record_id", evt.RecordID,
			"error", err,
		)
		return
	}
	obs.ObserveEventDelivered(true)
}

// Package dispatch decouples lifecycle transitions from the external
// operations they trigger. Events are fanned out to a fixed worker pool,
// partitioned by permission id so events for one grant are always handled
// in order while different grants proceed concurrently.
package dispatch

import (
	"context"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/arklim/db-access-manager/internal/core/domain"
	"github.com/arklim/db-access-manager/internal/core/port"
	"github.com/arklim/db-access-manager/internal/infra/telemetry"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
)

// Handler consumes a single lifecycle event. Errors are terminal from the
// dispatcher's point of view; the handler owns its own retry policy.
type Handler interface {
	HandleEvent(ctx context.Context, event domain.PermissionDomainEvent) error
}

// Dispatcher is an in-process event bus implementing port.EventPublisher.
type Dispatcher struct {
	handler Handler
	logger  *zap.Logger
	metrics *telemetry.Metrics
	queues  []chan domain.PermissionDomainEvent
	wg      sync.WaitGroup

	// mu orders publishers against Close: sends happen under the read lock,
	// and Close flips closed under the write lock before closing the queues,
	// so no send can race a close.
	mu     sync.RWMutex
	closed bool
}

// Option configures the dispatcher.
type Option func(*options)

type options struct {
	workers   int
	queueSize int
	metrics   *telemetry.Metrics
}

// WithWorkers sets the number of partitioned workers.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithQueueSize sets the per-worker queue depth.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithMetrics enables published-event counters.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New starts the worker pool. Close must be called to drain it.
func New(handler Handler, logger *zap.Logger, opts ...Option) *Dispatcher {
	cfg := options{workers: defaultWorkers, queueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		handler: handler,
		logger:  logger,
		metrics: cfg.metrics,
		queues:  make([]chan domain.PermissionDomainEvent, cfg.workers),
	}
	for i := range d.queues {
		d.queues[i] = make(chan domain.PermissionDomainEvent, cfg.queueSize)
		d.wg.Add(1)
		go d.run(i)
	}
	return d
}

func (d *Dispatcher) run(worker int) {
	defer d.wg.Done()
	for event := range d.queues[worker] {
		// Handlers get a fresh background context: the publisher's request
		// context may be gone by the time the event is picked up.
		if err := d.handler.HandleEvent(context.Background(), event); err != nil {
			d.logger.Error("handle permission event",
				zap.String("event_type", string(event.EventType())),
				zap.String("permission_id", event.Subject().ID),
				zap.Error(err),
			)
		}
	}
}

// publish enqueues the event on the partition owning its permission id.
func (d *Dispatcher) publish(ctx context.Context, event domain.PermissionDomainEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return domain.NewInternalError("event dispatcher is closed", nil)
	}
	queue := d.queues[d.partition(event.Subject().ID)]

	select {
	case queue <- event:
		if d.metrics != nil {
			d.metrics.EventsPublished.WithLabelValues(string(event.EventType())).Inc()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) partition(permissionID string) int {
	h := fnv.New32a()
	h.Write([]byte(permissionID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) PublishPermissionCreated(ctx context.Context, event domain.PermissionCreatedEvent) error {
	return d.publish(ctx, event)
}

func (d *Dispatcher) PublishPermissionApproved(ctx context.Context, event domain.PermissionApprovedEvent) error {
	return d.publish(ctx, event)
}

func (d *Dispatcher) PublishPermissionActivated(ctx context.Context, event domain.PermissionActivatedEvent) error {
	return d.publish(ctx, event)
}

func (d *Dispatcher) PublishPermissionRevoked(ctx context.Context, event domain.PermissionRevokedEvent) error {
	return d.publish(ctx, event)
}

func (d *Dispatcher) PublishPermissionExpired(ctx context.Context, event domain.PermissionExpiredEvent) error {
	return d.publish(ctx, event)
}

func (d *Dispatcher) PublishPermissionExtended(ctx context.Context, event domain.PermissionExtendedEvent) error {
	return d.publish(ctx, event)
}

// Close stops accepting events and blocks until queued events are handled.
// Publishers blocked on a full queue finish their send before the queues
// close.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	for _, queue := range d.queues {
		close(queue)
	}
	d.wg.Wait()
}

var _ port.EventPublisher = (*Dispatcher)(nil)

// Package notify delivers triggered-alert notifications off the ingestion
// path. Notify never blocks and never reports delivery failures back to the
// caller; failures are logged and counted.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/pricewatch/internal/logger"
)

// deliveryTimeout bounds a single Deliver call.
const deliveryTimeout = 30 * time.Second

// Notification is one alert firing.
type Notification struct {
	AlertID   string
	Recipient string
	Symbol    string
	Price     decimal.Decimal
	QueuedAt  time.Time
}

// Sender performs the actual delivery.
type Sender interface {
	Deliver(ctx context.Context, n Notification) error
}

// MultiSender delivers to every sender and joins their errors.
type MultiSender []Sender

func (m MultiSender) Deliver(ctx context.Context, n Notification) error {
	var errList []error
	for _, s := range m {
		if err := s.Deliver(ctx, n); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// LogSender records the alarm in the service log.
type LogSender struct{}

func (LogSender) Deliver(_ context.Context, n Notification) error {
	logger.WithFields(logger.Fields{
		"alert_id":  n.AlertID,
		"recipient": n.Recipient,
		"symbol":    n.Symbol,
		"price":     n.Price.String(),
	}).Info("alarm sent")
	return nil
}

// Dispatcher owns a bounded queue drained by a fixed set of workers.
type Dispatcher struct {
	sender  Sender
	queue   chan Notification
	workers int

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup

	results *prometheus.CounterVec
}

// NewDispatcher creates a dispatcher; reg may be nil.
func NewDispatcher(sender Sender, queueSize, workers int, reg prometheus.Registerer) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		sender:  sender,
		queue:   make(chan Notification, queueSize),
		workers: workers,
		results: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricewatch",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Alert notifications by outcome (sent, failed, dropped).",
		}, []string{"result"}),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Notify enqueues n. When the queue is full or the dispatcher is closed the
// notification is dropped and logged.
func (d *Dispatcher) Notify(n Notification) {
	if n.QueuedAt.IsZero() {
		n.QueuedAt = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(n, "dispatcher closed")
		return
	}
	select {
	case d.queue <- n:
	default:
		d.drop(n, "queue full")
	}
}

func (d *Dispatcher) drop(n Notification, reason string) {
	d.results.WithLabelValues("dropped").Inc()
	logger.WithFields(logger.Fields{
		"alert_id": n.AlertID,
		"symbol":   n.Symbol,
		"reason":   reason,
	}).Warn("notification dropped")
}

// Close stops accepting notifications and waits for queued ones to be
// delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(ctx, n)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	// Delivery outlives cancellation of the parent so Close can drain.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	if err := d.sender.Deliver(dctx, n); err != nil {
		d.results.WithLabelValues("failed").Inc()
		logger.WithFields(logger.Fields{
			"alert_id":  n.AlertID,
			"recipient": n.Recipient,
			"symbol":    n.Symbol,
		}).Errorf("notification delivery failed: %v", err)
		return
	}
	d.results.WithLabelValues("sent").Inc()
}

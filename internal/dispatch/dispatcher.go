// Package dispatch fans heart-rate updates out to independently failing consumers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/groutine"
	"github.com/srg/hrmon/internal/hr"
	"github.com/srg/hrmon/internal/ringchan"
)

// DefaultQueueSize bounds how many undelivered updates a slow consumer may accumulate.
// Beyond that the oldest pending update is dropped.
const DefaultQueueSize = 64

// ErrClosed is returned when registering on a closed dispatcher.
var ErrClosed = errors.New("dispatcher closed")

// Consumer receives updates on its own worker goroutine, in publish order.
// An error or panic from Deliver is logged and never reaches other consumers.
type Consumer interface {
	Name() string
	Deliver(ctx context.Context, u hr.Update) error
}

// Stats are the per-consumer delivery counters.
type Stats struct {
	Name      string `json:"name"`
	Delivered int64  `json:"delivered"`
	Failed    int64  `json:"failed"`
	Dropped   int64  `json:"dropped"`
	Pending   int    `json:"pending"`
}

type worker struct {
	id        uint64
	consumer  Consumer
	queue     *ringchan.RingChannel[hr.Update]
	cancel    context.CancelFunc
	stopped   atomic.Bool
	done      chan struct{}
	delivered atomic.Int64
	failed    atomic.Int64
}

// Dispatcher owns one bounded queue and one worker per registered consumer.
// Publish only enqueues, so a consumer blocked on network I/O never delays the others.
type Dispatcher struct {
	mu        sync.RWMutex
	workers   map[uint64]*worker
	nextID    atomic.Uint64
	seq       atomic.Uint64
	closed    atomic.Bool
	queueSize int
	logger    *logrus.Logger
}

// New creates a dispatcher. queueSize <= 0 selects DefaultQueueSize.
func New(queueSize int, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		workers:   make(map[uint64]*worker),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Registration is the handle returned by Register.
type Registration struct {
	d    *Dispatcher
	w    *worker
	once sync.Once
}

// Close unregisters the consumer and waits for its worker to exit.
// No Deliver call starts after Close returns.
func (r *Registration) Close() {
	r.once.Do(func() {
		r.d.unregister(r.w)
	})
}

// Register adds a consumer and starts its worker.
func (d *Dispatcher) Register(c Consumer) (*Registration, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		id:       d.nextID.Add(1),
		consumer: c,
		queue:    ringchan.New[hr.Update](d.queueSize),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	d.workers[w.id] = w
	d.mu.Unlock()

	groutine.Go(ctx, fmt.Sprintf("dispatch-%s", c.Name()), func(ctx context.Context) {
		d.runWorker(ctx, w)
	})

	d.logger.WithField("consumer", c.Name()).Debug("Consumer registered")
	return &Registration{d: d, w: w}, nil
}

func (d *Dispatcher) unregister(w *worker) {
	d.mu.Lock()
	delete(d.workers, w.id)
	d.mu.Unlock()

	w.stopped.Store(true)
	w.queue.Close()
	w.cancel()
	<-w.done

	d.logger.WithField("consumer", w.consumer.Name()).Debug("Consumer unregistered")
}

// Publish stamps u with the next sequence number and enqueues it for every consumer.
// It never blocks.
func (d *Dispatcher) Publish(u hr.Update) hr.Update {
	u.Seq = d.seq.Add(1)
	if d.closed.Load() {
		return u
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, w := range d.workers {
		if w.queue.Send(u) {
			d.logger.WithFields(logrus.Fields{
				"consumer": w.consumer.Name(),
				"seq":      u.Seq,
			}).Debug("Consumer queue full, dropped oldest update")
		}
	}
	return u
}

// Run publishes everything received on in until in is closed or ctx ends.
func (d *Dispatcher) Run(ctx context.Context, in <-chan hr.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-in:
			if !ok {
				return nil
			}
			d.Publish(u)
		}
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, w *worker) {
	defer close(w.done)

	for {
		u, ok := w.queue.Receive()
		if !ok || w.stopped.Load() {
			return
		}
		d.deliver(ctx, w, u)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, w *worker, u hr.Update) {
	defer func() {
		if r := recover(); r != nil {
			w.failed.Add(1)
			d.logger.WithFields(logrus.Fields{
				"consumer": w.consumer.Name(),
				"event":    u.Event,
				"panic":    fmt.Sprint(r),
				"stack":    string(debug.Stack()),
			}).Error("Consumer panicked")
		}
	}()

	if err := w.consumer.Deliver(ctx, u); err != nil {
		w.failed.Add(1)
		d.logger.WithFields(logrus.Fields{
			"consumer": w.consumer.Name(),
			"event":    u.Event,
			"bpm":      u.Snapshot.BPM,
			"error":    err,
		}).Warn("Consumer delivery failed")
		return
	}
	w.delivered.Add(1)
}

// Stats returns counters for every registered consumer, sorted by name.
func (d *Dispatcher) Stats() []Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Stats, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, Stats{
			Name:      w.consumer.Name(),
			Delivered: w.delivered.Load(),
			Failed:    w.failed.Load(),
			Dropped:   w.queue.GetMetrics().Overwritten,
			Pending:   w.queue.Len(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close unregisters every consumer and rejects further registrations.
func (d *Dispatcher) Close() {
	if d.closed.Swap(true) {
		return
	}

	d.mu.RLock()
	workers := make([]*worker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.mu.RUnlock()

	for _, w := range workers {
		d.unregister(w)
	}
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc struct {
	ConsumerName string
	Fn           func(ctx context.Context, u hr.Update) error
}

func (f ConsumerFunc) Name() string { return f.ConsumerName }

func (f ConsumerFunc) Deliver(ctx context.Context, u hr.Update) error {
	return f.Fn(ctx, u)
}

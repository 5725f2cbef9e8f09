// Package worker provides a bounded generic worker pool. The scheduler
// uses it to keep CPU-bound pattern analysis off the connection-handling
// goroutines: submissions are non-blocking and fail fast when the queue is
// full rather than stalling the caller.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Kojaewoong0504/VibeMusic-sub000/metric"
)

// Sentinel errors for worker pool operations
var (
	// ErrNotStarted indicates the pool hasn't been started yet
	ErrNotStarted = errors.New("worker pool not started")

	// ErrStopped indicates the pool has been stopped
	ErrStopped = errors.New("worker pool stopped")

	// ErrAlreadyStarted indicates Start() was called on a running pool
	ErrAlreadyStarted = errors.New("worker pool already started")

	// ErrQueueFull indicates the work queue is at capacity
	ErrQueueFull = errors.New("worker pool queue full")

	// ErrNilProcessor indicates a nil processor function was provided
	ErrNilProcessor = errors.New("processor function cannot be nil")

	// ErrStopTimeout indicates the pool didn't stop within the timeout
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)

// Pool processes work items of type T on a fixed set of goroutines fed by
// a bounded queue.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	workChan chan T
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metrics *poolMetrics
}

// poolMetrics holds the pool's Prometheus instruments.
type poolMetrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetrics registers the pool's instruments with the registry under the
// given prefix.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		m := &poolMetrics{
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: metric.Namespace,
				Subsystem: prefix,
				Name:      "queue_depth",
				Help:      "Current worker pool queue depth",
			}),
			submitted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace,
				Subsystem: prefix,
				Name:      "submitted_total",
				Help:      "Total work items submitted",
			}),
			processed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace,
				Subsystem: prefix,
				Name:      "processed_total",
				Help:      "Total work items processed",
			}),
			failed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace,
				Subsystem: prefix,
				Name:      "failed_total",
				Help:      "Total work items that failed processing",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: metric.Namespace,
				Subsystem: prefix,
				Name:      "dropped_total",
				Help:      "Total work items dropped due to a full queue",
			}),
			processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: metric.Namespace,
				Subsystem: prefix,
				Name:      "processing_duration_seconds",
				Help:      "Time spent processing work items",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			}, []string{"status"}),
		}

		if registry != nil {
			_ = registry.RegisterGauge(prefix, "queue_depth", m.queueDepth)
			_ = registry.RegisterCounter(prefix, "submitted_total", m.submitted)
			_ = registry.RegisterCounter(prefix, "processed_total", m.processed)
			_ = registry.RegisterCounter(prefix, "failed_total", m.failed)
			_ = registry.RegisterCounter(prefix, "dropped_total", m.dropped)
			_ = registry.RegisterHistogramVec(prefix, "processing_duration_seconds", m.processingTime)
		}

		p.metrics = m
	}
}

// NewPool creates a pool with the given worker count and queue size.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}

	for _, opt := range opts {
		opt(pool)
	}

	return pool
}

// Submit enqueues work without blocking. It returns ErrQueueFull when the
// queue is at capacity; callers decide whether that is a retry or a drop.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrNotStarted
	}
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	return nil
}

// Stop closes the queue and waits for in-flight work to drain, up to the
// timeout.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started || p.stopped {
		return nil
	}

	close(p.workChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.stopped = true
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats represents worker pool statistics.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// worker drains the queue until the context ends or the channel closes.
func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}

			start := time.Now()
			err := p.processor(ctx, work)
			duration := time.Since(start)

			p.processed.Add(1)
			if err != nil {
				p.failed.Add(1)
			}

			if p.metrics != nil {
				p.metrics.processed.Inc()
				p.metrics.queueDepth.Set(float64(len(p.workChan)))
				status := "success"
				if err != nil {
					p.metrics.failed.Inc()
					status = "error"
				}
				p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
			}
		}
	}
}

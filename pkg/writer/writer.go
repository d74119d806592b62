// Package writer puts a bounded write-behind queue in front of a slow
// store.Layer. Reads and deletes still reach the layer, but writes are
// applied by background workers.
package writer

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"bankflow/pkg/logging"
	"bankflow/pkg/metrics"
	"bankflow/pkg/store"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when a write waited MaxWaitTime and was dropped.
	ErrQueueFull = errors.New("writer: queue full, write dropped")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("writer: closed")

	// ErrFlushTimeout is returned when Flush gives up on a non-empty queue.
	ErrFlushTimeout = errors.New("writer: flush timeout exceeded")
)

// Config configures a write-behind Layer.
type Config struct {
	// QueueSize bounds pending operations per worker (default: 256).
	QueueSize int

	// Workers is the number of concurrent workers (default: 2). A key is
	// always handled by the same worker, so operations on one key apply
	// in the order they were queued.
	Workers int

	// MaxWaitTime is how long a write waits for queue space before it is
	// dropped (default: 10ms).
	MaxWaitTime time.Duration

	// WriteTimeout bounds each operation against the layer (default: 5s).
	WriteTimeout time.Duration

	Metrics metrics.Collector
	Logger  *logging.Logger
}

type op struct {
	key    string
	value  []byte
	ttl    time.Duration
	delete bool
	done   chan struct{}
}

// Layer is a store.Layer that queues Set and Delete for a wrapped layer.
type Layer struct {
	layer   store.Layer
	queues  []chan op
	config  Config
	metrics metrics.Collector
	logger  *logging.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	pending atomic.Int64

	queued  atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// Stats describes the queue.
type Stats struct {
	Pending int64
	Queued  int64
	Dropped int64
	Failed  int64
}

// New wraps layer and starts the workers. Close stops them and closes
// layer.
func New(layer store.Layer, config Config) *Layer {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.L()
	}

	l := &Layer{
		layer:   layer,
		queues:  make([]chan op, config.Workers),
		config:  config,
		metrics: metrics.OrNoOp(config.Metrics),
		logger:  logger.Named("writer").With(zap.String("tier", layer.Name())),
	}
	for i := range l.queues {
		l.queues[i] = make(chan op, config.QueueSize)
		l.wg.Add(1)
		go l.worker(l.queues[i])
	}
	return l
}

func (l *Layer) queueFor(key string) chan op {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.queues[h.Sum32()%uint32(len(l.queues))]
}

// enqueue holds the read lock until the op is queued so Close cannot
// close the channel underneath it.
func (l *Layer) enqueue(ctx context.Context, o op) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}

	timer := time.NewTimer(l.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case l.queueFor(o.key) <- o:
		l.pending.Add(1)
		l.queued.Add(1)
		return nil
	case <-timer.C:
		l.dropped.Add(1)
		l.metrics.RecordStoreSet(l.layer.Name(), false, 0)
		l.logger.Warn("write dropped", zap.String("key", o.key), zap.Bool("delete", o.delete))
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Layer) worker(queue chan op) {
	defer l.wg.Done()
	for o := range queue {
		l.apply(o)
	}
}

func (l *Layer) apply(o op) {
	defer l.pending.Add(-1)
	if o.done != nil {
		close(o.done)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	var err error
	if o.delete {
		err = l.layer.Delete(ctx, o.key)
	} else {
		err = l.layer.Set(ctx, o.key, o.value, o.ttl)
		l.metrics.RecordStoreSet(l.layer.Name(), err == nil, time.Since(start))
	}
	if err != nil {
		l.failed.Add(1)
		l.logger.Warn("write-behind failed",
			zap.String("key", o.key),
			zap.Bool("delete", o.delete),
			zap.Error(err),
		)
	}
}

// Get reads the wrapped layer. A value still queued is not visible yet.
func (l *Layer) Get(ctx context.Context, key string) ([]byte, error) {
	return l.layer.Get(ctx, key)
}

// Set queues the write and returns once it is queued.
func (l *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	return l.enqueue(ctx, op{key: key, value: append([]byte(nil), value...), ttl: ttl})
}

// Delete queues the removal behind any pending write of key.
func (l *Layer) Delete(ctx context.Context, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	return l.enqueue(ctx, op{key: key, delete: true})
}

// Name returns the wrapped layer's name.
func (l *Layer) Name() string {
	return l.layer.Name()
}

// Flush waits until every operation queued before the call is applied.
func (l *Layer) Flush(timeout time.Duration) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	markers := make([]chan struct{}, len(l.queues))
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for i, q := range l.queues {
		markers[i] = make(chan struct{})
		select {
		case q <- op{done: markers[i]}:
			l.pending.Add(1)
		case <-deadline.C:
			l.mu.RUnlock()
			return ErrFlushTimeout
		}
	}
	l.mu.RUnlock()

	for _, m := range markers {
		select {
		case <-m:
		case <-deadline.C:
			return ErrFlushTimeout
		}
	}
	return nil
}

// Close drains the queues, stops the workers and closes the wrapped
// layer.
func (l *Layer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for _, q := range l.queues {
		close(q)
	}
	l.mu.Unlock()

	l.wg.Wait()
	return l.layer.Close()
}

// Stats returns the queue counters.
func (l *Layer) Stats() Stats {
	return Stats{
		Pending: l.pending.Load(),
		Queued:  l.queued.Load(),
		Dropped: l.dropped.Load(),
		Failed:  l.failed.Load(),
	}
}

// Package memory is an in-process store.Layer with TTL expiry and a
// least-recently-used bound.
package memory

import (
	"context"
	"sync"
	"time"

	"bankflow/pkg/store"
)

// Config configures a memory layer.
type Config struct {
	// Name identifies the tier. Default "memory".
	Name string

	// MaxEntries bounds the number of keys (0 = unlimited). The least
	// recently used key is evicted to make room.
	MaxEntries int

	// DefaultTTL applies when Set is called with a zero ttl.
	DefaultTTL time.Duration

	// CleanupInterval is how often expired keys are swept.
	CleanupInterval time.Duration
}

// Layer is a thread-safe in-memory store.Layer.
type Layer struct {
	mu     sync.RWMutex
	data   map[string]*entry
	config Config

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

type entry struct {
	value      []byte
	expiresAt  time.Time
	accessedAt time.Time
}

// New creates a memory layer and starts its cleanup goroutine. Close
// stops it.
func New(config Config) *Layer {
	if config.Name == "" {
		config.Name = "memory"
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 30 * time.Minute
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = time.Minute
	}

	l := &Layer{
		data:   make(map[string]*entry),
		config: config,
		ticker: time.NewTicker(config.CleanupInterval),
		stop:   make(chan struct{}),
	}

	l.wg.Add(1)
	go l.cleanup()

	return l
}

// Get returns a copy of the stored bytes.
func (l *Layer) Get(ctx context.Context, key string) ([]byte, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, store.ErrClosed
	}
	e, ok := l.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	now := time.Now()
	if now.After(e.expiresAt) {
		delete(l.data, key)
		return nil, store.ErrNotFound
	}
	e.accessedAt = now

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores a copy of value.
func (l *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = l.config.DefaultTTL
	}

	buf := make([]byte, len(value))
	copy(buf, value)
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return store.ErrClosed
	}
	if _, exists := l.data[key]; !exists && l.config.MaxEntries > 0 && len(l.data) >= l.config.MaxEntries {
		l.evictLocked()
	}
	l.data[key] = &entry{
		value:      buf,
		expiresAt:  now.Add(ttl),
		accessedAt: now,
	}
	return nil
}

// evictLocked drops the least recently used entry.
func (l *Layer) evictLocked() {
	var lruKey string
	var lruTime time.Time
	for k, e := range l.data {
		if lruKey == "" || e.accessedAt.Before(lruTime) {
			lruKey = k
			lruTime = e.accessedAt
		}
	}
	if lruKey != "" {
		delete(l.data, lruKey)
	}
}

// Delete removes key.
func (l *Layer) Delete(ctx context.Context, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return store.ErrClosed
	}
	delete(l.data, key)
	return nil
}

// Name returns the tier name.
func (l *Layer) Name() string {
	return l.config.Name
}

// Close stops the cleanup goroutine and drops all data. It is safe to
// call more than once.
func (l *Layer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.data = nil
	l.mu.Unlock()

	l.ticker.Stop()
	close(l.stop)
	l.wg.Wait()
	return nil
}

func (l *Layer) cleanup() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ticker.C:
			l.removeExpired()
		case <-l.stop:
			return
		}
	}
}

func (l *Layer) removeExpired() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, e := range l.data {
		if now.After(e.expiresAt) {
			delete(l.data, key)
		}
	}
}

// Stats describes the layer's occupancy.
type Stats struct {
	Size       int
	MaxEntries int
}

// Stats returns current occupancy.
func (l *Layer) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Stats{Size: len(l.data), MaxEntries: l.config.MaxEntries}
}

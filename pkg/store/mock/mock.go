// Package mock provides a store.Layer with injectable behavior for tests.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"bankflow/pkg/store"
)

// Layer is a store.Layer whose methods can be overridden per test. With
// no hooks set it behaves like a simple map without expiry.
type Layer struct {
	GetFunc    func(ctx context.Context, key string) ([]byte, error)
	SetFunc    func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteFunc func(ctx context.Context, key string) error
	CloseFunc  func() error

	name string

	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration

	getCalls    int64
	setCalls    int64
	deleteCalls int64
	closeCalls  int64
}

// New creates a mock tier named name.
func New(name string) *Layer {
	return &Layer{
		name: name,
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

// Get implements store.Layer.
func (m *Layer) Get(ctx context.Context, key string) ([]byte, error) {
	atomic.AddInt64(&m.getCalls, 1)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set implements store.Layer.
func (m *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	atomic.AddInt64(&m.setCalls, 1)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	m.ttls[key] = ttl
	return nil
}

// Delete implements store.Layer.
func (m *Layer) Delete(ctx context.Context, key string) error {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.ttls, key)
	return nil
}

// Name implements store.Layer.
func (m *Layer) Name() string {
	return m.name
}

// Close implements store.Layer.
func (m *Layer) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Has reports whether key is stored without counting a Get.
func (m *Layer) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

// TTLOf returns the ttl of the last Set of key.
func (m *Layer) TTLOf(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ttls[key]
}

// GetCalls returns the number of Get calls.
func (m *Layer) GetCalls() int { return int(atomic.LoadInt64(&m.getCalls)) }

// SetCalls returns the number of Set calls.
func (m *Layer) SetCalls() int { return int(atomic.LoadInt64(&m.setCalls)) }

// DeleteCalls returns the number of Delete calls.
func (m *Layer) DeleteCalls() int { return int(atomic.LoadInt64(&m.deleteCalls)) }

// CloseCalls returns the number of Close calls.
func (m *Layer) CloseCalls() int { return int(atomic.LoadInt64(&m.closeCalls)) }

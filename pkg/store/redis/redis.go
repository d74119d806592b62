// Package redis is a store.Layer backed by Redis through rueidis, so
// several portal instances can share session state.
package redis

import (
	"context"
	"fmt"
	"time"

	"bankflow/pkg/store"

	"github.com/redis/rueidis"
)

// Config configures the Redis layer.
type Config struct {
	Name string
	// Addr is the server address for single node mode.
	Addr string
	// ClusterAddrs enables cluster mode when set.
	ClusterAddrs []string
	Username     string
	Password     string
	// DB is the database number. Cluster mode only supports 0.
	DB           int
	KeyPrefix    string
	DefaultTTL   time.Duration
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a local single node configuration.
func DefaultConfig() Config {
	return Config{
		Name:         "redis",
		Addr:         "localhost:6379",
		KeyPrefix:    "",
		DefaultTTL:   30 * time.Minute,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Layer is a Redis backed store.Layer.
type Layer struct {
	client rueidis.Client
	config Config
}

// New connects and pings the server.
func New(config Config) (*Layer, error) {
	if config.Name == "" {
		config.Name = "redis"
	}
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 30 * time.Minute
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}

	var initAddress []string
	switch {
	case len(config.ClusterAddrs) > 0:
		initAddress = config.ClusterAddrs
	case config.Addr != "":
		initAddress = []string{config.Addr}
	default:
		return nil, fmt.Errorf("redis: no addresses configured (set Addr or ClusterAddrs)")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
		MaxFlushDelay:    100 * time.Microsecond,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	l := &Layer{client: client, config: config}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := l.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return l, nil
}

// Get returns the stored bytes.
func (l *Layer) Get(ctx context.Context, key string) ([]byte, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}

	resp := l.client.Do(ctx, l.client.B().Get().Key(l.config.KeyPrefix+key).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("redis get: failed to read response: %w", err)
	}
	return data, nil
}

// Set stores value with an expiry.
func (l *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = l.config.DefaultTTL
	}

	cmd := l.client.B().Set().Key(l.config.KeyPrefix + key).Value(rueidis.BinaryString(value)).Ex(ttl).Build()
	if err := l.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key.
func (l *Layer) Delete(ctx context.Context, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}

	if err := l.client.Do(ctx, l.client.B().Del().Key(l.config.KeyPrefix+key).Build()).Error(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// DeleteMany removes several keys in one round trip.
func (l *Layer) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = l.config.KeyPrefix + k
	}
	if err := l.client.Do(ctx, l.client.B().Del().Key(full...).Build()).Error(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Name returns the tier name.
func (l *Layer) Name() string {
	return l.config.Name
}

// Close closes the client.
func (l *Layer) Close() error {
	l.client.Close()
	return nil
}

// Ping checks connectivity.
func (l *Layer) Ping(ctx context.Context) error {
	if err := l.client.Do(ctx, l.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// TTL returns the remaining lifetime of key.
func (l *Layer) TTL(ctx context.Context, key string) (time.Duration, error) {
	resp := l.client.Do(ctx, l.client.B().Ttl().Key(l.config.KeyPrefix+key).Build())
	if err := resp.Error(); err != nil {
		return 0, fmt.Errorf("redis ttl: %w", err)
	}
	seconds, err := resp.AsInt64()
	if err != nil {
		return 0, fmt.Errorf("redis ttl: failed to read response: %w", err)
	}
	switch seconds {
	case -2:
		return 0, store.ErrNotFound
	case -1:
		return -1, nil
	}
	return time.Duration(seconds) * time.Second, nil
}

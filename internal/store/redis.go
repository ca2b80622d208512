package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one license key under a Redis key, for fleets of
// consumers sharing one installation.
type RedisStore struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

// NewRedisStore returns a store for key. The caller owns client.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	return &RedisStore{client: client, key: key, timeout: 5 * time.Second}
}

func (s *RedisStore) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// Open reads the stored value
func (s *RedisStore) Open() (io.ReadCloser, error) {
	ctx, cancel := s.context()
	defer cancel()
	content, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// Create returns a writer that stores its content on Close
func (s *RedisStore) Create() (io.WriteCloser, error) {
	return &bufferedWriter{commit: func(b []byte) error {
		ctx, cancel := s.context()
		defer cancel()
		return s.client.Set(ctx, s.key, append([]byte(nil), b...), 0).Err()
	}}, nil
}

// Exists reports whether the key is present
func (s *RedisStore) Exists() (bool, error) {
	ctx, cancel := s.context()
	defer cancel()
	n, err := s.client.Exists(ctx, s.key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes the key
func (s *RedisStore) Delete() error {
	ctx, cancel := s.context()
	defer cancel()
	n, err := s.client.Del(ctx, s.key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

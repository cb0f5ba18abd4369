package store

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go/jetstream"
)

// KV stores conversations in a JetStream key-value bucket.
type KV struct {
	kv jetstream.KeyValue
}

// NewKV wraps an open bucket.
func NewKV(kv jetstream.KeyValue) *KV {
	return &KV{kv: kv}
}

func (s *KV) Load(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

func (s *KV) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.kv.Put(ctx, key, data)
	return err
}

func (s *KV) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Close is a no-op; the connection belongs to the NATS client.
func (s *KV) Close() error { return nil }

func (s *KV) Name() string { return "nats" }

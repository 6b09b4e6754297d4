package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/vmihailenco/msgpack/v5"
)

// Memory is an in-process cache. Expired entries are evicted in the
// background until Close.
type Memory struct {
	items *ttlcache.Cache[string, []byte]
}

func NewMemory() *Memory {
	items := ttlcache.New[string, []byte](
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)

	go items.Start()

	return &Memory{items: items}
}

func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	item := m.items.Get(key)
	if item == nil {
		return false, nil
	}

	if err := msgpack.Unmarshal(item.Value(), dst); err != nil {
		return false, err
	}

	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, v any, ttl time.Duration) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}

	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}

	m.items.Set(key, data, ttl)

	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.items.Delete(key)

	return nil
}

// Len counts the entries not yet evicted.
func (m *Memory) Len() int {
	return m.items.Len()
}

func (m *Memory) Close() error {
	m.items.Stop()

	return nil
}

package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const (
	memoryShards       = 64
	memorySweepEvery   = 1024
	maxEntriesPerShard = 5000
)

type memoryBucket struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

type memoryShard struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
	writes  int
}

// MemoryStore is a process-local Store. Keys are spread over independently
// locked shards.
type MemoryStore struct {
	shards [memoryShards]*memoryShard
}

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	for i := range m.shards {
		m.shards[i] = &memoryShard{buckets: make(map[string]*memoryBucket)}
	}
	return m
}

func (m *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	shard := m.shard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	bucket, ok := shard.buckets[key]
	if !ok || !now.Before(bucket.windowStart.Add(window)) {
		bucket = &memoryBucket{windowStart: now, window: window}
		shard.buckets[key] = bucket
	}
	bucket.count++

	shard.writes++
	if shard.writes%memorySweepEvery == 0 || len(shard.buckets) > maxEntriesPerShard {
		shard.sweep(now)
	}

	return Counter{Count: bucket.count, WindowStart: bucket.windowStart}, nil
}

// Len reports the number of live buckets.
func (m *MemoryStore) Len() int {
	total := 0
	for _, shard := range m.shards {
		shard.mu.Lock()
		total += len(shard.buckets)
		shard.mu.Unlock()
	}
	return total
}

func (m *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%memoryShards]
}

func (s *memoryShard) sweep(now time.Time) {
	for key, bucket := range s.buckets {
		if !now.Before(bucket.windowStart.Add(bucket.window)) {
			delete(s.buckets, key)
		}
	}
}

// Package syncutil provides keyed locking for contended entities.
//
// The unlock, deal-outcome and refund services serialize their
// check-then-write sequences on shared keys (a service request, an unlock
// record). One ShardedMutex instance is shared across those services so the
// same key always maps to the same lock regardless of which service holds it.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// ShardedMutex provides a fixed-size pool of mutexes keyed by string.
// Unlike sync.Map-based per-key locks, this uses bounded memory regardless
// of how many keys are seen, at the cost of occasional false sharing between
// keys that hash to the same shard.
type ShardedMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%256]
}

// RequestKey is the lock key serializing capacity and duplicate checks
// for a service request.
func RequestKey(requestID string) string {
	return "req:" + requestID
}

// UnlockKey is the lock key serializing deal-close and refund settlement
// for an unlock record.
func UnlockKey(unlockID string) string {
	return "ulk:" + unlockID
}

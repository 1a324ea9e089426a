package syncutil

import (
	"sync"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	var m ShardedMutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock(RequestKey("req_1"))
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	var m ShardedMutex

	unlock := m.Lock(RequestKey("req_1"))
	defer unlock()

	done := make(chan struct{})
	go func() {
		// Distinct prefixed keys normally land in distinct shards; if these
		// two ever collide, pick different IDs.
		u := m.Lock(UnlockKey("ulk_9"))
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated key blocked by held lock")
	}
}

func TestKeyNamespaces(t *testing.T) {
	if RequestKey("abc") == UnlockKey("abc") {
		t.Error("request and unlock keys must not collide for the same ID")
	}
}

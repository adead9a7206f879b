package moderation

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	t.Parallel()

	locks := NewKeyedMutex()
	key := Key{GuildID: "g", UserID: "u"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(key)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("critical section entered by %d goroutines at once", maxSeen)
	}
	if locks.size() != 0 {
		t.Fatalf("lock table not drained: %d", locks.size())
	}
}

func TestKeyedMutexDistinctKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	locks := NewKeyedMutex()
	unlockA := locks.Lock(Key{GuildID: "g", UserID: "a"})
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock(Key{GuildID: "g", UserID: "b"})
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on distinct key blocked")
	}
}

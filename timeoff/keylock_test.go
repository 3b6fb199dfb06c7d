package timeoff

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLock_SerializesAndReleases(t *testing.T) {
	locks := newKeyLock()
	key := Key{WorkerID: "w1", LeaveTypeID: "annual", Year: 2025}

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
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

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locks.size())
}

func TestKeyLock_DistinctKeysDoNotBlock(t *testing.T) {
	locks := newKeyLock()
	a := Key{WorkerID: "w1", LeaveTypeID: "annual", Year: 2025}
	b := Key{WorkerID: "w1", LeaveTypeID: "annual", Year: 2026}

	unlockA := locks.Lock(a)
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock(b)
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
	unlockA()
	assert.Equal(t, 0, locks.size())
}

func TestKey_IDSeparatesCollidingKeys(t *testing.T) {
	a := Key{WorkerID: "a/b", LeaveTypeID: "c", Year: 2025}
	b := Key{WorkerID: "a", LeaveTypeID: "b/c", Year: 2025}

	assert.Equal(t, a.String(), b.String())
	assert.NotEqual(t, a.id(), b.id())
	assert.Equal(t, a.id(), Key{WorkerID: "a/b", LeaveTypeID: "c", Year: 2025}.id())
}

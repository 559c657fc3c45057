package ingest

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLocker_SameKeySerialises(t *testing.T) {
	locker := NewKeyedLocker()
	ts := time.Unix(1700000000, 0)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for n := 0; n < 20; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locker.Acquire("P1", ts)
			defer release()

			cur := atomic.AddInt32(&inside, 1)
			for {
				prev := atomic.LoadInt32(&maxInside)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxInside, prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, locker.Len())
}

func TestKeyedLocker_DistinctKeysDoNotBlock(t *testing.T) {
	locker := NewKeyedLocker()
	ts := time.Unix(1700000000, 0)

	releaseA := locker.Acquire("P1", ts)
	done := make(chan struct{})
	go func() {
		release := locker.Acquire("P1", ts.Add(time.Second))
		release()
		release = locker.Acquire("P2", ts)
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire on a different key blocked")
	}

	assert.Equal(t, 1, locker.Len())
	releaseA()
	releaseA()
	assert.Equal(t, 0, locker.Len())
}

package browserpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func newTestPool(maxContexts, maxConcurrent int) *chromePool {
	return &chromePool{
		opts:      Options{MaxContexts: maxContexts, MaxConcurrent: maxConcurrent}.withDefaults(),
		semaphore: make(chan struct{}, maxConcurrent),
	}
}

func fakeContext(p *chromePool) *BrowserContext {
	var cancelled int32
	return &BrowserContext{
		Ctx:    context.Background(),
		cancel: func() { atomic.StoreInt32(&cancelled, 1) },
		inUse:  true,
	}
}

func TestReleaseContextRequeuesBelowHalfCapacity(t *testing.T) {
	p := newTestPool(10, 5)
	p.inUseN = 1

	bc := fakeContext(p)
	p.ReleaseContext(bc)

	if len(p.idle) != 1 {
		t.Fatalf("expected context requeued, idle pool has %d entries", len(p.idle))
	}
}

func TestReleaseContextClosesAboveHalfCapacity(t *testing.T) {
	p := newTestPool(4, 5) // HALF CAPACITY IS 2
	p.idle = []*BrowserContext{fakeContext(p), fakeContext(p)}
	p.inUseN = 1

	var closed int32
	bc := &BrowserContext{
		Ctx:    context.Background(),
		cancel: func() { atomic.StoreInt32(&closed, 1) },
		inUse:  true,
	}
	p.ReleaseContext(bc)

	if len(p.idle) != 2 {
		t.Fatalf("expected idle pool to stay at 2 (context closed, not requeued), got %d", len(p.idle))
	}
	if atomic.LoadInt32(&closed) != 1 {
		t.Fatal("expected released context to be cancelled, not requeued")
	}
}

func TestRunBoundedCapsConcurrency(t *testing.T) {
	p := newTestPool(10, 2)

	var running int32
	var maxObserved int32
	start := make(chan struct{})

	run := func() error {
		n := atomic.AddInt32(&running, 1)
		for {
			cur := atomic.LoadInt32(&maxObserved)
			if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}

	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		go func() {
			<-start
			p.RunBounded(context.Background(), func(ctx context.Context) error {
				return run()
			})
			done <- struct{}{}
		}()
	}
	close(start)
	for i := 0; i < 5; i++ {
		<-done
	}

	if atomic.LoadInt32(&maxObserved) > 2 {
		t.Fatalf("expected concurrency capped at 2, observed %d", maxObserved)
	}
}

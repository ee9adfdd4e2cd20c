package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

type eventA struct{ n int }
type eventB struct{ n int }

func TestBusDeliversInPublishOrderPerType(t *testing.T) {
	bus := New(nil)
	bus.Start(context.Background())

	var mu sync.Mutex
	var gotA []int

	var wg sync.WaitGroup
	wg.Add(5)
	bus.Subscribe(eventA{}, func(ctx context.Context, event any) error {
		defer wg.Done()
		mu.Lock()
		gotA = append(gotA, event.(eventA).n)
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		bus.Publish(eventA{n: i})
	}

	wg.Wait()
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(gotA) != 5 {
		t.Fatalf("expected 5 deliveries, got %d", len(gotA))
	}
	for i, n := range gotA {
		if n != i {
			t.Fatalf("out-of-order delivery at index %d: got %d", i, n)
		}
	}
}

func TestBusDoesNotCrossDeliverTypes(t *testing.T) {
	bus := New(nil)
	bus.Start(context.Background())

	var aCount, bCount int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	bus.Subscribe(eventA{}, func(ctx context.Context, event any) error {
		defer wg.Done()
		mu.Lock()
		aCount++
		mu.Unlock()
		return nil
	})
	bus.Subscribe(eventB{}, func(ctx context.Context, event any) error {
		defer wg.Done()
		mu.Lock()
		bCount++
		mu.Unlock()
		return nil
	})

	bus.Publish(eventA{n: 1})
	bus.Publish(eventB{n: 2})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handlers")
	}
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if aCount != 1 || bCount != 1 {
		t.Fatalf("expected 1 delivery each, got aCount=%d bCount=%d", aCount, bCount)
	}
}

func TestBusHandlerPanicDoesNotStopDispatcher(t *testing.T) {
	bus := New(nil)
	bus.Start(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)
	bus.Subscribe(eventA{}, func(ctx context.Context, event any) error {
		defer wg.Done()
		panic("boom")
	})
	bus.Subscribe(eventA{}, func(ctx context.Context, event any) error {
		defer wg.Done()
		return nil
	})

	bus.Publish(eventA{n: 1})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher appears stuck after a handler panic")
	}
	bus.Stop()
}

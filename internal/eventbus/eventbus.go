// Package eventbus implements adscout's single-dispatcher, typed
// in-process pub/sub: subscribers register for the concrete Go type of
// an event, publishers enqueue and return immediately, and one
// dispatcher goroutine drains the queue strictly in order, fanning each
// event out to its subscribers concurrently before moving to the next.
//
// Translated from original_source/services/event_bus.py's
// asyncio.Queue + asyncio.gather dispatch loop: the unbounded
// asyncio.Queue becomes a growable slice guarded by a sync.Cond (Go
// channels are fixed-capacity, so they can't stand in for "unbounded"
// directly), and asyncio.gather's per-handler exception swallowing
// becomes a recovered goroutine per handler.
package eventbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/tbrandt/adscout/internal/logging"
)

// Handler IS INVOKED FOR EACH EVENT OF THE TYPE IT WAS SUBSCRIBED TO
type Handler func(ctx context.Context, event any) error

type sentinel struct{}

// Bus IS THE SINGLE-DISPATCHER PUB/SUB BUS
type Bus struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []any
	closed bool

	subsMu      sync.RWMutex
	subscribers map[reflect.Type][]Handler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	logger *logging.Logger
}

// New CREATES AN UNSTARTED BUS
func New(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	b := &Bus{
		subscribers: make(map[reflect.Type][]Handler),
		done:        make(chan struct{}),
		logger:      logger,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Subscribe REGISTERS handler FOR THE RUNTIME TYPE OF sample
func (b *Bus) Subscribe(sample any, handler Handler) {
	t := reflect.TypeOf(sample)
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], handler)
}

// Publish ENQUEUES event AND RETURNS IMMEDIATELY
func (b *Bus) Publish(event any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, event)
	b.cond.Signal()
}

// Start LAUNCHES THE DISPATCHER GOROUTINE
func (b *Bus) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	go b.dispatchLoop()
}

// Stop ENQUEUES A SENTINEL AND BLOCKS UNTIL THE DISPATCHER HAS DRAINED EVERYTHING AHEAD OF IT
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.queue = append(b.queue, sentinel{})
	b.cond.Signal()
	b.mu.Unlock()

	<-b.done
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Bus) dispatchLoop() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 {
			b.cond.Wait()
		}
		item := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		if _, isSentinel := item.(sentinel); isSentinel {
			return
		}
		b.fanOut(item)
	}
}

func (b *Bus) fanOut(event any) {
	t := reflect.TypeOf(event)
	b.subsMu.RLock()
	handlers := append([]Handler(nil), b.subscribers[t]...)
	b.subsMu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event bus handler panicked", map[string]any{
						"event": fmt.Sprintf("%T", event),
						"panic": fmt.Sprintf("%v", r),
					})
				}
			}()
			ctx := b.ctx
			if ctx == nil {
				ctx = context.Background()
			}
			if err := h(ctx, event); err != nil {
				b.logger.Error("event bus handler failed", map[string]any{
					"event": fmt.Sprintf("%T", event),
					"error": err.Error(),
				})
			}
		}(h)
	}
	wg.Wait()
}

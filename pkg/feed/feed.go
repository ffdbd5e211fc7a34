// Package feed provides cancellable push subscriptions. A feed replays the
// current state when it starts and pushes a new value after every mutation
// its producer observes.
package feed

import (
	"context"
	"sync"
)

// Feed is a running subscription. Values arrive on Updates until the
// producer stops or Cancel is called, after which the channel is closed.
type Feed[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Producer pushes values through emit until ctx is done. emit returns false
// once the subscriber has gone away.
type Producer[T any] func(ctx context.Context, emit func(T) bool) error

// Start runs produce in its own goroutine.
func Start[T any](parent context.Context, produce Producer[T]) *Feed[T] {
	ctx, cancel := context.WithCancel(parent)
	f := &Feed[T]{
		updates: make(chan T, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(f.done)
		defer close(f.updates)

		err := produce(ctx, func(v T) bool {
			select {
			case f.updates <- v:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil && ctx.Err() == nil {
			f.err = err
		}
	}()

	return f
}

func (f *Feed[T]) Updates() <-chan T {
	return f.updates
}

// Cancel stops the producer and waits for it to exit. Safe to call twice.
func (f *Feed[T]) Cancel() {
	f.cancel()
	<-f.done
}

// Err blocks until the feed has stopped and returns the producer error, if
// the producer failed on its own rather than being cancelled.
func (f *Feed[T]) Err() error {
	<-f.done
	return f.err
}

// Map derives a feed whose values are fn applied to each value of src.
// Cancelling the derived feed cancels src.
func Map[T, U any](parent context.Context, src *Feed[T], fn func(T) U) *Feed[U] {
	return Start(parent, func(ctx context.Context, emit func(U) bool) error {
		defer src.Cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case v, ok := <-src.Updates():
				if !ok {
					return src.Err()
				}
				if !emit(fn(v)) {
					return nil
				}
			}
		}
	})
}

// Broadcaster fans a "something changed" signal out to subscribers. Signals
// coalesce: a slow subscriber sees at most one pending signal.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan struct{}
	next int
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan struct{})}
}

func (b *Broadcaster) Subscribe() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan struct{}, 1)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Broadcaster) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch builds a feed that emits load() on start and again after every
// broadcast signal.
func Watch[T any](parent context.Context, b *Broadcaster, load func(ctx context.Context) (T, error)) *Feed[T] {
	return Start(parent, func(ctx context.Context, emit func(T) bool) error {
		signal, unsubscribe := b.Subscribe()
		defer unsubscribe()

		for {
			v, err := load(ctx)
			if err != nil {
				return err
			}
			if !emit(v) {
				return nil
			}

			select {
			case <-ctx.Done():
				return nil
			case <-signal:
			}
		}
	})
}

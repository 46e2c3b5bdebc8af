package events

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// Stream is a hot broadcast channel: every subscriber registered at publish
// time receives the value. Publishing never blocks; a subscriber that falls
// more than subscriberBuffer values behind starts losing them.
type Stream[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

func NewStream[T any]() *Stream[T] {
	return &Stream[T]{subs: make(map[int]chan T)}
}

func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The cancel func releases it and
// closes the channel; calling cancel more than once is safe.
func (s *Stream[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, subscriberBuffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// WaitFor blocks until a published value matches or ctx is done. The
// subscription is torn down either way: a single match resolves the wait
// exactly once and later matches go nowhere.
func WaitFor[T any](ctx context.Context, s *Stream[T], match func(T) bool) (T, error) {
	ch, cancel := s.Subscribe()
	defer cancel()

	for {
		select {
		case v := <-ch:
			if match(v) {
				return v, nil
			}
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// WaitForValue waits for the first published value equal to want.
func WaitForValue[T comparable](ctx context.Context, s *Stream[T], want T) (T, error) {
	return WaitFor(ctx, s, func(v T) bool { return v == want })
}

// WaitForAny waits for the next published value, whatever it is.
func WaitForAny[T any](ctx context.Context, s *Stream[T]) (T, error) {
	return WaitFor(ctx, s, func(T) bool { return true })
}

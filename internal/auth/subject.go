package auth

import "sync"

// Subject fans values out to subscribers. Notify calls every subscriber
// synchronously, in subscription order, on the caller's goroutine.
type Subject[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is a no-op.
func (s *Subject[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *Subject[T]) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// Notify delivers v to the subscribers registered when Notify was called.
// Subscribers may subscribe or unsubscribe from inside their callback.
func (s *Subject[T]) Notify(v T) {
	s.mu.Lock()
	subs := make([]subscriber[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(v)
	}
}

func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

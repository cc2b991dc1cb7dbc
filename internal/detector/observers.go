package detector

import "sync"

// observers is an ordered subscriber list. Subscribers are called in
// registration order, outside of any detector lock.
type observers[T any] struct {
	mu   sync.Mutex
	next int
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// add registers fn and returns a func that removes it. The returned func is
// safe to call more than once.
func (o *observers[T]) add(fn func(T)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	id := o.next
	o.subs = append(o.subs, subscriber[T]{id: id, fn: fn})
	return func() { o.remove(id) }
}

func (o *observers[T]) remove(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, s := range o.subs {
		if s.id == id {
			o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
			return
		}
	}
}

func (o *observers[T]) notify(v T) {
	o.mu.Lock()
	subs := make([]subscriber[T], len(o.subs))
	copy(subs, o.subs)
	o.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

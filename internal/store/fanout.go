package store

import (
	"context"
	"sync"
)

const subscriberBuffer = 1024

// Fanout is the subscriber registry shared by the in-process backends and by
// pgstore's notification listener. Delivery is best-effort: a subscriber that
// stops draining its channel loses events rather than blocking writers.
type Fanout struct {
	mu   sync.Mutex
	subs map[int64]*subscriber
	next int64
}

type subscriber struct {
	prefix string
	ch     chan Event
}

func NewFanout() *Fanout {
	return &Fanout{subs: map[int64]*subscriber{}}
}

// Register adds a subscriber for prefix and primes its channel with the
// given snapshot events. The subscription ends when ctx is done.
func (f *Fanout) Register(ctx context.Context, prefix string, snapshot []Event) <-chan Event {
	sub := &subscriber{prefix: prefix, ch: make(chan Event, subscriberBuffer)}
	for _, ev := range snapshot {
		select {
		case sub.ch <- ev:
		default:
		}
	}

	f.mu.Lock()
	f.next++
	id := f.next
	f.subs[id] = sub
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch
}

// Publish delivers ev to every subscriber whose prefix covers the path.
func (f *Fanout) Publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if !Under(ev.Path, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

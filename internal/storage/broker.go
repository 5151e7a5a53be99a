package storage

import (
	"sync"

	"github.com/kalambet/chronicle/internal/campaign"
)

// broker fans committed collection snapshots out to subscribers. Each
// subscriber holds at most one pending snapshot; a newer one replaces it.
type broker struct {
	mu   sync.Mutex
	subs map[campaign.Kind]map[*subscriber]struct{}
}

type subscriber struct {
	origin string
	ch     chan campaign.Collections
}

func newBroker() *broker {
	return &broker{subs: make(map[campaign.Kind]map[*subscriber]struct{})}
}

func (b *broker) subscribe(kind campaign.Kind, origin string) *subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{origin: origin, ch: make(chan campaign.Collections, 1)}
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[*subscriber]struct{})
	}
	b.subs[kind][sub] = struct{}{}
	return sub
}

func (b *broker) unsubscribe(kind campaign.Kind, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[kind][sub]; !ok {
		return
	}
	delete(b.subs[kind], sub)
	close(sub.ch)
}

// publish delivers snap to every subscriber of kind except the writer that
// produced it. It never blocks.
func (b *broker) publish(kind campaign.Kind, origin string, snap campaign.Collections) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[kind] {
		if origin != "" && sub.origin == origin {
			continue
		}
		select {
		case sub.ch <- snap.Clone():
			continue
		default:
		}
		// Drop the stale snapshot and keep the latest.
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- snap.Clone():
		default:
		}
	}
}

func (b *broker) subscribers(kind campaign.Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[kind])
}

package api

import (
	"sync"

	"github.com/VenkatGGG/gpu-reserve/internal/scheduler"
)

// Board holds the most recent scheduler status and fans it out to watchers.
// Slow watchers only ever see the newest status.
type Board struct {
	metrics *Metrics

	mu          sync.RWMutex
	latest      scheduler.Status
	has         bool
	subscribers map[chan scheduler.Status]struct{}
}

func NewBoard(metrics *Metrics) *Board {
	return &Board{
		metrics:     metrics,
		subscribers: make(map[chan scheduler.Status]struct{}),
	}
}

func (b *Board) Publish(status scheduler.Status) {
	if b.metrics != nil {
		b.metrics.Observe(status)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = status
	b.has = true
	for ch := range b.subscribers {
		select {
		case ch <- status:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- status
		}
	}
}

func (b *Board) Latest() (scheduler.Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.has
}

// Subscribe returns a channel of future statuses and a func that detaches it.
func (b *Board) Subscribe() (<-chan scheduler.Status, func()) {
	ch := make(chan scheduler.Status, 1)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			b.mu.Unlock()
		})
	}
}

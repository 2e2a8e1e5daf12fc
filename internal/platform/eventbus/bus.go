package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lifecycle event types.
const (
	TypeRemoveInstance = "remove.instance"
	TypeNoConnection   = "no.connection"
)

var droppedEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "eventbus",
		Name:      "dropped_events_total",
		Help:      "Events dropped because a subscriber buffer was full.",
	},
	[]string{"type"},
)

// Event is an in-memory lifecycle signal about one instance.
//
// Publish never blocks. Subscribers read from a bounded channel and a
// subscriber that falls behind loses events, which is counted.
type Event struct {
	Type     string
	Instance string
	// Source is the emitting session, nil for external signals.
	Source any
	Time   time.Time
}

type Bus interface {
	Publish(e Event) (delivered int)
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

type subscriber struct {
	ch    chan Event
	types map[string]struct{}
}

func (s subscriber) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]subscriber{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]subscriber
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) int {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	delivered := 0
	for _, ch := range targets {
		// A concurrent unsubscribe may close ch; a send on it panics and is recovered.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
				delivered++
			default:
				droppedEvents.WithLabelValues(e.Type).Inc()
			}
		}()
	}
	return delivered
}

// Subscribe returns a channel receiving events of the given types, or all
// events when none are given.
func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}

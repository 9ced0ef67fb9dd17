package bus

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// anyKind keys catch-all subscriptions.
const anyKind Kind = ""

type subscription struct {
	id     string
	kinds  []Kind
	h      Handler
	active bool
	cancel func()
}

func (s *subscription) ID() string     { return s.id }
func (s *subscription) Kinds() []Kind  { return s.kinds }
func (s *subscription) IsActive() bool { return s.active }
func (s *subscription) Cancel() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

type inMemoryBus struct {
	mu sync.RWMutex
	// handlers: kind -> subscription id -> subscription
	handlers  map[Kind]map[string]*subscription
	metrics   Metrics
	observers map[Observer]struct{}
}

func New() Bus {
	return &inMemoryBus{
		handlers:  make(map[Kind]map[string]*subscription),
		observers: make(map[Observer]struct{}),
	}
}

func (b *inMemoryBus) Subscribe(h Handler, kinds ...Kind) (Subscription, error) {
	if h == nil {
		return nil, errors.New("bus: nil handler")
	}
	keys := kinds
	if len(keys) == 0 {
		keys = []Kind{anyKind}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	s := &subscription{id: id, kinds: slices.Clone(kinds), h: h, active: true}
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, k := range keys {
			delete(b.handlers[k], id)
		}
		s.active = false
	}
	for _, k := range keys {
		if b.handlers[k] == nil {
			b.handlers[k] = make(map[string]*subscription)
		}
		b.handlers[k][id] = s
	}
	return s, nil
}

func (b *inMemoryBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

func (b *inMemoryBus) AddObserver(obs Observer) {
	b.mu.Lock()
	b.observers[obs] = struct{}{}
	b.mu.Unlock()
}

func (b *inMemoryBus) RemoveObserver(obs Observer) {
	b.mu.Lock()
	delete(b.observers, obs)
	b.mu.Unlock()
}

func (b *inMemoryBus) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

func (b *inMemoryBus) Publish(ev Event) error {
	b.mu.RLock()
	var subs []*subscription
	for _, k := range []Kind{ev.Kind, anyKind} {
		for _, s := range b.handlers[k] {
			subs = append(subs, s)
		}
	}
	var observers []Observer
	for obs := range b.observers {
		observers = append(observers, obs)
	}
	b.mu.RUnlock()

	for _, obs := range observers {
		obs.OnPublish(ev)
	}

	var all error
	for _, s := range subs {
		if !s.active {
			continue
		}
		if err := s.h(ev); err != nil {
			all = errors.Join(all, err)
		}
	}

	if len(observers) == 0 {
		return all
	}
	for _, obs := range observers {
		obs.OnDelivered(ev, len(subs), all)
	}
	b.mu.Lock()
	b.metrics.Published++
	b.metrics.DeliveredHandlers += uint64(len(subs))
	if all != nil {
		b.metrics.Errors++
	}
	active := make(map[string]struct{})
	for _, m := range b.handlers {
		for id := range m {
			active[id] = struct{}{}
		}
	}
	b.metrics.SubscribersActive = uint64(len(active))
	b.mu.Unlock()
	return all
}

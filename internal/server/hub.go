package server

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/events/bus"
	"github.com/zeusync/qcserver/internal/core/observability/log"
	"github.com/zeusync/qcserver/internal/core/observability/metrics"
	"github.com/zeusync/qcserver/internal/core/snapshot"
)

// Sink is the transport end of a subscriber. WriteFrame is only called from
// the subscriber's own writer.
type Sink interface {
	WriteFrame(data []byte) error
	Close() error
}

// Subscriber is one client of the entity feed.
type Subscriber struct {
	id        string
	transport string

	// tracker belongs to the tick goroutine.
	tracker *snapshot.Tracker
	out     chan []byte
	resync  atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscriber) ID() string        { return s.id }
func (s *Subscriber) Transport() string { return s.transport }

// Close stops the writer. Safe to call more than once.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done is closed once the subscriber is closed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Hub fans frames out to subscribers. Admission and removal may happen on
// any goroutine; Publish is called only by the tick loop.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber

	maxSubs int
	queue   int
	limiter *rate.Limiter

	logger  log.Log
	metrics *metrics.Metrics
}

func NewHub(maxSubs, queue int, limiter *rate.Limiter, logger log.Log, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = log.NewNop()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Hub{
		subs:    make(map[string]*Subscriber),
		maxSubs: maxSubs,
		queue:   max(queue, 1),
		limiter: limiter,
		logger:  logger.With(log.String("component", "hub")),
		metrics: m,
	}
}

// Admit registers a new subscriber or says why it cannot.
func (h *Hub) Admit(transport string) (*Subscriber, error) {
	if !h.limiter.Allow() {
		h.metrics.ConnectionRejected("rate")
		return nil, ErrRateLimited
	}

	h.mu.Lock()
	if len(h.subs) >= h.maxSubs {
		h.mu.Unlock()
		h.metrics.ConnectionRejected("full")
		return nil, ErrMaxSubscribers
	}
	sub := &Subscriber{
		id:        uuid.NewString(),
		transport: transport,
		tracker:   snapshot.NewTracker(),
		out:       make(chan []byte, h.queue),
		done:      make(chan struct{}),
	}
	h.subs[sub.id] = sub
	total := len(h.subs)
	h.mu.Unlock()

	h.metrics.SubscriberAdded(transport)
	h.logger.Info("Subscriber added",
		log.String("subscriber", sub.id),
		log.String("transport", transport),
		log.Int("total", total))
	return sub, nil
}

// Remove unregisters and closes sub.
func (h *Hub) Remove(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub.id]
	delete(h.subs, sub.id)
	total := len(h.subs)
	h.mu.Unlock()

	sub.Close()
	if !ok {
		return
	}
	h.metrics.SubscriberRemoved(sub.transport)
	h.logger.Info("Subscriber removed",
		log.String("subscriber", sub.id),
		log.Int("total", total))
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) snapshot() []*Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		out = append(out, sub)
	}
	return out
}

// ResyncAll makes every subscriber's next frame a full one.
func (h *Hub) ResyncAll() {
	for _, sub := range h.snapshot() {
		sub.resync.Store(true)
	}
}

// CloseAll closes every subscriber. Their writers remove them.
func (h *Hub) CloseAll() {
	for _, sub := range h.snapshot() {
		sub.Close()
	}
}

// Publish builds and queues the frame of one tick for every subscriber.
// A subscriber whose queue is full loses the frame and gets a full frame
// on the next tick.
func (h *Hub) Publish(tick uint64, time float32, mapName string, states []entity.State, events []bus.Event) {
	for _, sub := range h.snapshot() {
		if sub.resync.Swap(false) {
			sub.tracker.Reset()
		}
		frame := sub.tracker.Frame(tick, time, mapName, states, events)
		if frame.Empty() {
			continue
		}
		data, err := snapshot.Encode(&frame)
		if err != nil {
			h.logger.Error("Failed to encode frame", log.String("subscriber", sub.id), log.Error(err))
			sub.resync.Store(true)
			continue
		}
		select {
		case sub.out <- data:
		default:
			sub.resync.Store(true)
			h.logger.Debug("Subscriber queue full, frame dropped",
				log.String("subscriber", sub.id),
				log.Uint64("tick", tick))
		}
	}
}

// Serve writes queued frames to sink until sub is closed or a write fails,
// then removes sub and closes sink.
func (h *Hub) Serve(sub *Subscriber, sink Sink) error {
	defer func() {
		h.Remove(sub)
		_ = sink.Close()
	}()
	for {
		select {
		case <-sub.done:
			return nil
		case data := <-sub.out:
			if err := sink.WriteFrame(data); err != nil {
				h.logger.Debug("Subscriber write failed",
					log.String("subscriber", sub.id),
					log.Error(err))
				return err
			}
			h.metrics.FrameSent(sub.transport, len(data))
		}
	}
}

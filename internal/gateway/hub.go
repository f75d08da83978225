// Package gateway - hub.go fans session events out to websocket subscribers.
//
// DESIGN: The Hub is the EventSink every session publishes to. Each session
// id is a topic holding a bounded backlog, so a client that subscribes after
// session_started (the usual case: start over HTTP, then open the socket)
// still sees it. Publish never blocks: a subscriber whose buffer is full
// loses the event and the drop is counted. session_ended closes the topic;
// closed topics are kept for TopicTTL so late subscribers get the summary.
package gateway

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/realtime-gateway/internal/monitoring"
	"github.com/compresr/realtime-gateway/internal/realtime"
)

// Hub defaults.
const (
	DefaultBacklog          = 64
	DefaultSubscriberBuffer = 256
	DefaultTopicTTL         = 10 * time.Minute
)

// Hub implements realtime.EventSink.
type Hub struct {
	mu      sync.Mutex
	topics  map[string]*topic
	backlog int
	buffer  int
	ttl     time.Duration
	metrics *monitoring.MetricsCollector

	stop     chan struct{}
	stopOnce sync.Once
}

type topic struct {
	backlog []realtime.Event
	subs    map[*subscriber]struct{}
	ended   bool
	endedAt time.Time
	touched time.Time
}

type subscriber struct {
	ch chan realtime.Event
}

// NewHub creates a Hub and starts its cleanup loop.
func NewHub(metrics *monitoring.MetricsCollector) *Hub {
	h := &Hub{
		topics:  make(map[string]*topic),
		backlog: DefaultBacklog,
		buffer:  DefaultSubscriberBuffer,
		ttl:     DefaultTopicTTL,
		metrics: metrics,
		stop:    make(chan struct{}),
	}
	go h.cleanupLoop()
	return h
}

// Close stops the cleanup loop.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Publish implements realtime.EventSink.
func (h *Hub) Publish(ev realtime.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topicLocked(ev.SessionID)
	if t.ended {
		return
	}
	t.touched = time.Now()

	// Audio chunks are only useful live; keeping them would crowd the
	// backlog out of the events a late subscriber needs.
	if ev.Kind != realtime.EventResponseAudio {
		t.backlog = append(t.backlog, ev)
		if len(t.backlog) > h.backlog {
			t.backlog = t.backlog[len(t.backlog)-h.backlog:]
		}
	}

	for sub := range t.subs {
		select {
		case sub.ch <- ev:
			h.metrics.RecordEventDelivered()
		default:
			h.metrics.RecordEventDropped()
			log.Warn().Str("session_id", ev.SessionID).Str("event", string(ev.Kind)).Msg("gateway: subscriber too slow, event dropped")
		}
	}

	if ev.Kind == realtime.EventSessionEnded {
		t.ended = true
		t.endedAt = time.Now()
		for sub := range t.subs {
			close(sub.ch)
		}
		t.subs = nil
	}
}

func (h *Hub) topicLocked(id string) *topic {
	t, ok := h.topics[id]
	if !ok {
		t = &topic{subs: make(map[*subscriber]struct{}), touched: time.Now()}
		h.topics[id] = t
	}
	return t
}

// Known reports whether any event was published for id.
func (h *Hub) Known(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.topics[id]
	return ok
}

// Subscribe returns a channel that yields the backlog of id followed by live
// events. The channel is closed after session_ended or when cancel is called.
func (h *Hub) Subscribe(id string) (events <-chan realtime.Event, cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topicLocked(id)
	sub := &subscriber{ch: make(chan realtime.Event, len(t.backlog)+h.buffer)}
	for _, ev := range t.backlog {
		sub.ch <- ev
	}
	if t.ended {
		close(sub.ch)
		return sub.ch, func() {}
	}
	t.subs[sub] = struct{}{}

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := t.subs[sub]; ok {
				delete(t.subs, sub)
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}

// Subscribers returns the number of live subscribers of id.
func (h *Hub) Subscribers(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[id]; ok {
		return len(t.subs)
	}
	return 0
}

// cleanupLoop periodically removes ended topics and abandoned ones (a session
// that failed to connect publishes an error but never session_ended).
func (h *Hub) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.cleanup(time.Now())
		}
	}
}

func (h *Hub) cleanup(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := now.Add(-h.ttl)
	for id, t := range h.topics {
		expired := t.ended && t.endedAt.Before(cutoff)
		abandoned := !t.ended && len(t.subs) == 0 && t.touched.Before(cutoff)
		if expired || abandoned {
			delete(h.topics, id)
		}
	}
}

package services

import (
	"sync"

	"github.com/sirupsen/logrus"

	"recsignal/internal/metrics"
	"recsignal/internal/models"
)

// maxSubscribers bounds the number of live feed connections.
const maxSubscribers = 100

// Subscription receives committed alert events until Cancel is called.
type Subscription struct {
	C      <-chan models.AlertEvent
	id     int
	hub    *Hub
	cancel sync.Once
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() { s.hub.remove(s.id) })
}

// Hub fans committed alert events out to live feed subscribers. A
// subscriber whose buffer is full misses the event instead of blocking
// the ingest path.
type Hub struct {
	subscribers map[int]chan models.AlertEvent
	next        int
	buffer      int
	mutex       sync.Mutex
	logger      logrus.FieldLogger
}

func NewHub(buffer int, logger logrus.FieldLogger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subscribers: make(map[int]chan models.AlertEvent),
		buffer:      buffer,
		logger:      logger,
	}
}

// Subscribe adds a subscriber; ok is false once maxSubscribers is reached.
func (h *Hub) Subscribe() (*Subscription, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if len(h.subscribers) >= maxSubscribers {
		h.logger.Warnf("Max stream subscribers reached (%d)", maxSubscribers)
		return nil, false
	}
	h.next++
	ch := make(chan models.AlertEvent, h.buffer)
	h.subscribers[h.next] = ch
	metrics.StreamSubscribers.Inc()
	h.logger.Infof("Added stream subscriber %d (total: %d)", h.next, len(h.subscribers))
	return &Subscription{C: ch, id: h.next, hub: h}, true
}

func (h *Hub) remove(id int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if ch, exists := h.subscribers[id]; exists {
		delete(h.subscribers, id)
		close(ch)
		metrics.StreamSubscribers.Dec()
		h.logger.Infof("Removed stream subscriber %d (remaining: %d)", id, len(h.subscribers))
	}
}

// Publish delivers events to every subscriber in order.
func (h *Hub) Publish(events ...models.AlertEvent) {
	if len(events) == 0 {
		return
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, ev := range events {
		metrics.AlertEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		for id, ch := range h.subscribers {
			select {
			case ch <- ev:
			default:
				metrics.StreamDroppedTotal.Inc()
				h.logger.Warnf("Stream subscriber %d is slow, dropped %s event for alert %s", id, ev.Type, ev.Alert.ID)
			}
		}
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.subscribers)
}

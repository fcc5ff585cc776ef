package requestlog

import (
	"sync"
	"time"

	"clproxy/internal/model"
)

// EventType identifies which realtime event a subscriber received.
type EventType string

const (
	EventSnapshot  EventType = "snapshot"
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is one message delivered to a realtime subscriber.
type Event struct {
	Type    EventType             `json:"type"`
	Record  *model.RequestRecord  `json:"record,omitempty"`
	Records []*model.RequestRecord `json:"records,omitempty"`
	Delta   string                `json:"delta,omitempty"`
}

const subscriberQueueDepth = 64

// progressFlushInterval caps progress events at 10 Hz by coalescing deltas
// that arrive within one tick into a single event.
const progressFlushInterval = 100 * time.Millisecond

type subscriber struct {
	ch chan Event
}

type hub struct {
	mu        sync.Mutex
	subs      map[*subscriber]struct{}
	pending   map[string]*pendingProgress
	ticker    *time.Ticker
	closeOnce sync.Once
	doneCh    chan struct{}
}

type pendingProgress struct {
	record *model.RequestRecord
	delta  string
}

func newHub() *hub {
	h := &hub{
		subs:    map[*subscriber]struct{}{},
		pending: map[string]*pendingProgress{},
		ticker:  time.NewTicker(progressFlushInterval),
		doneCh:  make(chan struct{}),
	}
	go h.flushLoop()
	return h
}

func (h *hub) flushLoop() {
	for {
		select {
		case <-h.ticker.C:
			h.flushPending()
		case <-h.doneCh:
			return
		}
	}
}

func (h *hub) flushPending() {
	h.mu.Lock()
	if len(h.pending) == 0 {
		h.mu.Unlock()
		return
	}
	batch := h.pending
	h.pending = map[string]*pendingProgress{}
	h.mu.Unlock()

	for _, p := range batch {
		h.broadcast(Event{Type: EventProgress, Record: p.record, Delta: p.delta})
	}
}

// Subscribe registers a new listener and immediately enqueues a snapshot
// event built from current. The returned channel is closed when Unsubscribe
// is called or the hub is closed.
func (h *hub) Subscribe(current []*model.RequestRecord) <-chan Event {
	sub := &subscriber{ch: make(chan Event, subscriberQueueDepth)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	sub.ch <- Event{Type: EventSnapshot, Records: current}
	return sub.ch
}

// Started, Progress, Completed, and Failed broadcast the corresponding
// realtime event. Progress coalesces deltas for the same request until the
// next flush tick.
func (h *hub) Started(rec *model.RequestRecord) {
	h.broadcast(Event{Type: EventStarted, Record: rec})
}

func (h *hub) Progress(rec *model.RequestRecord, delta string) {
	h.mu.Lock()
	p, ok := h.pending[rec.RequestID]
	if !ok {
		p = &pendingProgress{record: rec}
		h.pending[rec.RequestID] = p
	}
	p.record = rec
	p.delta += delta
	h.mu.Unlock()
}

func (h *hub) Completed(rec *model.RequestRecord) {
	h.broadcast(Event{Type: EventCompleted, Record: rec})
}

func (h *hub) Failed(rec *model.RequestRecord) {
	h.broadcast(Event{Type: EventFailed, Record: rec})
}

// broadcast sends ev to every subscriber without blocking; a subscriber
// whose queue is full is dropped (closed and removed) rather than slowing
// down the rest.
func (h *hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

func (h *hub) Close() {
	h.closeOnce.Do(func() {
		close(h.doneCh)
		h.ticker.Stop()
		h.mu.Lock()
		defer h.mu.Unlock()
		for sub := range h.subs {
			close(sub.ch)
		}
		h.subs = map[*subscriber]struct{}{}
	})
}

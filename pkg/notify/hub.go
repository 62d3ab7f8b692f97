// Package notify fans module update events out to the user's active
// sessions: the WebSocket feed, optional external sinks (Slack), and any
// in-process subscriber taps.
package notify

import (
	"sync"

	"github.com/veslabs/maestro/pkg/module"
)

// Well-known update event types.
const (
	TypeNewItem  = "item.new"
	TypeReminder = "reminder"
	TypeDigest   = "digest"
	TypeError    = "module.error"
)

// Subscriber is a named tap on the update stream. Multiple subscribers can
// independently consume the same published updates (fan-out).
type Subscriber struct {
	Name string
	ch   chan module.Update
}

// Hub broadcasts module updates to all subscriber taps. Taps are buffered;
// slow consumers drop rather than block the publisher.
type Hub struct {
	mu        sync.RWMutex
	subs      []*Subscriber
	closed    bool
	closeOnce sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe creates a named tap receiving copies of all published updates.
func (h *Hub) Subscribe(name string) <-chan module.Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan module.Update, 64)}
	h.subs = append(h.subs, sub)
	return sub.ch
}

// Unsubscribe removes a tap by name and closes its channel.
func (h *Hub) Unsubscribe(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.subs[:0]
	for _, sub := range h.subs {
		if sub.Name == name {
			close(sub.ch)
			continue
		}
		kept = append(kept, sub)
	}
	h.subs = kept
}

// Publish sends an update to every tap, dropping for slow consumers.
func (h *Hub) Publish(u module.Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		select {
		case sub.ch <- u:
		default: // non-blocking, drop if subscriber is slow
		}
	}
}

// Close shuts the hub down and closes all taps.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.closed = true
		for _, sub := range h.subs {
			close(sub.ch)
		}
		h.subs = nil
	})
}

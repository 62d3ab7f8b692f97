package calendar

import (
	"context"
	"sync"
	"time"
)

// MemoryClient is a CalendarClient over an in-memory event list, used by
// tests and local REPL runs.
type MemoryClient struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryClient creates an empty in-memory calendar.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{}
}

// Put adds an event.
func (c *MemoryClient) Put(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Upcoming returns events starting within the window from now.
func (c *MemoryClient) Upcoming(_ context.Context, _ string, within time.Duration) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var out []Event
	for _, ev := range c.events {
		if ev.Start.After(now) && ev.Start.Before(now.Add(within)) {
			out = append(out, ev)
		}
	}
	return out, nil
}

var _ CalendarClient = (*MemoryClient)(nil)

// Package email implements the mail capability module. It reads and acts on
// the user's mailbox through a MailClient, and owns the per-user follow-up
// state that turns "reply", "delete", "yes" and "no" into continuations of
// its own previous question.
package email

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Mail is one mailbox message as seen by the module.
type Mail struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to,omitempty"`
	Subject    string    `json:"subject"`
	Snippet    string    `json:"snippet"`
	ReceivedAt time.Time `json:"received_at"`
}

// MailClient is the external mail-API contract. The concrete wrapping of a
// provider API lives outside this module; token is a live access token
// obtained from the token service.
type MailClient interface {
	Unread(ctx context.Context, token string, limit int) ([]Mail, error)
	Send(ctx context.Context, token, to, subject, body string) error
	Delete(ctx context.Context, token, id string) error
}

// ---------------------------------------------------------------------------
// In-memory client for tests and local REPL runs
// ---------------------------------------------------------------------------

// MemoryClient is a MailClient over an in-memory mailbox.
type MemoryClient struct {
	mu    sync.Mutex
	inbox map[string]Mail
	sent  []Mail
}

// NewMemoryClient creates an empty in-memory mailbox.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{inbox: make(map[string]Mail)}
}

// Put places a message into the mailbox.
func (c *MemoryClient) Put(m Mail) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbox[m.ID] = m
}

// Unread returns up to limit messages, newest first.
func (c *MemoryClient) Unread(_ context.Context, _ string, limit int) ([]Mail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Mail, 0, len(c.inbox))
	for _, m := range c.inbox {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Send records an outbound message.
func (c *MemoryClient) Send(_ context.Context, _ string, to, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, Mail{
		ID:         fmt.Sprintf("sent-%d", len(c.sent)+1),
		From:       "me",
		To:         to,
		Subject:    subject,
		Snippet:    body,
		ReceivedAt: time.Now(),
	})
	return nil
}

// Delete removes a message from the mailbox.
func (c *MemoryClient) Delete(_ context.Context, _ string, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inbox[id]; !ok {
		return fmt.Errorf("message %s not found", id)
	}
	delete(c.inbox, id)
	return nil
}

// Sent returns everything sent so far.
func (c *MemoryClient) Sent() []Mail {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Mail, len(c.sent))
	copy(out, c.sent)
	return out
}

var _ MailClient = (*MemoryClient)(nil)

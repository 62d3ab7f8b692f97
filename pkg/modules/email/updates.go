package email

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/veslabs/maestro/pkg/logger"
	"github.com/veslabs/maestro/pkg/module"
	"github.com/veslabs/maestro/pkg/notify"
)

// watchList tracks users whose mailboxes the update stream polls, with the
// newest message timestamp seen per user.
type watchList struct {
	mu       sync.Mutex
	users    map[string]*module.UserContext
	lastSeen map[string]time.Time
}

func newWatchList() *watchList {
	return &watchList{
		users:    make(map[string]*module.UserContext),
		lastSeen: make(map[string]time.Time),
	}
}

func (w *watchList) add(user *module.UserContext) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.lastSeen[user.UserID]; !ok {
		// Start from now: the stream reports mail arriving after the user
		// first showed up, not the whole backlog.
		w.lastSeen[user.UserID] = time.Now()
	}
	w.users[user.UserID] = user
}

func (w *watchList) snapshot() []*module.UserContext {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*module.UserContext, 0, len(w.users))
	for _, u := range w.users {
		out = append(out, u)
	}
	return out
}

func (w *watchList) seen(userID string) time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen[userID]
}

func (w *watchList) advance(userID string, t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t.After(w.lastSeen[userID]) {
		w.lastSeen[userID] = t
	}
}

// Watch registers a user for inbox polling without requiring a command
// first. The composition root calls this for subscribed users.
func (m *Module) Watch(user *module.UserContext) { m.watch.add(user) }

// StreamUpdates polls watched mailboxes on the configured cron gate and
// emits one event per message detected since the user's last poll. The
// stream stops when ctx is cancelled; it is not restartable.
func (m *Module) StreamUpdates(ctx context.Context) (<-chan module.Update, error) {
	ch := make(chan module.Update, 16)
	gron := gronx.New()

	go func() {
		defer close(ch)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if due, err := gron.IsDue(m.pollCron, time.Now()); err != nil || !due {
					continue
				}
				m.pollOnce(ctx, ch)
			}
		}
	}()
	return ch, nil
}

func (m *Module) pollOnce(ctx context.Context, ch chan<- module.Update) {
	for _, user := range m.watch.snapshot() {
		token, err := m.tokens.AccessToken(ctx, user)
		if err != nil {
			logger.DebugCF("email", "Skipping poll, no usable token", map[string]interface{}{
				"user": user.UserID,
			})
			continue
		}
		mails, err := m.client.Unread(ctx, token, m.unreadLimit)
		if err != nil {
			logger.WarnCF("email", "Inbox poll failed", map[string]interface{}{
				"user":  user.UserID,
				"error": err.Error(),
			})
			continue
		}

		since := m.watch.seen(user.UserID)
		for _, mail := range mails {
			if !mail.ReceivedAt.After(since) {
				continue
			}
			select {
			case ch <- module.Update{
				ModuleID:  m.ID(),
				Type:      notify.TypeNewItem,
				Title:     "New email from " + mail.From,
				Message:   mail.Subject,
				Payload:   map[string]interface{}{"id": mail.ID, "snippet": mail.Snippet},
				Timestamp: time.Now(),
				Priority:  module.PriorityNormal,
				Metadata:  map[string]string{"user_id": user.UserID},
			}:
			case <-ctx.Done():
				return
			}
			m.watch.advance(user.UserID, mail.ReceivedAt)
		}
	}
}

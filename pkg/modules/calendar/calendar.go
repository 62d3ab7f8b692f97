// Package calendar implements the calendar capability module: listing
// upcoming events and pushing start-time reminders through the update
// stream.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/veslabs/maestro/pkg/dispatch"
	"github.com/veslabs/maestro/pkg/identity"
	"github.com/veslabs/maestro/pkg/logger"
	"github.com/veslabs/maestro/pkg/module"
	"github.com/veslabs/maestro/pkg/notify"
)

// Event is one calendar entry.
type Event struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// CalendarClient is the external calendar-API contract.
type CalendarClient interface {
	Upcoming(ctx context.Context, token string, within time.Duration) ([]Event, error)
}

// reminderLead is how far ahead of an event's start a reminder fires.
const reminderLead = 15 * time.Minute

// Module is the calendar capability module.
type Module struct {
	module.Base

	client CalendarClient
	tokens identity.TokenService

	pollCron string

	mu       sync.Mutex
	watched  map[string]*module.UserContext
	reminded map[string]bool // event ID -> reminder already emitted
}

// New creates the calendar module.
func New(client CalendarClient, tokens identity.TokenService) *Module {
	return &Module{
		Base: module.Base{
			ModuleID:    "calendar",
			DisplayName: "Calendar",
			Desc:        "Shows upcoming events and reminds you before they start.",
			Commands: []string{
				"check calendar",
				"check my calendar",
				"upcoming events",
				"what's on my schedule",
				"schedule today",
				"my agenda *",
			},
			ModulePriority: 10,
		},
		client:   client,
		tokens:   tokens,
		pollCron: "* * * * *",
		watched:  make(map[string]*module.UserContext),
		reminded: make(map[string]bool),
	}
}

// Initialize applies module configuration.
func (m *Module) Initialize(config map[string]string) error {
	if v, ok := config["poll_cron"]; ok && v != "" {
		m.pollCron = v
	}
	return nil
}

// CanHandle scores the input against the calendar phrase list, with a small
// domain boost for obvious calendar vocabulary.
func (m *Module) CanHandle(_ context.Context, input string, _ *module.UserContext) float64 {
	score := dispatch.ScorePhrases(input, m.SupportedCommands())
	in := strings.ToLower(input)
	if score < 0.4 && (strings.Contains(in, "calendar") || strings.Contains(in, "meeting") || strings.Contains(in, "agenda")) {
		score = 0.4
	}
	return score
}

// Handle lists upcoming events for the next 24 hours.
func (m *Module) Handle(ctx context.Context, input string, user *module.UserContext) (*module.Response, error) {
	if user == nil {
		return module.Fail("I need to know whose calendar to look at.", module.ErrCodeInvalidCommand), nil
	}
	m.watchUser(user)

	in := dispatch.Normalize(input)
	if !containsAny(in, "calendar", "event", "schedule", "agenda", "meeting", "upcoming", "today") {
		return module.Fail("I'm not sure how to help with that calendar request.", module.ErrCodeNotUnderstood), nil
	}

	token, err := m.tokens.AccessToken(ctx, user)
	if err != nil {
		return module.Fail("I couldn't access your calendar credentials. Try signing in again.", "CALENDAR_AUTH_FAILED"), nil
	}

	events, err := m.client.Upcoming(ctx, token, 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("calendar: upcoming: %w", err)
	}
	if len(events) == 0 {
		return module.OK("Nothing on your calendar for the next 24 hours."), nil
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	var b strings.Builder
	fmt.Fprintf(&b, "You have %d event(s) coming up:\n", len(events))
	for i, ev := range events {
		fmt.Fprintf(&b, "%d. %s at %s", i+1, ev.Title, ev.Start.Format("15:04"))
		if ev.Location != "" {
			fmt.Fprintf(&b, " (%s)", ev.Location)
		}
		b.WriteString("\n")
	}
	return module.OK(b.String()).WithData(map[string]interface{}{"events": events}), nil
}

func (m *Module) watchUser(user *module.UserContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched[user.UserID] = user
}

// Watch registers a user for reminder polling.
func (m *Module) Watch(user *module.UserContext) { m.watchUser(user) }

// StreamUpdates polls watched calendars on the configured cron gate and
// emits one reminder per event entering the reminder window. Cancel ctx to
// stop the stream.
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
	m.mu.Lock()
	users := make([]*module.UserContext, 0, len(m.watched))
	for _, u := range m.watched {
		users = append(users, u)
	}
	m.mu.Unlock()

	for _, user := range users {
		token, err := m.tokens.AccessToken(ctx, user)
		if err != nil {
			continue
		}
		events, err := m.client.Upcoming(ctx, token, reminderLead)
		if err != nil {
			logger.WarnCF("calendar", "Reminder poll failed", map[string]interface{}{
				"user":  user.UserID,
				"error": err.Error(),
			})
			continue
		}
		for _, ev := range events {
			m.mu.Lock()
			done := m.reminded[ev.ID]
			if !done {
				m.reminded[ev.ID] = true
			}
			m.mu.Unlock()
			if done {
				continue
			}
			select {
			case ch <- module.Update{
				ModuleID:  m.ID(),
				Type:      notify.TypeReminder,
				Title:     "Upcoming: " + ev.Title,
				Message:   fmt.Sprintf("%s starts at %s", ev.Title, ev.Start.Format("15:04")),
				Payload:   map[string]interface{}{"event_id": ev.ID, "start": ev.Start},
				Timestamp: time.Now(),
				Priority:  module.PriorityHigh,
				Metadata:  map[string]string{"user_id": user.UserID},
			}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var _ module.Module = (*Module)(nil)

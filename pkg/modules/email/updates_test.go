package email

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veslabs/maestro/pkg/identity"
	"github.com/veslabs/maestro/pkg/module"
)

func drain(ch chan module.Update) []module.Update {
	var out []module.Update
	for {
		select {
		case u := <-ch:
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestPollOnceEmitsNewMailOnce(t *testing.T) {
	client := NewMemoryClient()
	m := New(client, identity.StaticTokenService{})
	user := mailUser()
	m.Watch(user)

	// Arrives after the watch started, so it counts as new.
	client.Put(Mail{ID: "m1", From: "boss@example.com", Subject: "Late news", ReceivedAt: time.Now().Add(time.Minute)})

	ch := make(chan module.Update, 8)
	m.pollOnce(context.Background(), ch)

	updates := drain(ch)
	require.Len(t, updates, 1)
	assert.Equal(t, "email", updates[0].ModuleID)
	assert.Contains(t, updates[0].Title, "boss@example.com")
	assert.Equal(t, "u1", updates[0].Metadata["user_id"])

	// Second poll: the watermark advanced, nothing new.
	m.pollOnce(context.Background(), ch)
	assert.Empty(t, drain(ch))
}

func TestPollOnceIgnoresBacklog(t *testing.T) {
	client := NewMemoryClient()
	client.Put(Mail{ID: "old", From: "a@example.com", Subject: "Ancient", ReceivedAt: time.Now().Add(-time.Hour)})

	m := New(client, identity.StaticTokenService{})
	m.Watch(mailUser())

	ch := make(chan module.Update, 8)
	m.pollOnce(context.Background(), ch)
	assert.Empty(t, drain(ch), "mail from before the watch started is not announced")
}

func TestPollOnceSkipsUsersWithoutCredentials(t *testing.T) {
	client := NewMemoryClient()
	client.Put(Mail{ID: "m1", From: "a@example.com", Subject: "S", ReceivedAt: time.Now().Add(time.Minute)})

	m := New(client, identity.StaticTokenService{})
	m.Watch(&module.UserContext{UserID: "tokenless"})

	ch := make(chan module.Update, 8)
	m.pollOnce(context.Background(), ch)
	assert.Empty(t, drain(ch))
}

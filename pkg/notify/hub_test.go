package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veslabs/maestro/pkg/module"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	defer h.Close()

	a := h.Subscribe("a")
	b := h.Subscribe("b")

	h.Publish(module.Update{ID: "u-1", Type: TypeNewItem, Message: "hello"})

	got := <-a
	assert.Equal(t, "u-1", got.ID)
	got = <-b
	assert.Equal(t, "u-1", got.ID)
}

func TestHubSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	defer h.Close()

	slow := h.Subscribe("slow")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ { // well past the tap buffer
			h.Publish(module.Update{ID: "u", Type: TypeNewItem})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// The buffer holds what it could; the rest was dropped.
	count := 0
	for range slow {
		count++
		if count == 64 {
			break
		}
	}
	assert.Equal(t, 64, count)
}

func TestHubUnsubscribeClosesTap(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ch := h.Subscribe("x")
	h.Unsubscribe("x")

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe is harmless.
	h.Publish(module.Update{ID: "u"})
}

func TestHubCloseIsIdempotent(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe("x")
	h.Close()
	h.Close()

	_, open := <-ch
	assert.False(t, open)
	h.Publish(module.Update{ID: "u"}) // no panic after close
}

// streamingModule emits a fixed set of updates then idles until cancelled.
type streamingModule struct {
	module.Base
	updates []module.Update
}

func (s *streamingModule) CanHandle(context.Context, string, *module.UserContext) float64 {
	return 0
}

func (s *streamingModule) Handle(context.Context, string, *module.UserContext) (*module.Response, error) {
	return module.OK("noop"), nil
}

func (s *streamingModule) StreamUpdates(ctx context.Context) (<-chan module.Update, error) {
	ch := make(chan module.Update, len(s.updates))
	for _, u := range s.updates {
		ch <- u
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

type captureSink struct {
	got chan module.Update
}

func (c *captureSink) Deliver(_ context.Context, u module.Update) error {
	c.got <- u
	return nil
}

func TestPumpForwardsAndBackfillsIdentity(t *testing.T) {
	h := NewHub()
	defer h.Close()
	sink := &captureSink{got: make(chan module.Update, 4)}
	pump := NewPump(h, sink)

	tap := h.Subscribe("test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &streamingModule{
		Base:    module.Base{ModuleID: "email"},
		updates: []module.Update{{Type: TypeNewItem, Message: "new mail"}},
	}
	require.NoError(t, pump.Attach(ctx, m))

	select {
	case u := <-tap:
		assert.NotEmpty(t, u.ID, "pump assigns an event ID")
		assert.Equal(t, "email", u.ModuleID, "pump stamps the source module")
	case <-time.After(2 * time.Second):
		t.Fatal("update never reached the hub")
	}

	select {
	case u := <-sink.got:
		assert.Equal(t, "email", u.ModuleID)
	case <-time.After(2 * time.Second):
		t.Fatal("update never reached the sink")
	}

	cancel()
	pump.Wait()
}

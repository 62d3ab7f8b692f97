package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/veslabs/maestro/pkg/logger"
	"github.com/veslabs/maestro/pkg/module"
)

// Sink delivers an update to an external surface (Slack, webhooks, ...).
type Sink interface {
	Deliver(ctx context.Context, u module.Update) error
}

// Pump runs one background consumer per module update stream and forwards
// every event into the hub and the configured sinks. Streams are cancelled
// together through the pump's context.
type Pump struct {
	hub   *Hub
	sinks []Sink
	wg    sync.WaitGroup
}

// NewPump creates a pump feeding the hub and optional sinks.
func NewPump(hub *Hub, sinks ...Sink) *Pump {
	return &Pump{hub: hub, sinks: sinks}
}

// Attach starts consuming a module's update stream. Events emitted at most
// once per item detected since the module's last poll; the pump adds the
// event ID when the module left it empty.
func (p *Pump) Attach(ctx context.Context, m module.Module) error {
	stream, err := m.StreamUpdates(ctx)
	if err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-stream:
				if !ok {
					logger.InfoCF("notify", "Update stream closed", map[string]interface{}{
						"module": m.ID(),
					})
					return
				}
				if u.ID == "" {
					u.ID = uuid.NewString()
				}
				if u.ModuleID == "" {
					u.ModuleID = m.ID()
				}
				p.forward(ctx, u)
			}
		}
	}()
	return nil
}

func (p *Pump) forward(ctx context.Context, u module.Update) {
	p.hub.Publish(u)
	for _, sink := range p.sinks {
		if err := sink.Deliver(ctx, u); err != nil {
			logger.WarnCF("notify", "Sink delivery failed", map[string]interface{}{
				"module": u.ModuleID,
				"type":   u.Type,
				"error":  err.Error(),
			})
		}
	}
}

// Wait blocks until all attached streams have stopped.
func (p *Pump) Wait() { p.wg.Wait() }

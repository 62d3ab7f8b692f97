// Package module defines the capability-module contracts for maestro.
// A Module is a pluggable unit that can score and handle a class of
// natural-language commands, the building block the dispatcher routes over.
package module

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// Module contract
// ---------------------------------------------------------------------------

// Module is the closed capability interface every skill implements.
// Instances are constructed once at startup, Initialized with configuration,
// registered, and live for the process lifetime.
type Module interface {
	// ID is the unique, stable identifier ("email", "calendar", "general").
	ID() string
	// Name is the human-readable display name.
	Name() string
	// Description explains what the module does, shown in listings.
	Description() string
	// SupportedCommands returns the ordered phrase/pattern list used for
	// confidence scoring. Patterns may contain * (any sequence) and ? (any
	// single character) wildcards.
	SupportedCommands() []string
	// Priority breaks confidence ties; higher wins.
	Priority() int

	// Initialize configures the module before registration.
	Initialize(config map[string]string) error

	// CanHandle scores how well this module matches the raw input, in [0,1].
	// It must not mutate state and may not invoke Handle's side effects.
	CanHandle(ctx context.Context, input string, user *UserContext) float64

	// Handle executes the command and produces exactly one Response.
	Handle(ctx context.Context, input string, user *UserContext) (*Response, error)

	// StreamUpdates returns a lazy, cancellable stream of asynchronous
	// events intended for the user's active sessions. The stream is
	// infinite and not restartable; cancel ctx to stop it.
	StreamUpdates(ctx context.Context) (<-chan Update, error)
}

// Descriptor is the read-only projection of a module exposed to callers.
type Descriptor struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	SupportedCommands []string `json:"supported_commands"`
	Priority          int      `json:"priority"`
}

// Describe builds a Descriptor snapshot from a live module.
func Describe(m Module) Descriptor {
	cmds := make([]string, len(m.SupportedCommands()))
	copy(cmds, m.SupportedCommands())
	return Descriptor{
		ID:                m.ID(),
		Name:              m.Name(),
		Description:       m.Description(),
		SupportedCommands: cmds,
		Priority:          m.Priority(),
	}
}

// Directory is the minimal view of the registry a module may hold to see
// its live peers (the general module delegates through it). Implemented by
// dispatch.Registry.
type Directory interface {
	FindByID(id string) (Module, bool)
	List() []Module
}

// ---------------------------------------------------------------------------
// Update events
// ---------------------------------------------------------------------------

// UpdatePriority orders update events for delivery surfaces.
type UpdatePriority int

const (
	PriorityLow UpdatePriority = iota
	PriorityNormal
	PriorityHigh
)

// Update is an asynchronous event a module pushes toward the user's
// active sessions via the notification channel.
type Update struct {
	ID        string                 `json:"id"`
	ModuleID  string                 `json:"module_id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Priority  UpdatePriority         `json:"priority"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// ---------------------------------------------------------------------------
// Base: embeddable metadata carrier
// ---------------------------------------------------------------------------

// Base supplies the metadata accessors and a no-op update stream so concrete
// modules only implement the behavior they need.
type Base struct {
	ModuleID       string
	DisplayName    string
	Desc           string
	Commands       []string
	ModulePriority int
}

func (b *Base) ID() string                  { return b.ModuleID }
func (b *Base) Name() string                { return b.DisplayName }
func (b *Base) Description() string         { return b.Desc }
func (b *Base) SupportedCommands() []string { return b.Commands }
func (b *Base) Priority() int               { return b.ModulePriority }

// Initialize is a no-op by default; modules needing configuration override it.
func (b *Base) Initialize(config map[string]string) error { return nil }

// StreamUpdates returns a stream that emits nothing and closes on cancel.
func (b *Base) StreamUpdates(ctx context.Context) (<-chan Update, error) {
	ch := make(chan Update)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

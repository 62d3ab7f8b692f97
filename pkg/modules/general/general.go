// Package general implements the general-purpose catch-all module. It is
// both a regular registered module (the default handler for non-domain
// input) and the dispatcher's fallback target. Backed by an LLM provider,
// it first tries to re-route clearly domain-specific requests back into the
// specific module that owns them, and otherwise answers directly.
package general

import (
	"context"
	"fmt"
	"strings"

	"github.com/veslabs/maestro/pkg/dispatch"
	"github.com/veslabs/maestro/pkg/logger"
	"github.com/veslabs/maestro/pkg/module"
	"github.com/veslabs/maestro/pkg/providers"
)

const (
	// Scores returned by CanHandle depending on the input's shape.
	scoreUnconfigured = 0.05
	scoreDomainInput  = 0.3 // specific modules should win these
	scoreGeneralInput = 0.9

	// delegateConfidence is the bar a re-route target's own CanHandle must
	// clear before the command is handed over.
	delegateConfidence = 0.5
)

const answerSystemPrompt = `You are maestro, a concise personal assistant.
Answer the user's request directly and helpfully in a few sentences.`

// Module is the general-purpose fallback module.
type Module struct {
	module.Base

	provider  providers.LLMProvider
	directory module.Directory

	// rerouteConfidence gates intent-based delegation to specific modules.
	rerouteConfidence float64
}

// New creates the general module. provider may be nil (unconfigured);
// directory lets the module see and delegate to its live peers.
func New(provider providers.LLMProvider, directory module.Directory, rerouteConfidence float64) *Module {
	return &Module{
		Base: module.Base{
			ModuleID:    "general",
			DisplayName: "General Assistant",
			Desc:        "Answers anything the specific capability modules don't cover.",
			Commands: []string{
				"help",
				"what can you do",
				"tell me *",
				"ask *",
			},
			ModulePriority: 1,
		},
		provider:          provider,
		directory:         directory,
		rerouteConfidence: rerouteConfidence,
	}
}

// CanHandle scores near zero when unconfigured, low when the input clearly
// belongs to another module's domain, and high otherwise.
func (m *Module) CanHandle(_ context.Context, input string, _ *module.UserContext) float64 {
	if m.provider == nil {
		return scoreUnconfigured
	}
	if m.inputHitsPeerDomain(input) {
		return scoreDomainInput
	}
	return scoreGeneralInput
}

// Handle runs the two-phase flow: intent-based re-routing into a specific
// module when classification is confident, otherwise a direct answer.
func (m *Module) Handle(ctx context.Context, input string, user *module.UserContext) (*module.Response, error) {
	if target, ok := m.classifyAndResolve(ctx, input, user); ok {
		resp, err := target.Handle(ctx, input, user)
		if err == nil && resp != nil {
			resp.SetMeta("delegatedBy", m.ID())
			return resp, nil
		}
		// Delegation failure degrades to answering directly.
		logger.WarnCF("general", "Delegated module failed, answering directly", map[string]interface{}{
			"target": target.ID(),
		})
	}
	return m.answer(ctx, input, user)
}

// classifyAndResolve runs intent analysis and resolves the named target to a
// live, registered module whose own CanHandle agrees. Every failure in here
// means "no re-route", never an error.
func (m *Module) classifyAndResolve(ctx context.Context, input string, user *module.UserContext) (module.Module, bool) {
	if m.provider == nil || m.directory == nil {
		return nil, false
	}

	result := providers.AnalyzeIntent(ctx, m.provider, input, m.peerDescriptors())
	if !result.ShouldRoute || result.Confidence < m.rerouteConfidence || result.TargetModule == "" {
		return nil, false
	}

	target, ok := m.resolvePeer(result.TargetModule)
	if !ok {
		return nil, false
	}
	if target.CanHandle(ctx, input, user) <= delegateConfidence {
		return nil, false
	}

	logger.InfoCF("general", "Re-routing to specific module", map[string]interface{}{
		"target":     target.ID(),
		"confidence": result.Confidence,
		"reasoning":  result.Reasoning,
	})
	return target, true
}

// resolvePeer matches a classifier-named target by ID or by keyword
// containment in either direction.
func (m *Module) resolvePeer(name string) (module.Module, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == m.ID() {
		return nil, false
	}
	if peer, ok := m.directory.FindByID(name); ok && !strings.EqualFold(peer.ID(), m.ID()) {
		return peer, true
	}
	for _, peer := range m.directory.List() {
		if strings.EqualFold(peer.ID(), m.ID()) {
			continue
		}
		id := strings.ToLower(peer.ID())
		if strings.Contains(name, id) || strings.Contains(id, name) {
			return peer, true
		}
	}
	return nil, false
}

// answer produces the direct general-purpose reply. An unconfigured or
// unreachable backing capability on the low-confidence path still yields a
// usable reply rather than an empty response.
func (m *Module) answer(ctx context.Context, input string, user *module.UserContext) (*module.Response, error) {
	if m.provider == nil {
		return module.OK("I don't have a general assistant configured yet, so I can only run specific commands. Try \"what can you do\" against one of the capability modules."), nil
	}

	name := "there"
	if user != nil && user.DisplayName != "" {
		name = user.DisplayName
	}

	resp, err := m.provider.Chat(ctx, []providers.Message{
		{Role: providers.RoleSystem, Content: answerSystemPrompt},
		{Role: providers.RoleUser, Content: fmt.Sprintf("(user: %s) %s", name, input)},
	}, "")
	if err != nil {
		return nil, fmt.Errorf("general answer: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return module.OK("I couldn't come up with anything useful for that — could you rephrase?"), nil
	}
	return module.OK(resp.Content), nil
}

// inputHitsPeerDomain checks the input against the domain keywords of every
// other registered module so specific modules win their own territory.
func (m *Module) inputHitsPeerDomain(input string) bool {
	if m.directory == nil {
		return false
	}
	in := dispatch.Normalize(input)
	for _, peer := range m.directory.List() {
		if strings.EqualFold(peer.ID(), m.ID()) {
			continue
		}
		for _, kw := range peerKeywords(peer) {
			if strings.Contains(in, kw) {
				return true
			}
		}
	}
	return false
}

// peerKeywords derives a module's domain keywords from its ID and phrase
// words. Short connective words are skipped.
func peerKeywords(peer module.Module) []string {
	seen := map[string]bool{}
	var out []string
	add := func(w string) {
		w = strings.ToLower(strings.Trim(w, "*? "))
		if len(w) <= 3 || seen[w] {
			return
		}
		seen[w] = true
		out = append(out, w)
	}
	add(peer.ID())
	for _, phrase := range peer.SupportedCommands() {
		for _, w := range strings.Fields(phrase) {
			add(w)
		}
	}
	return out
}

func (m *Module) peerDescriptors() []module.Descriptor {
	if m.directory == nil {
		return nil
	}
	var out []module.Descriptor
	for _, peer := range m.directory.List() {
		if strings.EqualFold(peer.ID(), m.ID()) {
			continue
		}
		out = append(out, module.Describe(peer))
	}
	return out
}

var _ module.Module = (*Module)(nil)

package general

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veslabs/maestro/pkg/dispatch"
	"github.com/veslabs/maestro/pkg/module"
	"github.com/veslabs/maestro/pkg/providers"
)

// scriptedProvider answers the intent-classification call and the answer call
// with canned content, in order.
type scriptedProvider struct {
	replies []string
	err     error
	calls   int
}

func (p *scriptedProvider) Chat(_ context.Context, _ []providers.Message, _ string) (*providers.LLMResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	reply := ""
	if len(p.replies) > 0 {
		reply = p.replies[0]
		p.replies = p.replies[1:]
	}
	return &providers.LLMResponse{Content: reply, Model: "scripted"}, nil
}

func (p *scriptedProvider) GetDefaultModel() string { return "scripted" }

// peerModule is a registered domain module the general module can see.
type peerModule struct {
	module.Base
	score  float64
	handle func(ctx context.Context, input string, user *module.UserContext) (*module.Response, error)
}

func (p *peerModule) CanHandle(context.Context, string, *module.UserContext) float64 {
	return p.score
}

func (p *peerModule) Handle(ctx context.Context, input string, user *module.UserContext) (*module.Response, error) {
	if p.handle != nil {
		return p.handle(ctx, input, user)
	}
	return module.OK("peer handled it"), nil
}

func newPeer(id string, score float64, phrases ...string) *peerModule {
	return &peerModule{
		Base: module.Base{
			ModuleID:       id,
			DisplayName:    id,
			Commands:       phrases,
			ModulePriority: 10,
		},
		score: score,
	}
}

func registryWith(mods ...module.Module) *dispatch.Registry {
	reg := dispatch.NewRegistry()
	for _, m := range mods {
		reg.Register(m)
	}
	return reg
}

const routeToEmail = `{"should_route": true, "target_module": "email", "confidence": 0.9, "reasoning": "mail request"}`
const noRoute = `{"should_route": false, "target_module": "", "confidence": 0.2, "reasoning": "general chat"}`

func TestCanHandleUnconfigured(t *testing.T) {
	m := New(nil, registryWith(), 0.7)
	assert.Equal(t, 0.05, m.CanHandle(context.Background(), "tell me a joke", nil))
}

func TestCanHandleDemotesDomainInput(t *testing.T) {
	provider := &scriptedProvider{}
	email := newPeer("email", 0.9, "read emails", "send email")
	reg := registryWith(email)
	m := New(provider, reg, 0.7)
	reg.Register(m)

	assert.Equal(t, 0.3, m.CanHandle(context.Background(), "read my emails please", nil),
		"peer-domain keywords demote the general score")
	assert.Equal(t, 0.9, m.CanHandle(context.Background(), "what is the capital of France", nil))
}

func TestHandleAnswersDirectly(t *testing.T) {
	provider := &scriptedProvider{replies: []string{noRoute, "Paris is the capital of France."}}
	email := newPeer("email", 0.9, "read emails")
	reg := registryWith(email)
	m := New(provider, reg, 0.7)
	reg.Register(m)

	resp, err := m.Handle(context.Background(), "what is the capital of France", &module.UserContext{DisplayName: "Ana"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, "Paris is the capital of France.", resp.Message)
	assert.Equal(t, 2, provider.calls, "one classification call, one answer call")
}

func TestHandleDelegatesOnConfidentIntent(t *testing.T) {
	provider := &scriptedProvider{replies: []string{routeToEmail}}
	email := newPeer("email", 0.9, "read emails")
	email.handle = func(context.Context, string, *module.UserContext) (*module.Response, error) {
		return module.OK("3 unread messages"), nil
	}
	reg := registryWith(email)
	m := New(provider, reg, 0.7)
	reg.Register(m)

	resp, err := m.Handle(context.Background(), "check my mail", nil)
	require.NoError(t, err)
	assert.Equal(t, "3 unread messages", resp.Message)
	assert.Equal(t, "general", resp.Metadata["delegatedBy"])
}

func TestHandleNoDelegationWhenTargetUnconfident(t *testing.T) {
	provider := &scriptedProvider{replies: []string{routeToEmail, "answered directly"}}
	email := newPeer("email", 0.2, "read emails") // below the delegation bar
	reg := registryWith(email)
	m := New(provider, reg, 0.7)
	reg.Register(m)

	resp, err := m.Handle(context.Background(), "check my mail", nil)
	require.NoError(t, err)
	assert.Equal(t, "answered directly", resp.Message)
}

func TestHandleDelegationFailureDegradesToAnswer(t *testing.T) {
	provider := &scriptedProvider{replies: []string{routeToEmail, "here is a direct answer"}}
	email := newPeer("email", 0.9, "read emails")
	email.handle = func(context.Context, string, *module.UserContext) (*module.Response, error) {
		return nil, errors.New("imap down")
	}
	reg := registryWith(email)
	m := New(provider, reg, 0.7)
	reg.Register(m)

	resp, err := m.Handle(context.Background(), "check my mail", nil)
	require.NoError(t, err)
	assert.Equal(t, "here is a direct answer", resp.Message)
}

func TestHandleMalformedClassificationAnswersDirectly(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"I think you want email stuff?", "direct answer"}}
	email := newPeer("email", 0.9, "read emails")
	reg := registryWith(email)
	m := New(provider, reg, 0.7)
	reg.Register(m)

	resp, err := m.Handle(context.Background(), "check my mail", nil)
	require.NoError(t, err)
	assert.Equal(t, "direct answer", resp.Message)
}

func TestHandleUnconfiguredStillResponds(t *testing.T) {
	m := New(nil, registryWith(), 0.7)

	resp, err := m.Handle(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Message)
}

func TestHandleProviderErrorSurfaces(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("api quota exhausted")}
	m := New(provider, registryWith(), 0.7)

	_, err := m.Handle(context.Background(), "hello", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api quota exhausted")
}

func TestHandleEmptyCompletionGetsRephrasePrompt(t *testing.T) {
	provider := &scriptedProvider{replies: []string{noRoute, "   "}}
	email := newPeer("email", 0.9, "read emails")
	reg := registryWith(email)
	m := New(provider, reg, 0.7)
	reg.Register(m)

	resp, err := m.Handle(context.Background(), "tell me something", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "rephrase")
}

func TestAnalyzeIntentClampsConfidence(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"should_route": true, "target_module": "email", "confidence": 7.5, "reasoning": "x"}`,
	}}
	peers := []module.Descriptor{{ID: "email", Description: "mail"}}

	result := providers.AnalyzeIntent(context.Background(), provider, "check mail", peers)
	assert.True(t, result.ShouldRoute)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestAnalyzeIntentFencedJSON(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		"```json\n" + routeToEmail + "\n```",
	}}
	peers := []module.Descriptor{{ID: "email", Description: "mail"}}

	result := providers.AnalyzeIntent(context.Background(), provider, "check mail", peers)
	assert.True(t, result.ShouldRoute)
	assert.Equal(t, "email", result.TargetModule)
}

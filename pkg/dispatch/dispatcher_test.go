package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veslabs/maestro/pkg/config"
	"github.com/veslabs/maestro/pkg/module"
)

// stubModule is a scriptable module for dispatcher tests.
type stubModule struct {
	module.Base

	// score wins over phrases when >= 0; otherwise CanHandle scores the
	// phrase list.
	score       float64
	scorePanics bool

	handle      func(ctx context.Context, input string, user *module.UserContext) (*module.Response, error)
	handleCalls atomic.Int64
}

func newStub(id string, priority int, phrases ...string) *stubModule {
	return &stubModule{
		Base: module.Base{
			ModuleID:       id,
			DisplayName:    id,
			Commands:       phrases,
			ModulePriority: priority,
		},
		score: -1,
	}
}

func (s *stubModule) CanHandle(_ context.Context, input string, _ *module.UserContext) float64 {
	if s.scorePanics {
		panic("scoring blew up")
	}
	if s.score >= 0 {
		return s.score
	}
	return ScorePhrases(input, s.Commands)
}

func (s *stubModule) Handle(ctx context.Context, input string, user *module.UserContext) (*module.Response, error) {
	s.handleCalls.Add(1)
	if s.handle != nil {
		return s.handle(ctx, input, user)
	}
	return module.OK("handled by " + s.ModuleID), nil
}

func okHandler(msg string) func(context.Context, string, *module.UserContext) (*module.Response, error) {
	return func(context.Context, string, *module.UserContext) (*module.Response, error) {
		return module.OK(msg), nil
	}
}

func testUser() *module.UserContext {
	return &module.UserContext{UserID: "u1", DisplayName: "Test User"}
}

func newTestDispatcher(mods ...module.Module) *Dispatcher {
	reg := NewRegistry()
	for _, m := range mods {
		reg.Register(m)
	}
	return New(reg, config.DispatchConfig{})
}

func requireMetadataComplete(t *testing.T, resp *module.Response) {
	t.Helper()
	for _, key := range []string{
		module.MetaModuleID,
		module.MetaModuleName,
		module.MetaConfidence,
		module.MetaIsFallback,
		module.MetaPreferredModule,
	} {
		_, ok := resp.Metadata[key]
		require.True(t, ok, "metadata key %q missing", key)
	}
}

func TestProcessCommandSelectsBestPhraseMatch(t *testing.T) {
	email := newStub("email", 10, "read emails", "send email")
	email.handle = okHandler("your inbox")
	cal := newStub("calendar", 10, "check calendar")
	cal.handle = okHandler("your agenda")

	d := newTestDispatcher(email, cal)

	resp, err := d.ProcessCommand(context.Background(), "read my emails", testUser(), "")
	require.NoError(t, err)
	require.True(t, resp.Success)

	requireMetadataComplete(t, resp)
	assert.Equal(t, "email", resp.Metadata[module.MetaModuleID])
	assert.Equal(t, false, resp.Metadata[module.MetaIsFallback])
	assert.GreaterOrEqual(t, resp.Metadata[module.MetaConfidence].(float64), 0.8)
	assert.Equal(t, "auto", resp.Metadata[module.MetaPreferredModule])
	assert.EqualValues(t, 0, cal.handleCalls.Load())
}

func TestProcessCommandGibberishGoesToFallback(t *testing.T) {
	email := newStub("email", 10, "read emails")
	general := newStub("general", 1)
	general.score = 0 // fallback target doesn't need to score to be used
	general.handle = okHandler("let me take a guess")

	d := newTestDispatcher(email, general)

	resp, err := d.ProcessCommand(context.Background(), "asdlkjasd", testUser(), "")
	require.NoError(t, err)
	require.True(t, resp.Success)

	requireMetadataComplete(t, resp)
	assert.Equal(t, "general", resp.Metadata[module.MetaModuleID])
	assert.Equal(t, true, resp.Metadata[module.MetaIsFallback])
	assert.Equal(t, 0.0, resp.Metadata[module.MetaOriginalConfidence])
}

func TestProcessCommandNoFallbackRegistered(t *testing.T) {
	email := newStub("email", 10, "read emails")
	d := newTestDispatcher(email)

	resp, err := d.ProcessCommand(context.Background(), "asdlkjasd", testUser(), "")
	require.NoError(t, err)
	require.False(t, resp.Success)
	assert.Equal(t, module.ErrCodeNoMatchingModule, resp.ErrorCode)
	requireMetadataComplete(t, resp)
}

func TestProcessCommandPriorityBreaksTies(t *testing.T) {
	low := newStub("low", 1)
	low.score = 0.8
	high := newStub("high", 20)
	high.score = 0.8

	d := newTestDispatcher(low, high)

	resp, err := d.ProcessCommand(context.Background(), "anything", testUser(), "")
	require.NoError(t, err)
	assert.Equal(t, "high", resp.Metadata[module.MetaModuleID])
}

func TestProcessCommandPreferredModuleUsed(t *testing.T) {
	email := newStub("email", 10, "read emails")
	cal := newStub("calendar", 10, "check calendar")
	cal.handle = okHandler("calendar wins")

	d := newTestDispatcher(email, cal)

	// Preference is honored even below the auto-select floor, as long as
	// it clears the viability bar. Lookup is case-insensitive.
	cal.score = 0.15
	resp, err := d.ProcessCommand(context.Background(), "read my emails", testUser(), "Calendar")
	require.NoError(t, err)
	assert.Equal(t, "calendar", resp.Metadata[module.MetaModuleID])
	assert.Equal(t, "Calendar", resp.Metadata[module.MetaPreferredModule])
}

func TestProcessCommandPreferenceDiscardedBelowViability(t *testing.T) {
	cal := newStub("calendar", 10)
	cal.score = 0.0
	general := newStub("general", 1)
	general.score = 0.9
	general.handle = okHandler("a joke, then")

	d := newTestDispatcher(cal, general)

	resp, err := d.ProcessCommand(context.Background(), "tell me a joke", testUser(), "calendar")
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, "general", resp.Metadata[module.MetaModuleID])
	assert.Equal(t, "calendar", resp.Metadata[module.MetaPreferredModule])
	assert.EqualValues(t, 0, cal.handleCalls.Load())
}

func TestProcessCommandPreferenceBelowViabilityLandsOnFallback(t *testing.T) {
	modA := newStub("moda", 10)
	modA.score = 0.05
	general := newStub("general", 1)
	general.score = 0.2 // below auto floor too
	general.handle = okHandler("fallback answer")

	d := newTestDispatcher(modA, general)

	resp, err := d.ProcessCommand(context.Background(), "input x", testUser(), "moda")
	require.NoError(t, err)
	require.True(t, resp.Success)
	requireMetadataComplete(t, resp)
	assert.Equal(t, "general", resp.Metadata[module.MetaModuleID])
	assert.Equal(t, true, resp.Metadata[module.MetaIsFallback])
	assert.EqualValues(t, 0, modA.handleCalls.Load())
}

func TestProcessCommandFallbackOnHandlerError(t *testing.T) {
	email := newStub("email", 10)
	email.score = 0.9
	email.handle = func(context.Context, string, *module.UserContext) (*module.Response, error) {
		return nil, errors.New("mailbox exploded")
	}
	general := newStub("general", 1)
	general.score = 0.1
	general.handle = okHandler("covered for email")

	d := newTestDispatcher(email, general)

	resp, err := d.ProcessCommand(context.Background(), "read emails", testUser(), "")
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, true, resp.Metadata[module.MetaIsFallback])
	assert.Equal(t, "email", resp.Metadata[module.MetaOriginalModule])
	assert.Contains(t, resp.Metadata[module.MetaOriginalError], "mailbox exploded")
}

func TestProcessCommandSingleFallbackNoRecursion(t *testing.T) {
	boom := errors.New("boom")
	email := newStub("email", 10)
	email.score = 0.9
	email.handle = func(context.Context, string, *module.UserContext) (*module.Response, error) {
		return nil, boom
	}
	general := newStub("general", 1)
	general.handle = func(context.Context, string, *module.UserContext) (*module.Response, error) {
		return nil, errors.New("also boom")
	}

	d := newTestDispatcher(email, general)

	resp, err := d.ProcessCommand(context.Background(), "read emails", testUser(), "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, module.ErrCodeProcessingError, resp.ErrorCode)
	assert.NotContains(t, resp.Message, "boom") // no raw internals to the caller
	requireMetadataComplete(t, resp)

	assert.EqualValues(t, 1, email.handleCalls.Load())
	assert.EqualValues(t, 1, general.handleCalls.Load())
}

func TestProcessCommandHandlerPanicIsRecovered(t *testing.T) {
	email := newStub("email", 10)
	email.score = 0.9
	email.handle = func(context.Context, string, *module.UserContext) (*module.Response, error) {
		panic("nil map write")
	}
	general := newStub("general", 1)
	general.handle = okHandler("recovered")

	d := newTestDispatcher(email, general)

	resp, err := d.ProcessCommand(context.Background(), "read emails", testUser(), "")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, true, resp.Metadata[module.MetaIsFallback])
}

func TestProcessCommandSelfReportedInabilityTriggersFallback(t *testing.T) {
	tests := []struct {
		name string
		resp *module.Response
	}{
		{"reserved error code", module.Fail("nope", "UNKNOWN_COMMAND")},
		{"phrase marker", module.Fail("I don't understand what you want", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email := newStub("email", 10)
			email.score = 0.9
			email.handle = func(context.Context, string, *module.UserContext) (*module.Response, error) {
				return tt.resp, nil
			}
			general := newStub("general", 1)
			general.handle = okHandler("let me try instead")

			d := newTestDispatcher(email, general)

			resp, err := d.ProcessCommand(context.Background(), "do the thing", testUser(), "")
			require.NoError(t, err)
			require.True(t, resp.Success)
			assert.Equal(t, true, resp.Metadata[module.MetaIsFallback])
			assert.Equal(t, "email", resp.Metadata[module.MetaOriginalModule])
		})
	}
}

func TestProcessCommandDomainFailureReturnedAsIs(t *testing.T) {
	email := newStub("email", 10)
	email.score = 0.9
	email.handle = func(context.Context, string, *module.UserContext) (*module.Response, error) {
		return module.Fail("your mail server rejected the login", "MAIL_AUTH_FAILED"), nil
	}
	general := newStub("general", 1)
	general.handle = okHandler("should not run")

	d := newTestDispatcher(email, general)

	resp, err := d.ProcessCommand(context.Background(), "read emails", testUser(), "")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "MAIL_AUTH_FAILED", resp.ErrorCode)
	assert.Equal(t, false, resp.Metadata[module.MetaIsFallback])
	assert.EqualValues(t, 0, general.handleCalls.Load())
}

func TestProcessCommandSelfReportWithoutFallbackKeepsOriginal(t *testing.T) {
	email := newStub("email", 10)
	email.score = 0.9
	email.handle = func(context.Context, string, *module.UserContext) (*module.Response, error) {
		return module.Fail("cannot handle that", "CANNOT_HANDLE"), nil
	}

	d := newTestDispatcher(email)

	resp, err := d.ProcessCommand(context.Background(), "do the thing", testUser(), "")
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "CANNOT_HANDLE", resp.ErrorCode)
	requireMetadataComplete(t, resp)
}

func TestProcessCommandScoringPanicIsolated(t *testing.T) {
	bad := newStub("bad", 50)
	bad.scorePanics = true
	email := newStub("email", 10, "read emails")
	email.handle = okHandler("still works")

	d := newTestDispatcher(bad, email)

	resp, err := d.ProcessCommand(context.Background(), "read emails", testUser(), "")
	require.NoError(t, err)
	assert.Equal(t, "email", resp.Metadata[module.MetaModuleID])
	assert.EqualValues(t, 0, bad.handleCalls.Load())
}

func TestFindBestModuleProbesWithoutInvoking(t *testing.T) {
	email := newStub("email", 10, "read emails")
	d := newTestDispatcher(email)

	desc, confidence, ok := d.FindBestModule(context.Background(), "read my emails", testUser())
	require.True(t, ok)
	assert.Equal(t, "email", desc.ID)
	assert.InDelta(t, 0.8, confidence, 0.2)
	assert.EqualValues(t, 0, email.handleCalls.Load())

	_, _, ok = d.FindBestModule(context.Background(), "zzzqqq", testUser())
	assert.False(t, ok)
}

func TestFindBestModuleConfidenceClamped(t *testing.T) {
	wild := newStub("wild", 10)
	wild.score = 5.0
	d := newTestDispatcher(wild)

	_, confidence, ok := d.FindBestModule(context.Background(), "anything", testUser())
	require.True(t, ok)
	assert.LessOrEqual(t, confidence, 1.0)
	assert.GreaterOrEqual(t, confidence, 0.0)
}

// pendingModule scores like a phrase matcher until it has asked a question,
// then pins its confidence to the ceiling for that user's next input.
type pendingModule struct {
	stubModule
	awaiting map[string]bool
}

func (p *pendingModule) CanHandle(ctx context.Context, input string, user *module.UserContext) float64 {
	if user != nil && p.awaiting[user.UserID] {
		return 1.0
	}
	return p.stubModule.CanHandle(ctx, input, user)
}

func TestProcessCommandFollowUpRoutesBackToAskingModule(t *testing.T) {
	email := &pendingModule{awaiting: map[string]bool{}}
	email.Base = module.Base{ModuleID: "email", DisplayName: "email", Commands: []string{"read emails"}, ModulePriority: 10}
	email.score = -1
	email.handle = func(_ context.Context, input string, user *module.UserContext) (*module.Response, error) {
		if email.awaiting[user.UserID] {
			delete(email.awaiting, user.UserID)
			return module.OK("replying with: " + input), nil
		}
		email.awaiting[user.UserID] = true
		return module.OK("newest is from ada — reply, delete, or ignore?").AskFollowUp("reply, delete, or ignore?"), nil
	}
	general := newStub("general", 1)
	general.score = 0.5
	general.handle = okHandler("general answer")

	d := newTestDispatcher(email, general)
	user := testUser()

	resp, err := d.ProcessCommand(context.Background(), "read my emails", user, "")
	require.NoError(t, err)
	assert.Equal(t, "email", resp.Metadata[module.MetaModuleID])
	require.True(t, resp.RequiresFollowUp)

	// "reply" matches none of email's phrases, but the armed follow-up wins
	// over the general module's otherwise higher score.
	resp, err = d.ProcessCommand(context.Background(), "reply", user, "")
	require.NoError(t, err)
	assert.Equal(t, "email", resp.Metadata[module.MetaModuleID])
	assert.Equal(t, 1.0, resp.Metadata[module.MetaConfidence])
	assert.Contains(t, resp.Message, "replying with: reply")
}

func TestProcessCommandManyModulesConcurrentScoring(t *testing.T) {
	mods := make([]module.Module, 0, 40)
	for i := 0; i < 40; i++ {
		m := newStub(fmt.Sprintf("mod%02d", i), i)
		m.score = float64(i) / 100.0
		mods = append(mods, m)
	}
	winner := newStub("winner", 0)
	winner.score = 0.95
	winner.handle = okHandler("selected")
	mods = append(mods, winner)

	d := newTestDispatcher(mods...)

	resp, err := d.ProcessCommand(context.Background(), "pick me", testUser(), "")
	require.NoError(t, err)
	assert.Equal(t, "winner", resp.Metadata[module.MetaModuleID])
}

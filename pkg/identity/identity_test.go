package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veslabs/maestro/pkg/module"
)

func TestUserContextFromCopiesSession(t *testing.T) {
	s := &Session{
		UserID:      "u1",
		Email:       "u1@example.com",
		DisplayName: "User One",
		Provider:    "google",
		AccessToken: "tok",
		TokenExpiry: time.Now().Add(time.Hour),
		Scopes:      []string{"mail.read"},
		Claims:      map[string]string{"tenant": "acme"},
	}

	u := UserContextFrom(s)
	assert.Equal(t, "u1", u.UserID)
	assert.Equal(t, "google", u.Provider)
	assert.True(t, u.HasScope("mail.read"))

	// The snapshot is isolated from later session mutation.
	s.Scopes[0] = "mutated"
	s.Claims["tenant"] = "mutated"
	assert.Equal(t, "mail.read", u.Scopes[0])
	assert.Equal(t, "acme", u.Claims["tenant"])
}

func TestLocalProviderDefaults(t *testing.T) {
	p := &LocalProvider{}
	s, err := p.Resolve(context.Background(), "whatever")
	require.NoError(t, err)
	assert.Equal(t, "local", s.UserID)
	assert.Equal(t, "Local User", s.DisplayName)

	p = &LocalProvider{Session: Session{UserID: "ada", DisplayName: "Ada"}}
	s, err = p.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "ada", s.UserID)
}

func TestStaticTokenService(t *testing.T) {
	svc := StaticTokenService{}

	tok, err := svc.AccessToken(context.Background(), &module.UserContext{UserID: "u1", AccessToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)

	_, err = svc.AccessToken(context.Background(), &module.UserContext{UserID: "u1"})
	assert.Error(t, err)
}

func TestOAuthTokenServiceReturnsLiveTokenWithoutRefresh(t *testing.T) {
	svc := NewOAuthTokenService("id", "secret", "https://example.com/token", nil)

	tok, err := svc.AccessToken(context.Background(), &module.UserContext{
		UserID:      "u1",
		AccessToken: "live",
		TokenExpiry: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "live", tok)
}

func TestOAuthTokenServiceNeedsRefreshCredential(t *testing.T) {
	svc := NewOAuthTokenService("id", "secret", "https://example.com/token", nil)

	_, err := svc.AccessToken(context.Background(), &module.UserContext{
		UserID:      "u1",
		AccessToken: "stale",
		TokenExpiry: time.Now().Add(-time.Hour),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no refresh credential")
}

// Package identity adapts the external identity/session and credential
// services. The dispatcher never authenticates anyone; this package turns
// an already-authenticated session into a UserContext snapshot and lets
// modules exchange the opaque credential handles for live access tokens.
package identity

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/veslabs/maestro/pkg/module"
)

// Session is the authenticated-session payload supplied by the surrounding
// identity provider for each inbound request.
type Session struct {
	UserID       string            `json:"user_id"`
	Email        string            `json:"email"`
	DisplayName  string            `json:"display_name"`
	Provider     string            `json:"provider"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	TokenExpiry  time.Time         `json:"token_expiry"`
	Scopes       []string          `json:"scopes"`
	Claims       map[string]string `json:"claims"`
}

// Provider resolves an inbound request's bearer credential to a session.
// Implemented by the surrounding system; maestro only consumes it.
type Provider interface {
	Resolve(ctx context.Context, credential string) (*Session, error)
}

// UserContextFrom builds the immutable per-request snapshot modules receive.
func UserContextFrom(s *Session) *module.UserContext {
	claims := make(map[string]string, len(s.Claims))
	for k, v := range s.Claims {
		claims[k] = v
	}
	scopes := make([]string, len(s.Scopes))
	copy(scopes, s.Scopes)
	return &module.UserContext{
		UserID:       s.UserID,
		Email:        s.Email,
		DisplayName:  s.DisplayName,
		Provider:     s.Provider,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenExpiry:  s.TokenExpiry,
		Scopes:       scopes,
		Claims:       claims,
	}
}

// LocalProvider resolves every credential to one fixed local session. Used
// for single-user deployments and the REPL, where the surrounding identity
// system doesn't exist.
type LocalProvider struct {
	Session Session
}

// Resolve returns the fixed session regardless of credential.
func (p *LocalProvider) Resolve(_ context.Context, _ string) (*Session, error) {
	s := p.Session
	if s.UserID == "" {
		s.UserID = "local"
		s.DisplayName = "Local User"
		s.Provider = "local"
	}
	return &s, nil
}

var _ Provider = (*LocalProvider)(nil)

// ---------------------------------------------------------------------------
// Token service
// ---------------------------------------------------------------------------

// TokenService exchanges a user's opaque credential handles for a valid,
// non-expired access token. Modules call this before talking to third-party
// APIs; the dispatcher never does.
type TokenService interface {
	AccessToken(ctx context.Context, user *module.UserContext) (string, error)
}

// OAuthTokenService refreshes expired access tokens through an OAuth2
// endpoint using the user's refresh handle.
type OAuthTokenService struct {
	conf *oauth2.Config
}

// NewOAuthTokenService creates a token service for one OAuth2 application.
func NewOAuthTokenService(clientID, clientSecret, tokenURL string, scopes []string) *OAuthTokenService {
	return &OAuthTokenService{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
			Scopes:       scopes,
		},
	}
}

// AccessToken returns the user's current token, refreshing it when expired.
func (s *OAuthTokenService) AccessToken(ctx context.Context, user *module.UserContext) (string, error) {
	if user.AccessToken != "" && !user.TokenExpired() {
		return user.AccessToken, nil
	}
	if user.RefreshToken == "" {
		return "", fmt.Errorf("no refresh credential for user %s", user.UserID)
	}

	src := s.conf.TokenSource(ctx, &oauth2.Token{
		AccessToken:  user.AccessToken,
		RefreshToken: user.RefreshToken,
		Expiry:       user.TokenExpiry,
	})
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("refresh token for user %s: %w", user.UserID, err)
	}
	return tok.AccessToken, nil
}

// StaticTokenService hands back the access handle as-is. Used in tests and
// for providers whose tokens are managed entirely upstream.
type StaticTokenService struct{}

// AccessToken returns the snapshot's access handle unchanged.
func (StaticTokenService) AccessToken(_ context.Context, user *module.UserContext) (string, error) {
	if user.AccessToken == "" {
		return "", fmt.Errorf("no access credential for user %s", user.UserID)
	}
	return user.AccessToken, nil
}

var (
	_ TokenService = (*OAuthTokenService)(nil)
	_ TokenService = StaticTokenService{}
)

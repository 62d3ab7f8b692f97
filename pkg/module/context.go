package module

import "time"

// UserContext is an immutable snapshot of the authenticated caller,
// constructed per request by the identity layer and passed read-only into
// every module call. Credential handles are opaque; modules exchange them
// for usable tokens through identity.TokenService, never directly.
type UserContext struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Provider    string `json:"provider"`

	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenExpiry  time.Time `json:"token_expiry"`

	Scopes []string          `json:"scopes,omitempty"`
	Claims map[string]string `json:"claims,omitempty"`
}

// HasScope reports whether the user was granted a scope.
func (u *UserContext) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenExpired reports whether the access credential is past its expiry.
func (u *UserContext) TokenExpired() bool {
	return !u.TokenExpiry.IsZero() && time.Now().After(u.TokenExpiry)
}

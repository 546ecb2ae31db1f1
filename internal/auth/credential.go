package auth

import "time"

// DefaultRefreshBuffer is how long before expiry a credential is treated as expired.
const DefaultRefreshBuffer = 5 * time.Minute

// Credential holds the OAuth tokens and identity for one principal.
// ExpiresAt is always absolute Unix time in seconds.
type Credential struct {
	PrincipalID   int64  `json:"athlete_id"`
	PrincipalName string `json:"athlete_name"`
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	ExpiresAt     int64  `json:"expires_at"`
	TokenType     string `json:"token_type"`
	Scope         string `json:"scopes"`
}

// IsExpired reports whether the access token is expired or within the
// default refresh buffer of expiring.
func (c *Credential) IsExpired() bool {
	return c.ExpiredAt(time.Now(), DefaultRefreshBuffer)
}

// ExpiredAt reports whether now >= ExpiresAt - buffer.
func (c *Credential) ExpiredAt(now time.Time, buffer time.Duration) bool {
	return now.Unix() >= c.ExpiresAt-int64(buffer/time.Second)
}

// ExpiresIn returns the time remaining until the access token expires.
func (c *Credential) ExpiresIn(now time.Time) time.Duration {
	return time.Unix(c.ExpiresAt, 0).Sub(now)
}

// clone returns a copy so callers never share a stored pointer.
func (c *Credential) clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// normalize fills defaults for fields that may be absent in older documents.
func (c *Credential) normalize() {
	if c.TokenType == "" {
		c.TokenType = "Bearer"
	}
}

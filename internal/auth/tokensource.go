package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// TokenSource returns an oauth2.TokenSource for one principal. Downstream API
// clients use it (for example through oauth2.NewClient) and never touch the
// store or exchanger directly.
func (m *Manager) TokenSource(ctx context.Context, id int64) oauth2.TokenSource {
	return &principalTokenSource{ctx: ctx, mgr: m, id: id}
}

type principalTokenSource struct {
	ctx context.Context
	mgr *Manager
	id  int64
}

// Token implements oauth2.TokenSource.
func (s *principalTokenSource) Token() (*oauth2.Token, error) {
	cred := s.mgr.ValidCredential(s.ctx, s.id)
	if cred == nil {
		return nil, fmt.Errorf("%w: no valid token for athlete %d", ErrNeedsReauthorization, s.id)
	}
	return &oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   cred.TokenType,
		Expiry:      time.Unix(cred.ExpiresAt, 0),
	}, nil
}

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSource(t *testing.T) {
	ex := &fakeExchanger{refreshResult: refreshedCredential}
	m := newTestManager(t, ex)

	c := testCredential(42, "Test Athlete")
	require.NoError(t, m.Store().Save(c))

	tok, err := m.TokenSource(context.Background(), 42).Token()
	require.NoError(t, err)
	assert.Equal(t, c.AccessToken, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, time.Unix(c.ExpiresAt, 0), tok.Expiry)
	assert.True(t, tok.Valid())
}

func TestTokenSourceRefreshes(t *testing.T) {
	ex := &fakeExchanger{refreshResult: refreshedCredential}
	m := newTestManager(t, ex)

	c := testCredential(42, "Test Athlete")
	c.ExpiresAt = time.Now().Unix() - 1
	require.NoError(t, m.Store().Save(c))

	tok, err := m.TokenSource(context.Background(), 42).Token()
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Equal(t, 1, ex.refreshCount())
}

func TestTokenSourceUnknownPrincipal(t *testing.T) {
	m := newTestManager(t, &fakeExchanger{})

	_, err := m.TokenSource(context.Background(), 404).Token()
	assert.ErrorIs(t, err, ErrNeedsReauthorization)
}

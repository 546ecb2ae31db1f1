package commands

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthURL(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.run(NewAuthCmd(), "url"))

	data := decode[map[string]string](t, env.response(t).Data)
	u, err := url.Parse(data["url"])
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "http://127.0.0.1:0/callback", q.Get("redirect_uri"))
	assert.Equal(t, "activity:read_all", q.Get("scope"))
	assert.False(t, q.Has("client_secret"), "the client secret must never appear in the URL")
}

func TestAuthStatus(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, "One", time.Hour)
	env.seed(t, 2, "Two", time.Minute)
	env.seed(t, 3, "Three", -time.Hour)

	require.NoError(t, env.run(NewAuthCmd(), "status"))

	resp := env.response(t)
	data := decode[map[string]any](t, resp.Data)
	assert.EqualValues(t, 3, data["athletes"])
	assert.EqualValues(t, 1, data["valid"])
	assert.EqualValues(t, 2, data["expiring"])
	assert.True(t, strings.HasSuffix(data["store"].(string), "tokens.json"))
	assert.Equal(t, "3 athlete(s) authorized", resp.Summary)
}

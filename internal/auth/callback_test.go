package auth

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ephemeralRedirect = "http://127.0.0.1:0/callback"

func newTestListener(t *testing.T) *CallbackListener {
	t.Helper()
	l, err := NewCallbackListener(ephemeralRedirect, nil)
	require.NoError(t, err, "failed to start callback listener")
	t.Cleanup(l.Close)
	return l
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestCallbackListenerCapturesCode(t *testing.T) {
	l := newTestListener(t)

	status, body := get(t, l.CallbackURL()+"?code=ABC&scope=read")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Authorization Successful")

	result, err := l.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, CallbackResult{Code: "ABC"}, result)
	assert.Equal(t, OutcomeCode, result.Outcome())
}

func TestCallbackListenerCapturesError(t *testing.T) {
	l := newTestListener(t)

	status, body := get(t, l.CallbackURL()+"?error=access_denied")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "Authorization Failed")
	assert.Contains(t, body, "access_denied")

	result, err := l.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, CallbackResult{Error: "access_denied"}, result)
	assert.Equal(t, OutcomeError, result.Outcome())
}

func TestCallbackListenerTimeout(t *testing.T) {
	l := newTestListener(t)
	addr := l.Addr()

	start := time.Now()
	result, err := l.Await(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, result.Outcome())
	assert.Less(t, time.Since(start), 2*time.Second, "Await should return promptly after the timeout")

	_, dialErr := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	assert.Error(t, dialErr, "listener socket should be closed after timeout")
}

func TestCallbackListenerContextCancel(t *testing.T) {
	l := newTestListener(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := l.Await(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, result.Outcome())
}

func TestCallbackListenerFirstResultWins(t *testing.T) {
	l := newTestListener(t)

	status, _ := get(t, l.CallbackURL()+"?code=FIRST")
	assert.Equal(t, http.StatusOK, status)

	status, _ = get(t, l.CallbackURL()+"?code=SECOND")
	assert.Equal(t, http.StatusOK, status, "later requests are still acknowledged")

	status, _ = get(t, l.CallbackURL()+"?error=access_denied")
	assert.Equal(t, http.StatusBadRequest, status)

	result, err := l.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "FIRST", result.Code)
	assert.Empty(t, result.Error)
}

func TestCallbackListenerOtherPathIs404(t *testing.T) {
	l := newTestListener(t)

	status, _ := get(t, "http://"+l.Addr()+"/favicon.ico?code=XYZ")
	assert.Equal(t, http.StatusNotFound, status)

	result, err := l.Await(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, result.Outcome(), "non-callback paths must not affect the result")
}

func TestCallbackListenerMissingParams(t *testing.T) {
	l := newTestListener(t)

	status, body := get(t, l.CallbackURL())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "Authorization Failed")

	status, _ = get(t, l.CallbackURL()+"?code=LATE")
	assert.Equal(t, http.StatusOK, status)

	result, err := l.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "LATE", result.Code, "a request without code or error must not freeze the result")
}

func TestCallbackListenerBindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	_, err = NewCallbackListener("http://"+occupied.Addr().String()+"/callback", nil)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr), "bind failure should be a ConfigurationError, got %T", err)
	assert.Equal(t, "redirect_uri", cfgErr.Field)
}

func TestCallbackListenerCustomPath(t *testing.T) {
	l, err := NewCallbackListener("http://127.0.0.1:0/oauth/return", nil)
	require.NoError(t, err)
	defer l.Close()

	status, _ := get(t, "http://"+l.Addr()+"/oauth/return?code=P")
	assert.Equal(t, http.StatusOK, status)

	status, _ = get(t, "http://"+l.Addr()+"/callback?code=Q")
	assert.Equal(t, http.StatusNotFound, status)

	result, err := l.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "P", result.Code)
}

func TestCallbackListenerCloseIsIdempotent(t *testing.T) {
	l := newTestListener(t)
	l.Close()
	l.Close()
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "code", OutcomeCode.String())
	assert.Equal(t, "error", OutcomeError.String())
	assert.Equal(t, "timeout", OutcomeTimeout.String())
}

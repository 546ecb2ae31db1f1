package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checksByName(checks []Check) map[string]Check {
	m := make(map[string]Check, len(checks))
	for _, c := range checks {
		m[c.Name] = c
	}
	return m
}

func TestDoctorHealthy(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	env := newTestEnv(t)
	env.seed(t, 42, "Test", time.Hour)

	require.NoError(t, env.run(NewDoctorCmd()))

	result := decode[DoctorResult](t, env.response(t).Data)
	checks := checksByName(result.Checks)

	assert.Equal(t, "pass", checks["OAuth Client"].Status)
	assert.Equal(t, "pass", checks["Redirect URI"].Status)
	assert.Equal(t, "pass", checks["Credential Store"].Status)
	assert.Contains(t, checks["Credential Store"].Message, "(1 athlete)")
	assert.Equal(t, "pass", checks["Athlete 42"].Status)
	assert.Equal(t, "pass", checks["Token Endpoint"].Status, checks["Token Endpoint"].Hint)
	assert.Zero(t, result.Failed)
}

func TestDoctorMissingClient(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	env := newTestEnv(t)
	env.app.Config.ClientID = ""

	require.NoError(t, env.run(NewDoctorCmd()))

	resp := env.response(t)
	result := decode[DoctorResult](t, resp.Data)
	checks := checksByName(result.Checks)

	assert.Equal(t, "fail", checks["OAuth Client"].Status)
	assert.Contains(t, checks["OAuth Client"].Message, "STRAVA_CLIENT_ID")
	assert.Equal(t, "skip", checks["Credential Store"].Status)
	assert.Equal(t, "skip", checks["Token Endpoint"].Status)
	require.NotEmpty(t, resp.Breadcrumbs)
	assert.Equal(t, "coachsync config show", resp.Breadcrumbs[0].Cmd)
}

func TestDoctorWarnings(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	env := newTestEnv(t)
	env.app.Config.RedirectURI = "http://coach.example.com:8089/callback"
	env.seed(t, 42, "Test", time.Minute)

	require.NoError(t, env.run(NewDoctorCmd(), "--offline"))

	resp := env.response(t)
	result := decode[DoctorResult](t, resp.Data)
	checks := checksByName(result.Checks)

	assert.Equal(t, "warn", checks["Redirect URI"].Status)
	assert.Equal(t, "warn", checks["Athlete 42"].Status)
	assert.Equal(t, "skip", checks["Token Endpoint"].Status)

	var cmds []string
	for _, b := range resp.Breadcrumbs {
		cmds = append(cmds, b.Cmd)
	}
	assert.Contains(t, cmds, "coachsync athletes refresh 42")
}

func TestValidateConfigFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"client_id": "1"}`), 0600))
	require.NoError(t, os.WriteFile(bad, []byte(`{client_id`), 0600))

	assert.Equal(t, "pass", validateConfigFile(good, "Global Config").Status)

	check := validateConfigFile(bad, "Local Config")
	assert.Equal(t, "fail", check.Status)
	assert.Contains(t, check.Message, "Invalid JSON")
}

func TestDoctorResultSummary(t *testing.T) {
	tests := []struct {
		result DoctorResult
		want   string
	}{
		{DoctorResult{Passed: 3}, "All 3 checks passed"},
		{DoctorResult{Passed: 3, Skipped: 1}, "All 3 checks passed, 1 skipped"},
		{DoctorResult{Passed: 2, Failed: 1, Warned: 1}, "2 passed, 1 failed, 1 warning"},
		{DoctorResult{Warned: 2}, "2 warnings"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.result.Summary())
	}
}

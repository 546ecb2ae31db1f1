package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/coachsync/coachsync/internal/appctx"
	"github.com/coachsync/coachsync/internal/auth"
	"github.com/coachsync/coachsync/internal/config"
	"github.com/coachsync/coachsync/internal/output"
)

// testEnv is an App wired to in-memory output and a fake token endpoint.
type testEnv struct {
	app    *appctx.App
	out    *bytes.Buffer
	stderr *bytes.Buffer
	tokens *fakeTokenEndpoint
}

// fakeTokenEndpoint answers /oauth/token with a fixed status and body.
type fakeTokenEndpoint struct {
	*httptest.Server
	status int
	body   map[string]any
	calls  atomic.Int32

	mu    sync.Mutex
	forms []url.Values
}

func (f *fakeTokenEndpoint) lastForm() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.forms) == 0 {
		return nil
	}
	return f.forms[len(f.forms)-1]
}

func newFakeTokenEndpoint(t *testing.T) *fakeTokenEndpoint {
	t.Helper()
	f := &fakeTokenEndpoint{
		status: http.StatusOK,
		body: map[string]any{
			"access_token":  "access-new",
			"refresh_token": "refresh-new",
			"expires_at":    time.Now().Add(6 * time.Hour).Unix(),
			"token_type":    "Bearer",
			"athlete":       map[string]any{"id": 42, "firstname": "Test", "lastname": "Athlete"},
		},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		f.calls.Add(1)
		_ = r.ParseForm()
		f.mu.Lock()
		f.forms = append(f.forms, r.PostForm)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(f.body)
	}))
	t.Cleanup(f.Close)
	return f
}

func newTestEnv(t *testing.T, opts ...auth.ManagerOption) *testEnv {
	t.Helper()

	tokens := newFakeTokenEndpoint(t)

	cfg := config.Default()
	cfg.ClientID = "cid"
	cfg.ClientSecret = "sec"
	cfg.RedirectURI = "http://127.0.0.1:0/callback"
	cfg.TokenURL = tokens.URL + "/oauth/token"
	cfg.TokenFile = filepath.Join(t.TempDir(), "tokens.json")

	env := &testEnv{
		out:    &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		tokens: tokens,
	}
	env.app = appctx.NewApp(cfg)
	env.app.Output = output.New(output.Options{Format: output.FormatJSON, Writer: env.out})
	env.app.Stderr = env.stderr
	env.app.Flags.JSON = true
	env.app.ApplyFlags()
	env.app.ManagerOptions = append([]auth.ManagerOption{auth.WithBrowser(nil)}, opts...)

	return env
}

func (e *testEnv) context() context.Context {
	return appctx.WithApp(context.Background(), e.app)
}

// run executes cmd with args against the env's App.
func (e *testEnv) run(cmd *cobra.Command, args ...string) error {
	e.out.Reset()
	cmd.SetArgs(args)
	cmd.SetOut(e.out)
	cmd.SetErr(e.stderr)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd.ExecuteContext(e.context())
}

func (e *testEnv) manager(t *testing.T) *auth.Manager {
	t.Helper()
	mgr, err := e.app.Auth()
	require.NoError(t, err)
	return mgr
}

// seed stores a credential expiring in expiresIn.
func (e *testEnv) seed(t *testing.T, id int64, name string, expiresIn time.Duration) {
	t.Helper()
	require.NoError(t, e.manager(t).Store().Save(&auth.Credential{
		PrincipalID:   id,
		PrincipalName: name,
		AccessToken:   "access-" + name,
		RefreshToken:  "refresh-" + name,
		ExpiresAt:     time.Now().Add(expiresIn).Unix(),
		TokenType:     "Bearer",
		Scope:         auth.DefaultScope,
	}))
}

type envelope struct {
	OK          bool                `json:"ok"`
	Data        json.RawMessage     `json:"data"`
	Summary     string              `json:"summary"`
	Breadcrumbs []output.Breadcrumb `json:"breadcrumbs"`
}

func (e *testEnv) response(t *testing.T) envelope {
	t.Helper()
	var resp envelope
	require.NoError(t, json.Unmarshal(e.out.Bytes(), &resp), "output: %s", e.out.String())
	require.True(t, resp.OK)
	return resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// authorizeVia returns a browser stand-in that follows the authorization
// URL's redirect_uri with query appended.
func authorizeVia(t *testing.T, query string) func(string) error {
	t.Helper()
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		redirect := u.Query().Get("redirect_uri")
		go func() {
			resp, err := http.Get(redirect + "?" + query)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, output.AsError(err).Code, "error: %v", err)
}

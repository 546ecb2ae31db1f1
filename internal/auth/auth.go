// Package auth obtains and maintains Strava OAuth credentials for many
// athletes on behalf of one coach.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cli/browser"
	"golang.org/x/sync/singleflight"
)

// State is where a principal sits in the credential lifecycle.
type State int

const (
	StateUnregistered State = iota
	StateValid
	StateExpiring
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateExpiring:
		return "expiring"
	default:
		return "unregistered"
	}
}

// Manager composes the URL builder, callback listener, token exchanger, and
// credential store into the add and get-valid flows.
type Manager struct {
	cfg         OAuthConfig
	store       *Store
	exchanger   Exchanger
	httpClient  *http.Client
	logger      *slog.Logger
	openURL     func(url string) error
	prompt      io.Writer
	buffer      time.Duration
	authTimeout time.Duration
	now         func() time.Time

	attempt   sync.Mutex
	refreshes singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore sets the credential store. By default a file store at
// OAuthConfig.StoreLocation is used.
func WithStore(s *Store) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithExchanger replaces the token endpoint client.
func WithExchanger(e Exchanger) ManagerOption {
	return func(m *Manager) { m.exchanger = e }
}

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithBrowser sets the function used to open the authorization URL.
// Pass nil to never open a browser.
func WithBrowser(fn func(url string) error) ManagerOption {
	return func(m *Manager) { m.openURL = fn }
}

// WithPrompt sets where operator-facing instructions are written.
func WithPrompt(w io.Writer) ManagerOption {
	return func(m *Manager) { m.prompt = w }
}

// WithRefreshBuffer sets how long before expiry a credential is refreshed.
func WithRefreshBuffer(d time.Duration) ManagerOption {
	return func(m *Manager) { m.buffer = d }
}

// WithAuthTimeout sets the default bound for an authorization attempt.
func WithAuthTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.authTimeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager validates cfg and builds a Manager. A *ConfigurationError is
// returned if the client ID or secret is missing.
func NewManager(cfg OAuthConfig, opts ...ManagerOption) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg.withDefaults(),
		openURL:     browser.OpenURL,
		prompt:      os.Stderr,
		buffer:      DefaultRefreshBuffer,
		authTimeout: DefaultAuthTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if m.prompt == nil {
		m.prompt = io.Discard
	}
	if m.store == nil {
		m.store = NewStore(m.cfg.StoreLocation, m.logger)
	}
	if m.exchanger == nil {
		m.exchanger = NewTokenExchanger(m.cfg, m.httpClient)
	}

	return m, nil
}

// Config returns the immutable client configuration.
func (m *Manager) Config() OAuthConfig {
	return m.cfg
}

// Store returns the credential store.
func (m *Manager) Store() *Store {
	return m.store
}

// AuthorizationURL returns the URL a principal must visit to grant access.
func (m *Manager) AuthorizationURL() (string, error) {
	return BuildAuthorizationURL(m.cfg)
}

// AuthorizeOptions configures one authorization attempt.
type AuthorizeOptions struct {
	Timeout   time.Duration
	NoBrowser bool // If true, only print the URL
}

// AddPrincipal runs the authorization flow for a new principal and stores
// the resulting credential. It returns nil on denial, timeout, or exchange
// failure, logging the specific reason.
func (m *Manager) AddPrincipal(ctx context.Context, timeout time.Duration) *Credential {
	cred, err := m.Authorize(ctx, AuthorizeOptions{Timeout: timeout})
	if err != nil {
		m.logAuthorizeFailure(err)
		return nil
	}
	return cred
}

// Authorize is AddPrincipal with the failure reason returned as an error.
func (m *Manager) Authorize(ctx context.Context, opts AuthorizeOptions) (*Credential, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.authTimeout
	}

	if !m.attempt.TryLock() {
		return nil, ErrAttemptInProgress
	}
	defer m.attempt.Unlock()

	listener, err := NewCallbackListener(m.cfg.RedirectURI, m.logger)
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	urlCfg := m.cfg
	if ephemeralPort(m.cfg.RedirectURI) {
		urlCfg.RedirectURI = listener.CallbackURL()
	}
	authURL, err := BuildAuthorizationURL(urlCfg)
	if err != nil {
		return nil, err
	}

	m.logger.Info("waiting for authorization", "listen", listener.Addr(), "timeout", timeout.String())
	if !opts.NoBrowser && m.openURL != nil {
		if err := m.openURL(authURL); err != nil {
			m.logger.Warn("could not open browser automatically", "error", err.Error())
		}
	}
	fmt.Fprintf(m.prompt, "\nPlease authorize the application in your browser.\n")
	fmt.Fprintf(m.prompt, "If the browser doesn't open, visit: %s\n", authURL)
	fmt.Fprintf(m.prompt, "Waiting for authorization (timeout: %s)...\n\n", timeout)

	result, err := listener.Await(ctx, timeout)
	if err != nil {
		return nil, err
	}

	switch result.Outcome() {
	case OutcomeError:
		return nil, &AuthorizationError{Reason: result.Error}
	case OutcomeTimeout:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrAuthorizationTimeout
	}

	return m.exchangeAndSave(ctx, result.Code, urlCfg.RedirectURI)
}

// AddPrincipalWithCode completes an authorization that happened elsewhere:
// the operator opened AuthorizationURL on another device and pasted back the
// code, or the whole redirect URL, it produced. No listener is started.
func (m *Manager) AddPrincipalWithCode(ctx context.Context, input string) (*Credential, error) {
	code, err := ParseAuthorizationCode(input)
	if err != nil {
		return nil, err
	}
	return m.exchangeAndSave(ctx, code, m.cfg.RedirectURI)
}

func (m *Manager) exchangeAndSave(ctx context.Context, code, redirectURI string) (*Credential, error) {
	cred, err := m.exchanger.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(cred); err != nil {
		return nil, fmt.Errorf("failed to persist credential for athlete %d: %w", cred.PrincipalID, err)
	}

	m.logger.Info("authorized athlete",
		"athlete_id", cred.PrincipalID,
		"athlete_name", cred.PrincipalName,
	)
	return cred.clone(), nil
}

// ParseAuthorizationCode accepts a bare authorization code or a redirect URL
// carrying one. A redirect URL with an error parameter yields an
// *AuthorizationError.
func ParseAuthorizationCode(input string) (string, error) {
	input = strings.TrimSpace(input)
	if !strings.Contains(input, "://") {
		if input == "" {
			return "", ErrMissingCode
		}
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingCode, err)
	}
	q := u.Query()
	if reason := q.Get("error"); reason != "" {
		return "", &AuthorizationError{Reason: reason}
	}
	if code := q.Get("code"); code != "" {
		return code, nil
	}
	return "", ErrMissingCode
}

// ValidCredential returns a non-expired credential for id, refreshing it
// first if it is within the refresh buffer. It returns nil if id is unknown
// or the refresh fails; a failed refresh leaves the stored credential intact.
func (m *Manager) ValidCredential(ctx context.Context, id int64) *Credential {
	cred, ok := m.store.Get(id)
	if !ok {
		m.logger.Debug("no credential stored", "athlete_id", id)
		return nil
	}
	if !cred.ExpiredAt(m.now(), m.buffer) {
		return cred
	}

	m.logger.Info("token expired, refreshing", "athlete_id", id)
	updated, err := m.refresh(ctx, id, false)
	if err != nil {
		m.logger.Error("failed to refresh token",
			"athlete_id", id,
			"error", err.Error(),
		)
		return nil
	}
	return updated
}

// RefreshPrincipal refreshes id's credential regardless of its expiry.
// A failed exchange is reported as ErrNeedsReauthorization.
func (m *Manager) RefreshPrincipal(ctx context.Context, id int64) (*Credential, error) {
	return m.refresh(ctx, id, true)
}

// refresh performs at most one token refresh per principal at a time;
// concurrent callers for the same id share the result. Unless force is set,
// the stored credential is re-checked first, so a caller that lost the race
// to another refresh gets that refresh's result instead of starting a second.
func (m *Manager) refresh(ctx context.Context, id int64, force bool) (*Credential, error) {
	v, err, _ := m.refreshes.Do(strconv.FormatInt(id, 10), func() (any, error) {
		cred, ok := m.store.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: athlete %d", ErrPrincipalNotFound, id)
		}
		if !force && !cred.ExpiredAt(m.now(), m.buffer) {
			return cred, nil
		}

		updated, err := m.exchanger.ExchangeRefresh(ctx, cred)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNeedsReauthorization, err)
		}
		if err := m.store.Save(updated); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
		}

		m.logger.Info("refreshed token",
			"athlete_id", updated.PrincipalID,
			"athlete_name", updated.PrincipalName,
		)
		return updated, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credential).clone(), nil
}

// ListPrincipals returns principal ID to display name for every stored credential.
func (m *Manager) ListPrincipals() map[int64]string {
	return m.store.List()
}

// RemovePrincipal deletes id's credential. It reports false if none was stored.
func (m *Manager) RemovePrincipal(id int64) bool {
	removed, err := m.store.Delete(id)
	if err != nil {
		m.logger.Error("failed to remove athlete", "athlete_id", id, "error", err.Error())
		return false
	}
	return removed
}

// PrincipalStatus reports id's lifecycle state without contacting the provider.
func (m *Manager) PrincipalStatus(id int64) State {
	cred, ok := m.store.Get(id)
	if !ok {
		return StateUnregistered
	}
	if cred.ExpiredAt(m.now(), m.buffer) {
		return StateExpiring
	}
	return StateValid
}

func (m *Manager) logAuthorizeFailure(err error) {
	var denied *AuthorizationError
	var exchange *ExchangeError
	var cfgErr *ConfigurationError

	switch {
	case errors.As(err, &denied):
		m.logger.Error("authorization failed", "reason", denied.Reason)
	case errors.Is(err, ErrAuthorizationTimeout):
		m.logger.Error("authorization timed out")
	case errors.As(err, &exchange):
		m.logger.Error("failed to exchange code for token", "error", exchange.Error())
	case errors.As(err, &cfgErr):
		m.logger.Error("callback listener unavailable", "error", cfgErr.Error())
	case errors.Is(err, ErrAttemptInProgress):
		m.logger.Error("authorization not started", "error", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		m.logger.Error("authorization cancelled", "error", err.Error())
	default:
		m.logger.Error("authorization failed", "error", err.Error())
	}
}

// ephemeralPort reports whether redirectURI asks for an OS-assigned port.
func ephemeralPort(redirectURI string) bool {
	u, err := url.Parse(redirectURI)
	return err == nil && u.Port() == "0"
}

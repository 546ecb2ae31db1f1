package auth

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultCallbackPort is used when the redirect URI has no explicit port.
const DefaultCallbackPort = "8089"

const (
	defaultCallbackHost = "localhost"
	defaultCallbackPath = "/callback"
	shutdownGrace       = 2 * time.Second
)

//go:embed templates/callback_success.html
var callbackSuccessHTML string

//go:embed templates/callback_error.html
var callbackErrorHTML string

var (
	successTmpl = template.Must(template.New("success").Parse(callbackSuccessHTML))
	errorTmpl   = template.Must(template.New("error").Parse(callbackErrorHTML))
)

// Outcome classifies a finished authorization attempt.
type Outcome int

const (
	OutcomeTimeout Outcome = iota
	OutcomeCode
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCode:
		return "code"
	case OutcomeError:
		return "error"
	default:
		return "timeout"
	}
}

// CallbackResult is what one authorization attempt produced. At most one of
// Code and Error is set; neither means no callback arrived in time.
type CallbackResult struct {
	Code  string
	Error string
}

// Outcome reports which of the three states r is in.
func (r CallbackResult) Outcome() Outcome {
	switch {
	case r.Code != "":
		return OutcomeCode
	case r.Error != "":
		return OutcomeError
	default:
		return OutcomeTimeout
	}
}

// CallbackListener is a short-lived local HTTP server that captures exactly
// one OAuth redirect. Create one per authorization attempt.
type CallbackListener struct {
	path     string
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger

	resultCh  chan CallbackResult
	serveErr  chan error
	once      sync.Once
	closeOnce sync.Once
}

// NewCallbackListener binds the host and port of redirectURI and starts
// serving. A bind failure is returned as a *ConfigurationError.
func NewCallbackListener(redirectURI string, logger *slog.Logger) (*CallbackListener, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, &ConfigurationError{Field: "redirect_uri", Cause: err}
	}

	host := u.Hostname()
	if host == "" {
		host = defaultCallbackHost
	}
	port := u.Port()
	if port == "" {
		port = DefaultCallbackPort
	}
	path := u.Path
	if path == "" {
		path = defaultCallbackPath
	}

	addr := net.JoinHostPort(host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &ConfigurationError{
			Field:   "redirect_uri",
			Message: fmt.Sprintf("failed to start callback listener on %s", addr),
			Cause:   err,
		}
	}

	l := &CallbackListener{
		path:     path,
		listener: ln,
		logger:   logger,
		resultCh: make(chan CallbackResult, 1),
		serveErr: make(chan error, 1),
	}
	l.server = &http.Server{
		Handler:           l,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case l.serveErr <- err:
			default:
			}
		}
	}()

	return l, nil
}

// Addr returns the address the listener is bound to.
func (l *CallbackListener) Addr() string {
	return l.listener.Addr().String()
}

// CallbackURL returns the URL of the callback path on the bound address.
func (l *CallbackListener) CallbackURL() string {
	return "http://" + l.Addr() + l.path
}

// Await blocks until the first code or error arrives, the timeout elapses, or
// ctx is done. The listener is always closed before Await returns. A timeout
// is not an error: it is reported as a result with OutcomeTimeout.
func (l *CallbackListener) Await(ctx context.Context, timeout time.Duration) (CallbackResult, error) {
	defer l.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case result := <-l.resultCh:
		return result, nil
	case err := <-l.serveErr:
		return CallbackResult{}, fmt.Errorf("callback listener failed: %w", err)
	case <-ctx.Done():
		return CallbackResult{}, nil
	}
}

// Close shuts the server down and releases the socket. It is safe to call
// more than once.
func (l *CallbackListener) Close() {
	l.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := l.server.Shutdown(ctx); err != nil {
			_ = l.server.Close()
		}
		_ = l.listener.Close()
	})
}

// ServeHTTP handles the redirect. Only the first code or error is recorded;
// later requests still get a page but do not change the result.
func (l *CallbackListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != l.path {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	query := r.URL.Query()
	code := query.Get("code")
	reason := query.Get("error")

	switch {
	case code != "":
		l.record(CallbackResult{Code: code})
		l.render(w, http.StatusOK, successTmpl, nil)
	case reason != "":
		l.record(CallbackResult{Error: reason})
		l.render(w, http.StatusBadRequest, errorTmpl, map[string]string{"Reason": reason})
	default:
		l.logger.Debug("callback request without code or error", "path", r.URL.Path)
		l.render(w, http.StatusBadRequest, errorTmpl, map[string]string{})
	}
}

func (l *CallbackListener) record(result CallbackResult) {
	recorded := false
	l.once.Do(func() {
		recorded = true
		l.resultCh <- result
	})
	if !recorded {
		l.logger.Debug("ignoring callback after result was captured", "outcome", result.Outcome().String())
	}
}

func (l *CallbackListener) render(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		l.logger.Debug("failed to render callback page", "error", err.Error())
	}
}

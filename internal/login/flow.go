package login

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/cli/browser"
	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/hopx-ai/hopx-cli/internal/credentials"
	"github.com/hopx-ai/hopx-cli/internal/observability"
	"github.com/hopx-ai/hopx-cli/internal/tokensource"
)

const (
	// CallbackPath is where the authorization server redirects after consent.
	CallbackPath = "/callback"

	// DefaultCallbackPort is registered as redirect port for the hopx CLI client.
	DefaultCallbackPort = 8976

	// DefaultTimeout bounds the whole interactive flow.
	DefaultTimeout = 5 * time.Minute

	callbackHost = "127.0.0.1"
)

// ErrTimeout is returned when no authorization arrives before the flow times out.
var ErrTimeout = errors.New("login timed out")

// Options selects how the authorization URL is presented.
type Options struct {
	// Headless skips the callback server and the browser; the redirect URL is read from input.
	Headless bool
	// NoQR suppresses the QR code rendering of the authorization URL.
	NoQR bool
	// NoBrowser keeps the browser closed in browser mode.
	NoBrowser bool
	// NoCopy leaves the system clipboard untouched.
	NoCopy bool
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithCallbackPort sets the loopback callback port. 0 picks any free port in browser mode.
func WithCallbackPort(port int) FlowOption {
	return func(f *Flow) {
		f.port = port
	}
}

// WithTimeout bounds the interactive part of the flow.
func WithTimeout(timeout time.Duration) FlowOption {
	return func(f *Flow) {
		f.timeout = timeout
	}
}

// WithOutput sets where instructions and the QR code are written.
func WithOutput(w io.Writer) FlowOption {
	return func(f *Flow) {
		f.out = w
	}
}

// WithInput sets where the pasted redirect URL is read from in headless mode.
func WithInput(r io.Reader) FlowOption {
	return func(f *Flow) {
		f.in = r
	}
}

// WithBrowser replaces the function opening the authorization URL.
func WithBrowser(open func(string) error) FlowOption {
	return func(f *Flow) {
		f.openURL = open
	}
}

// WithClipboard replaces the function copying the authorization URL to the clipboard.
func WithClipboard(copyText func(string) error) FlowOption {
	return func(f *Flow) {
		f.copyURL = copyText
	}
}

// Flow runs interactive logins for one profile and stores the resulting token.
type Flow struct {
	refresher *tokensource.Refresher
	store     *credentials.Store
	port      int
	timeout   time.Duration
	out       io.Writer
	in        io.Reader
	openURL   func(string) error
	copyURL   func(string) error
}

// NewFlow creates a Flow. The refresher supplies the OAuth client configuration and
// the HTTP client used for the code exchange.
func NewFlow(refresher *tokensource.Refresher, store *credentials.Store, opts ...FlowOption) (*Flow, error) {
	if refresher == nil {
		return nil, fmt.Errorf("missing token refresher")
	}
	if store == nil {
		return nil, fmt.Errorf("missing credential store")
	}

	f := &Flow{
		refresher: refresher,
		store:     store,
		port:      DefaultCallbackPort,
		timeout:   DefaultTimeout,
		out:       os.Stderr,
		in:        os.Stdin,
		openURL:   browser.OpenURL,
		copyURL:   clipboard.WriteAll,
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.port < 0 || f.port > 65535 {
		return nil, fmt.Errorf("invalid callback port: %d", f.port)
	}
	return f, nil
}

// Login runs the authorization code flow and stores the token for the profile.
func (f *Flow) Login(ctx context.Context, opts Options) (credentials.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	verifier := oauth2.GenerateVerifier()
	id := uuid.New()
	state := id.String()
	ctx = observability.WithCorrelation(ctx, id)

	var (
		code string
		err  error
	)
	config := *f.refresher.Config()

	if opts.Headless {
		if f.port == 0 {
			return credentials.Token{}, fmt.Errorf("headless login requires a fixed callback port")
		}
		config.RedirectURL = redirectURL(f.port)
		f.present(ctx, config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), opts)
		code, err = f.readRedirect(ctx, state)
	} else {
		code, err = f.awaitCallback(ctx, &config, state, verifier, opts)
	}
	if err != nil {
		return credentials.Token{}, err
	}

	slog.DebugContext(ctx, "exchanging authorization code", "profile", f.store.Profile())

	tok, err := config.Exchange(f.refresher.Context(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return credentials.Token{}, fmt.Errorf("exchanging authorization code: %w", err)
	}

	token := credentials.TokenFromOAuth2(tok)
	if err := f.store.StoreOAuthToken(ctx, token); err != nil {
		return credentials.Token{}, fmt.Errorf("storing oauth token: %w", err)
	}

	slog.InfoContext(ctx, "login succeeded", "profile", f.store.Profile())
	return token, nil
}

// awaitCallback serves the loopback redirect target until the first callback
// arrives or ctx ends. config.RedirectURL is set to the bound address.
func (f *Flow) awaitCallback(ctx context.Context, config *oauth2.Config, state, verifier string, opts Options) (string, error) {
	// Listen before presenting the URL so the redirect cannot race the server
	listener, err := net.Listen("tcp", net.JoinHostPort(callbackHost, strconv.Itoa(f.port)))
	if err != nil {
		return "", fmt.Errorf("failed to listen for callback: %w", err)
	}
	defer func() { _ = listener.Close() }()
	config.RedirectURL = redirectURL(listener.Addr().(*net.TCPAddr).Port)

	results := make(chan callbackResult, 1)
	server := &http.Server{
		Handler:           newCallbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("callback server: %w", err)
		}
		return nil
	})

	var code string
	g.Go(func() error {
		defer shutdown(server)

		select {
		case res := <-results:
			if res.err != nil {
				return res.err
			}
			code = res.code
			return nil
		case <-gCtx.Done():
			return waitError(gCtx)
		}
	})

	slog.DebugContext(ctx, "callback server listening", "redirect_url", config.RedirectURL)

	authURL := config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	f.present(ctx, authURL, opts)
	if !opts.NoBrowser {
		if err := f.openURL(authURL); err != nil {
			slog.WarnContext(ctx, "failed to open browser", "error", err)
		}
	}

	if err := g.Wait(); err != nil {
		return "", err
	}
	return code, nil
}

// readRedirect reads the pasted redirect URL from input.
func (f *Flow) readRedirect(ctx context.Context, state string) (string, error) {
	_, _ = fmt.Fprint(f.out, "Paste the URL of the page you were redirected to: ")

	// The reader goroutine outlives a cancelled flow until input arrives or the process exits
	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(f.in).ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			errs <- fmt.Errorf("reading redirect url: %w", err)
			return
		}
		lines <- line
	}()

	select {
	case line := <-lines:
		query, err := redirectQuery(line)
		if err != nil {
			return "", err
		}
		return parseCallback(query, state)
	case err := <-errs:
		return "", err
	case <-ctx.Done():
		return "", waitError(ctx)
	}
}

func (f *Flow) present(ctx context.Context, authURL string, opts Options) {
	_, _ = fmt.Fprintf(f.out, "Open the following URL to log in:\n\n  %s\n\n", authURL)
	if !opts.NoCopy {
		// Headless sessions often have no clipboard; the printed URL is enough
		if err := f.copyURL(authURL); err != nil {
			slog.DebugContext(ctx, "copying authorization url to clipboard failed", "error", err)
		} else {
			_, _ = fmt.Fprintln(f.out, "The URL has been copied to your clipboard.")
			_, _ = fmt.Fprintln(f.out)
		}
	}
	if !opts.NoQR {
		qrterminal.GenerateHalfBlock(authURL, qrterminal.L, f.out)
		_, _ = fmt.Fprintln(f.out)
	}
	slog.DebugContext(ctx, "authorization url presented", "profile", f.store.Profile(), "headless", opts.Headless)
}

type callbackResult struct {
	code string
	err  error
}

// newCallbackHandler reports the first callback on results; later callbacks are rejected.
func newCallbackHandler(state string, results chan<- callbackResult) http.Handler {
	var once sync.Once

	callback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handled := false
		once.Do(func() {
			handled = true

			code, err := parseCallback(r.URL.Query(), state)
			results <- callbackResult{code: code, err: err}

			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, failurePage)
				return
			}
			_, _ = io.WriteString(w, successPage)
		})
		if !handled {
			http.Error(w, "Callback already processed", http.StatusBadRequest)
		}
	})

	mux := http.NewServeMux()
	mux.Handle("GET "+CallbackPath, observability.Chain(callback,
		observability.Logging(slog.Default()),
		observability.Recovery,
	))
	return mux
}

// parseCallback validates the redirect parameters and returns the authorization code.
func parseCallback(query url.Values, state string) (string, error) {
	if e := query.Get("error"); e != "" {
		if desc := query.Get("error_description"); desc != "" {
			return "", fmt.Errorf("authorization denied: %s: %s", e, desc)
		}
		return "", fmt.Errorf("authorization denied: %s", e)
	}
	if query.Get("state") != state {
		return "", fmt.Errorf("invalid state parameter")
	}
	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("missing authorization code")
	}
	return code, nil
}

// redirectQuery accepts a full redirect URL or just its query string.
func redirectQuery(input string) (url.Values, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty redirect url")
	}

	if !strings.Contains(input, "://") {
		return url.ParseQuery(strings.TrimPrefix(input, "?"))
	}

	u, err := url.Parse(input)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect url: %w", err)
	}
	return u.Query(), nil
}

func redirectURL(port int) string {
	return "http://" + net.JoinHostPort(callbackHost, strconv.Itoa(port)) + CallbackPath
}

func waitError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

func shutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = server.Close()
	}
}

const successPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>hopx login</title></head>
<body><p>Login successful. You can close this window and return to the terminal.</p></body>
</html>
`

const failurePage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>hopx login</title></head>
<body><p>Login failed. Check the terminal for details.</p></body>
</html>
`

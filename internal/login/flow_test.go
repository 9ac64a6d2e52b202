package login

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/hopx-ai/hopx-cli/internal/credentials"
	"github.com/hopx-ai/hopx-cli/internal/secretstore"
	"github.com/hopx-ai/hopx-cli/internal/tokensource"
)

// authServer is a fake token endpoint recording the exchange requests.
type authServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []map[string]string
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()

	s := &authServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/oauth/token" {
			http.NotFound(w, r)
			return
		}

		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, body)
		s.mu.Unlock()

		if body["code"] != "auth_code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"login_access_token","refresh_token":"login_refresh_token","token_type":"Bearer","expires_in":3600}`)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *authServer) lastRequest(t *testing.T) map[string]string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatal("token endpoint was not called")
	}
	return s.requests[len(s.requests)-1]
}

func newTestStore(t *testing.T) *credentials.Store {
	t.Helper()
	keyring.MockInit()

	kr, err := secretstore.NewKeyringBackend(secretstore.DefaultService)
	if err != nil {
		t.Fatal(err)
	}
	file, err := secretstore.NewFileBackend(filepath.Join(t.TempDir(), "credentials.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	store, err := credentials.New(credentials.DefaultProfile, kr, file)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func newTestFlow(t *testing.T, server *authServer, store *credentials.Store, opts ...FlowOption) *Flow {
	t.Helper()

	refresher := tokensource.NewRefresher(tokensource.Endpoint(server.URL), tokensource.ClientID)
	noClipboard := WithClipboard(func(string) error { return nil })
	opts = append([]FlowOption{WithCallbackPort(0), WithOutput(io.Discard), WithTimeout(5 * time.Second), noClipboard}, opts...)
	flow, err := NewFlow(refresher, store, opts...)
	if err != nil {
		t.Fatalf("NewFlow() error = %v", err)
	}
	return flow
}

// redirectingBrowser simulates the user approving the request in a browser.
// The callback query is built from the authorization URL's state plus extra.
func redirectingBrowser(t *testing.T, extra url.Values, statuses chan<- int) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()

		callback := url.Values{"state": {q.Get("state")}}
		for k, v := range extra {
			callback[k] = v
		}

		go func() {
			resp, err := http.Get(q.Get("redirect_uri") + "?" + callback.Encode())
			if err != nil {
				t.Errorf("callback request error = %v", err)
				statuses <- 0
				return
			}
			_ = resp.Body.Close()
			statuses <- resp.StatusCode
		}()
		return nil
	}
}

func TestLoginBrowser(t *testing.T) {
	ctx := context.Background()
	server := newAuthServer(t)
	store := newTestStore(t)

	var authURL string
	statuses := make(chan int, 1)
	redirect := redirectingBrowser(t, url.Values{"code": {"auth_code"}}, statuses)
	flow := newTestFlow(t, server, store, WithBrowser(func(u string) error {
		authURL = u
		return redirect(u)
	}))

	tok, err := flow.Login(ctx, Options{NoQR: true})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if status := <-statuses; status != http.StatusOK {
		t.Errorf("callback status = %d, want 200", status)
	}

	if tok.AccessToken != "login_access_token" || tok.RefreshToken != "login_refresh_token" || tok.ExpiresAt == 0 {
		t.Errorf("Login() = %+v, want login tokens with expiry", tok)
	}

	stored, err := store.OAuthToken(ctx)
	if err != nil {
		t.Fatalf("OAuthToken() error = %v", err)
	}
	if stored == nil || !reflect.DeepEqual(*stored, tok) {
		t.Errorf("stored token = %+v, want %+v", stored, tok)
	}

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Errorf("authorization url %q lacks an S256 code challenge", authURL)
	}
	if q.Get("client_id") != tokensource.ClientID || q.Get("response_type") != "code" {
		t.Errorf("authorization url %q has unexpected client parameters", authURL)
	}
	if !strings.HasPrefix(q.Get("redirect_uri"), "http://127.0.0.1:") || !strings.HasSuffix(q.Get("redirect_uri"), CallbackPath) {
		t.Errorf("redirect_uri = %q, want loopback callback", q.Get("redirect_uri"))
	}

	req := server.lastRequest(t)
	if req["grant_type"] != "authorization_code" || req["code"] != "auth_code" {
		t.Errorf("token request = %v, want authorization_code grant", req)
	}
	if req["code_verifier"] == "" || req["redirect_uri"] != q.Get("redirect_uri") {
		t.Errorf("token request = %v, want verifier and matching redirect_uri", req)
	}
}

func TestLoginBrowserRejectedCallbacks(t *testing.T) {
	tests := []struct {
		name    string
		query   url.Values
		wantErr string
	}{
		{name: "wrong state", query: url.Values{"state": {"forged"}, "code": {"auth_code"}}, wantErr: "invalid state"},
		{name: "denied", query: url.Values{"error": {"access_denied"}, "error_description": {"user cancelled"}}, wantErr: "access_denied: user cancelled"},
		{name: "missing code", query: url.Values{}, wantErr: "missing authorization code"},
		{name: "exchange fails", query: url.Values{"code": {"bad_code"}}, wantErr: "exchanging authorization code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			server := newAuthServer(t)
			store := newTestStore(t)

			statuses := make(chan int, 1)
			flow := newTestFlow(t, server, store, WithBrowser(redirectingBrowser(t, tt.query, statuses)))

			_, err := flow.Login(ctx, Options{NoQR: true})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Login() error = %v, want containing %q", err, tt.wantErr)
			}
			<-statuses

			if tok, err := store.OAuthToken(ctx); err != nil || tok != nil {
				t.Errorf("OAuthToken() = %+v, %v; want nothing stored", tok, err)
			}
		})
	}
}

func TestLoginTimeout(t *testing.T) {
	server := newAuthServer(t)
	flow := newTestFlow(t, server, newTestStore(t),
		WithTimeout(50*time.Millisecond),
		WithBrowser(func(string) error { return nil }),
	)

	_, err := flow.Login(context.Background(), Options{NoQR: true})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Login() error = %v, want ErrTimeout", err)
	}
}

func TestLoginCancelled(t *testing.T) {
	server := newAuthServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	flow := newTestFlow(t, server, newTestStore(t), WithBrowser(func(string) error {
		cancel()
		return nil
	}))

	_, err := flow.Login(ctx, Options{NoQR: true})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Login() error = %v, want context.Canceled", err)
	}
}

func TestLoginBrowserOpenFailureIsNotFatal(t *testing.T) {
	server := newAuthServer(t)
	store := newTestStore(t)

	statuses := make(chan int, 1)
	redirect := redirectingBrowser(t, url.Values{"code": {"auth_code"}}, statuses)
	flow := newTestFlow(t, server, store, WithBrowser(func(u string) error {
		_ = redirect(u)
		return errors.New("no display")
	}))

	if _, err := flow.Login(context.Background(), Options{NoQR: true}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	<-statuses
}

func TestPresentCopiesAuthorizationURL(t *testing.T) {
	const authURL = "https://hopx.example.test/auth/oauth/authorize?state=abc"

	tests := []struct {
		name       string
		opts       Options
		copyErr    error
		wantCopies []string
		wantNotice bool
	}{
		{name: "copied", opts: Options{NoQR: true}, wantCopies: []string{authURL}, wantNotice: true},
		{name: "clipboard unavailable", opts: Options{NoQR: true}, copyErr: errors.New("no clipboard utility"), wantCopies: []string{authURL}},
		{name: "disabled", opts: Options{NoQR: true, NoCopy: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				out    strings.Builder
				copies []string
			)
			flow := newTestFlow(t, newAuthServer(t), newTestStore(t),
				WithOutput(&out),
				WithClipboard(func(s string) error {
					copies = append(copies, s)
					return tt.copyErr
				}),
			)

			flow.present(context.Background(), authURL, tt.opts)

			if !reflect.DeepEqual(copies, tt.wantCopies) {
				t.Errorf("clipboard writes = %v, want %v", copies, tt.wantCopies)
			}
			if !strings.Contains(out.String(), authURL) {
				t.Errorf("output %q does not contain the authorization URL", out.String())
			}
			if got := strings.Contains(out.String(), "clipboard"); got != tt.wantNotice {
				t.Errorf("clipboard notice shown = %v, want %v", got, tt.wantNotice)
			}
		})
	}
}

// urlWatcher captures the first authorization URL written to the output.
type urlWatcher struct {
	mu   sync.Mutex
	buf  strings.Builder
	once sync.Once
	urls chan string
}

var authURLPattern = regexp.MustCompile(`https?://\S+`)

func (w *urlWatcher) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	if m := authURLPattern.FindString(w.buf.String()); m != "" && strings.Contains(w.buf.String(), m+"\n") {
		w.once.Do(func() { w.urls <- m })
	}
	return len(p), nil
}

func TestLoginHeadless(t *testing.T) {
	ctx := context.Background()
	server := newAuthServer(t)
	store := newTestStore(t)

	in, pasted := io.Pipe()
	out := &urlWatcher{urls: make(chan string, 1)}
	flow := newTestFlow(t, server, store,
		WithCallbackPort(DefaultCallbackPort),
		WithInput(in),
		WithOutput(out),
		WithBrowser(func(string) error {
			t.Error("browser opened in headless mode")
			return nil
		}),
	)

	go func() {
		u, err := url.Parse(<-out.urls)
		if err != nil {
			_ = pasted.CloseWithError(err)
			return
		}
		q := u.Query()
		redirect := q.Get("redirect_uri") + "?" + url.Values{"code": {"auth_code"}, "state": {q.Get("state")}}.Encode()
		_, _ = io.WriteString(pasted, redirect+"\n")
	}()

	tok, err := flow.Login(ctx, Options{Headless: true})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if tok.AccessToken != "login_access_token" {
		t.Errorf("Login() access token = %q, want login_access_token", tok.AccessToken)
	}
	if req := server.lastRequest(t); req["redirect_uri"] != redirectURL(DefaultCallbackPort) {
		t.Errorf("token request redirect_uri = %q, want %q", req["redirect_uri"], redirectURL(DefaultCallbackPort))
	}
}

func TestLoginHeadlessRequiresFixedPort(t *testing.T) {
	flow := newTestFlow(t, newAuthServer(t), newTestStore(t))

	if _, err := flow.Login(context.Background(), Options{Headless: true, NoQR: true}); err == nil {
		t.Fatal("Login() error = nil, want error for port 0")
	}
}

func TestLoginHeadlessEmptyInput(t *testing.T) {
	flow := newTestFlow(t, newAuthServer(t), newTestStore(t),
		WithCallbackPort(DefaultCallbackPort),
		WithInput(strings.NewReader("")),
	)

	if _, err := flow.Login(context.Background(), Options{Headless: true, NoQR: true}); err == nil {
		t.Fatal("Login() error = nil, want error for empty input")
	}
}

func TestRedirectQuery(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "full url", input: "http://127.0.0.1:8976/callback?code=abc&state=s1\n", want: "abc"},
		{name: "query only", input: "?code=abc&state=s1", want: "abc"},
		{name: "bare query", input: "code=abc&state=s1", want: "abc"},
		{name: "empty", input: "  \n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := redirectQuery(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("redirectQuery() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("redirectQuery() error = %v", err)
			}
			code, err := parseCallback(query, "s1")
			if err != nil || code != tt.want {
				t.Errorf("parseCallback() = %q, %v; want %q", code, err, tt.want)
			}
		})
	}
}

func TestNewFlowValidation(t *testing.T) {
	refresher := tokensource.NewRefresher(tokensource.Endpoint("http://localhost"), tokensource.ClientID)
	store := newTestStore(t)

	if _, err := NewFlow(nil, store); err == nil {
		t.Error("NewFlow(nil refresher) error = nil")
	}
	if _, err := NewFlow(refresher, nil); err == nil {
		t.Error("NewFlow(nil store) error = nil")
	}
	if _, err := NewFlow(refresher, store, WithCallbackPort(70000)); err == nil {
		t.Error("NewFlow(port 70000) error = nil")
	}
}

package tokensource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// Option configures a Refresher.
type Option func(*refresherConfig)

// refresherConfig holds configuration for NewRefresher.
type refresherConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
}

// WithTransport sets a custom base transport for token requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *refresherConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds each token request. Defaults to 30 seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(c *refresherConfig) {
		c.timeout = timeout
	}
}

// Refresher exchanges refresh tokens for new access tokens.
type Refresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewRefresher creates a Refresher for the given token endpoint and public client.
func NewRefresher(endpoint oauth2.Endpoint, clientID string, opts ...Option) *Refresher {
	cfg := &refresherConfig{
		baseTransport: http.DefaultTransport,
		timeout:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Refresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: "", // Empty for PKCE flow (public client)
			Endpoint:     endpoint,
		},
		// HTTP client with JSON transport (wraps provided or default transport for connection pooling)
		httpClient: &http.Client{
			Timeout:   cfg.timeout,
			Transport: &jsonTokenTransport{base: cfg.baseTransport},
		},
	}
}

// Config returns the OAuth2 configuration used for token requests.
func (r *Refresher) Config() *oauth2.Config {
	return r.config
}

// Context returns ctx carrying the JSON-encoding HTTP client for oauth2 calls
// such as Config().Exchange.
func (r *Refresher) Context(ctx context.Context) context.Context {
	// oauth2 injects custom HTTP clients via context (oauth2.HTTPClient key)
	return context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
}

// Refresh exchanges refreshToken for a new token. Cancelling ctx aborts the request.
// Responses without an access token are reported as errors by oauth2.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("missing refresh token")
	}

	// An expired seed token makes the source refresh immediately.
	seed := &oauth2.Token{RefreshToken: refreshToken}
	tok, err := r.config.TokenSource(r.Context(ctx), seed).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return tok, nil
}

// jsonTokenTransport re-encodes the form bodies oauth2 sends to the token
// endpoint as JSON objects, the only request encoding hopx accepts.
// Requests that are not form-encoded pass through unchanged.
type jsonTokenTransport struct {
	base http.RoundTripper
}

var _ http.RoundTripper = (*jsonTokenTransport)(nil)

func (t *jsonTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if req.Body == nil || mediaType != "application/x-www-form-urlencoded" {
		return t.base.RoundTrip(req)
	}

	payload, err := formToJSON(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}

	out := req.Clone(req.Context())
	out.Header.Set("Content-Type", "application/json")
	out.ContentLength = int64(len(payload))
	out.Body = io.NopCloser(bytes.NewReader(payload))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	return t.base.RoundTrip(out)
}

// formToJSON reads a form body into a flat JSON object.
// RFC 6749 parameters are single-valued, so repeated keys keep their first value.
func formToJSON(body io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading token request: %w", err)
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding token request form: %w", err)
	}

	fields := make(map[string]string, len(form))
	for key := range form {
		fields[key] = form.Get(key)
	}
	return json.Marshal(fields)
}

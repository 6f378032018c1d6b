// Package backend is a client for the companion API that owns user profiles
// and the server side session cookie.
//
// Every call is authenticated with the user's ID token as a bearer token.
// The backend verifies the token itself, this client never inspects it.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/edupath/authsync"
	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

func init() {
	authsync.RegisterConfigKeys(
		authsync.ConfigKeyInfo{
			Key:         "backend.url",
			Description: "Base URL of the companion API",
			Type:        "string",
			Default:     "http://localhost:8000",
		},
		authsync.ConfigKeyInfo{
			Key:         "backend.timeout",
			Description: "Timeout for calls to the companion API",
			Type:        "duration",
			Default:     "10s",
		},
		authsync.ConfigKeyInfo{
			Key:         "backend.sessionCookie",
			Description: "Name of the session cookie set by POST /api/auth/session",
			Type:        "string",
			Default:     "session",
		},
	)
}

// API paths.
const (
	PathMe       = "/api/auth/me"
	PathLogin    = "/api/auth/login"
	PathRegister = "/api/auth/register"
	PathSession  = "/api/auth/session"
)

const tracerName = "github.com/edupath/authsync/backend"

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the backend's base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.rawURL = u
	}
}

// WithHTTPClient sets the client whose transport is used for requests. Its
// cookie jar, if any, is replaced by the client's own jar.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.base = hc
	}
}

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithSessionCookieName sets the name of the backend's session cookie.
func WithSessionCookieName(name string) Option {
	return func(c *Client) {
		c.cookieName = name
	}
}

// WithTracerProvider sets the provider spans are created from. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// Client talks to the backend on behalf of a single browser session. The
// session cookie set by the backend lives in the client's cookie jar, so
// clients must not be shared between sessions.
type Client struct {
	rawURL     string
	baseURL    *url.URL
	base       *http.Client
	jar        *cookiejar.Jar
	timeout    time.Duration
	cookieName string
	tracer     trace.Tracer
}

// New returns a client configured from authsync.Config and opts.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		rawURL:     authsync.ConfigString("backend.url"),
		timeout:    authsync.ConfigDuration("backend.timeout"),
		cookieName: authsync.ConfigString("backend.sessionCookie"),
		base:       http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}

	u, err := url.Parse(strings.TrimRight(c.rawURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("backend: invalid base url %q", c.rawURL)
	}
	c.baseURL = u

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	c.jar = jar
	return c, nil
}

// Me fetches the profile of the token's user.
func (c *Client) Me(ctx context.Context, token string) (*Profile, error) {
	var p Profile
	if err := c.call(ctx, "Me", http.MethodGet, PathMe, token, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Login records an explicit sign-in and returns the user's profile.
func (c *Client) Login(ctx context.Context, token string) (*Profile, error) {
	var p Profile
	if err := c.call(ctx, "Login", http.MethodPost, PathLogin, token, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Register creates a profile for the token's user.
func (c *Client) Register(ctx context.Context, token string) (*Profile, error) {
	var p Profile
	body := map[string]string{"token": token}
	if err := c.call(ctx, "Register", http.MethodPost, PathRegister, "", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetSession exchanges the token for a backend session cookie, which is kept
// in the client's jar.
func (c *Client) SetSession(ctx context.Context, token string) error {
	return c.call(ctx, "SetSession", http.MethodPost, PathSession, token, nil, nil)
}

// ClearSession ends the backend session and drops the cookie. The cookie is
// dropped even when the call fails.
func (c *Client) ClearSession(ctx context.Context, token string) error {
	err := c.call(ctx, "ClearSession", http.MethodDelete, PathSession, token, nil, nil)
	c.jar.SetCookies(c.baseURL, []*http.Cookie{{Name: c.cookieName, Path: "/", MaxAge: -1}})
	return err
}

// SessionCookie returns the backend session cookie, or nil.
func (c *Client) SessionCookie() *http.Cookie {
	for _, ck := range c.jar.Cookies(c.baseURL) {
		if ck.Name == c.cookieName {
			return ck
		}
	}
	return nil
}

// call performs a request. An empty token sends no Authorization header.
func (c *Client) call(ctx context.Context, op, method, path, token string, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "backend."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", path),
		),
	)
	defer span.End()

	err := c.do(ctx, method, path, token, in, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		logging.Debugw(ctx, "backend: call failed", "backend.op", op, "error", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, 0)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	res, err := c.client(token).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), 0)
		}
		return errors.Mark(ErrUnavailable, 0).Append(err.Error())
	}
	defer res.Body.Close()

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	b, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return errors.Mark(ErrUnavailable, 0).Append(err.Error())
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return parseError(res.StatusCode, b)
	}
	if out == nil || len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Mark(ErrUnavailable, 0).Append("decoding response: " + err.Error())
	}
	return nil
}

func (c *Client) client(token string) *http.Client {
	transport := c.base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   transport,
		}
	}
	return &http.Client{Transport: transport, Jar: c.jar}
}

// Package jenkins is a minimal client for the Jenkins remote access API.
//
// It covers exactly what the bot needs: listing the children of a folder,
// fetching a CSRF crumb and queueing a build. Credentials are attached per
// request; the client itself holds none that could leak between callers.
package jenkins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultParameterName is the build parameter sent by buildWithParameters.
const DefaultParameterName = "VERSION"

// DefaultTimeout bounds a single API request.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is kept for messages.
const maxErrorBody = 512

// Credentials authenticate a request with HTTP Basic auth (user + API token).
type Credentials struct {
	User  string
	Token string
}

// Empty reports whether no credentials are set.
func (c Credentials) Empty() bool {
	return c.User == "" && c.Token == ""
}

// Config configures a Client.
type Config struct {
	// BaseURL is the Jenkins root, e.g. https://ci.example.com (required).
	BaseURL string

	// Credentials are used for read-only calls such as listing.
	Credentials Credentials

	// RateLimit caps outgoing requests per second. Zero disables limiting.
	RateLimit float64

	// Burst is the limiter burst size.
	// Default: 1
	Burst int

	// Timeout bounds each request.
	// Default: 30s
	Timeout time.Duration

	// ParameterName is the query parameter used for parameterized builds.
	// Default: VERSION
	ParameterName string

	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Item is one child of a folder as returned by the tree API.
type Item struct {
	Name string
	URL  string

	// Color is the build status ball. Only leaf jobs carry one.
	Color string

	// Leaf is true when the remote reported a color attribute.
	Leaf bool
}

// Crumb is the CSRF token pair from /crumbIssuer.
type Crumb struct {
	Field string
	Value string
}

// Client talks to one Jenkins controller. Safe for concurrent use.
type Client struct {
	base      *url.URL
	creds     Credentials
	http      *http.Client
	limiter   *rate.Limiter
	paramName string
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("jenkins base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse jenkins base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("jenkins base url must be http or https, got %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	param := cfg.ParameterName
	if param == "" {
		param = DefaultParameterName
	}

	return &Client{
		base:      base,
		creds:     cfg.Credentials,
		http:      hc,
		limiter:   rate.NewLimiter(limit, burst),
		paramName: param,
	}, nil
}

// BaseURL returns the configured controller root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// ParameterName returns the query parameter used for parameterized builds.
func (c *Client) ParameterName() string {
	return c.paramName
}

type treeResponse struct {
	Jobs []struct {
		Name  string  `json:"name"`
		URL   string  `json:"url"`
		Color *string `json:"color"`
	} `json:"jobs"`
}

// ListChildren returns the immediate children of the folder at path. An
// empty path lists the controller root.
func (c *Client) ListChildren(ctx context.Context, path string) ([]Item, error) {
	path = NormalizePath(path)
	endpoint := c.base.String() + JobURLPath(path) + "/api/json?tree=" + url.QueryEscape("jobs[name,url,color]")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Op: "list", Path: path, Err: err}
	}

	var tree treeResponse
	if err := c.doJSON(c.http, req, c.creds, &tree); err != nil {
		return nil, withContext(err, "list", path)
	}

	items := make([]Item, 0, len(tree.Jobs))
	for _, j := range tree.Jobs {
		it := Item{Name: j.Name, URL: j.URL}
		if j.Color != nil {
			it.Leaf = true
			it.Color = *j.Color
		}
		items = append(items, it)
	}
	return items, nil
}

// Session is a short-lived cookie-holding conversation with the controller.
// Jenkins binds crumbs to the web session, so the crumb and the build that
// uses it must share cookies.
type Session struct {
	c     *Client
	creds Credentials
	http  *http.Client
}

// NewSession starts a Session authenticated with creds.
func (c *Client) NewSession(creds Credentials) *Session {
	hc := *c.http
	if jar, err := cookiejar.New(nil); err == nil {
		hc.Jar = jar
	}
	return &Session{c: c, creds: creds, http: &hc}
}

// Crumb fetches a CSRF crumb. Returns ErrNotFound when the controller has
// CSRF protection disabled.
func (s *Session) Crumb(ctx context.Context) (Crumb, error) {
	endpoint := s.c.base.String() + "/crumbIssuer/api/json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Crumb{}, &Error{Op: "crumb", Err: err}
	}

	var body struct {
		Field string `json:"crumbRequestField"`
		Crumb string `json:"crumb"`
	}
	if err := s.c.doJSON(s.http, req, s.creds, &body); err != nil {
		return Crumb{}, withContext(err, "crumb", "")
	}
	if body.Field == "" || body.Crumb == "" {
		return Crumb{}, &Error{Op: "crumb", Err: fmt.Errorf("empty crumb in response")}
	}
	return Crumb{Field: body.Field, Value: body.Crumb}, nil
}

// Build queues a build of the job at path. A non-empty parameter switches to
// buildWithParameters. The zero Crumb sends no crumb header. Returns the
// queue item location reported by the controller, if any.
func (s *Session) Build(ctx context.Context, path string, crumb Crumb, parameter string) (string, error) {
	path = NormalizePath(path)
	if path == "" {
		return "", &Error{Op: "build", Err: fmt.Errorf("job path is required")}
	}

	endpoint := s.c.base.String() + JobURLPath(path)
	if parameter != "" {
		q := url.Values{}
		q.Set(s.c.paramName, parameter)
		endpoint += "/buildWithParameters?" + q.Encode()
	} else {
		endpoint += "/build"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", &Error{Op: "build", Path: path, Err: err}
	}
	if crumb.Field != "" {
		req.Header.Set(crumb.Field, crumb.Value)
	}

	resp, err := s.c.do(s.http, req, s.creds)
	if err != nil {
		return "", withContext(err, "build", path)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.Header.Get("Location"), nil
}

func (c *Client) do(hc *http.Client, req *http.Request, creds Credentials) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	if !creds.Empty() {
		req.SetBasicAuth(creds.User, creds.Token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %s", statusError(resp.StatusCode), msg)}
	}
	return resp, nil
}

func (c *Client) doJSON(hc *http.Client, req *http.Request, creds Credentials, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(hc, req, creds)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func withContext(err error, op, path string) error {
	if e, ok := err.(*Error); ok {
		e.Op = op
		e.Path = path
		return e
	}
	return &Error{Op: op, Path: path, Err: err}
}

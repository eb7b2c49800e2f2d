// session.go contains the session provider: the per-call request context
// (base url, cookies, headers) every caimogu request is built from.

package caimogu

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"cmgdl/internal/components/assert"
	"cmgdl/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseUrl           = "https://www.caimogu.cc"
	DefaultTimeout           = 30 * time.Second
	DefaultRequestsPerSecond = 2

	userAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/112.0.0.0 Safari/537.36 Edg/112.0.1722.39"
	ajaxHeader = "x-requested-with"
	ajaxValue  = "XMLHttpRequest"
)

// DefaultHeaders returns the headers every session carries unless overridden:
// a desktop browser user agent and the ajax marker.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"user-agent": userAgent,
		ajaxHeader:   ajaxValue,
	}
}

// Cookies is the cookie set sent with every request, name -> value.
type Cookies map[string]string

// ParseCookies parses a raw cookie header value ("k1=v1; k2=v2").
// Keys and values are trimmed, empty segments are skipped and the last
// duplicate key wins.
func ParseCookies(raw string) (Cookies, error) {
	out := Cookies{}
	for _, segment := range strings.Split(raw, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		key, value, found := strings.Cut(segment, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("%w: malformed pair %q", ErrInvalidCookies, segment)
		}
		out[key] = strings.TrimSpace(value)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no cookies given", ErrInvalidCookies)
	}
	return out, nil
}

func (c Cookies) httpCookies() []*http.Cookie {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		out = append(out, &http.Cookie{Name: name, Value: c[name]})
	}
	return out
}

type ClientOptions struct {
	// defaults to DefaultBaseUrl
	BaseUrl string
	Cookies Cookies
	// defaults to DefaultTimeout
	Timeout time.Duration
	// defaults to DefaultRequestsPerSecond, use float64(rate.Inf) to disable
	RequestsPerSecond float64
	// wraps the transport with github.com/DaRealFreak/cloudflare-bp-go
	CloudflareBypass bool
	// when set, every request/response pair is written into this directory
	DumpDir string
}

// Client holds the credentials and the http clients sessions are created from.
// It is safe for concurrent use, the Posts created from it are not.
type Client struct {
	BaseUrl *url.URL

	cookies []*http.Cookie
	// follows redirects within the site
	http *resty.Client
	// never follows redirects, the response to the first request is returned as is
	direct *resty.Client

	tel telemetry.API
}

func NewClient(opts ClientOptions, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("caimogu", tel)

	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if len(opts.Cookies) == 0 {
		return nil, fmt.Errorf("%w: no cookies given", ErrInvalidCookies)
	}

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	// one limiter for both clients, they talk to the same site
	limit := rate.Limit(opts.RequestsPerSecond)
	burst := 1
	if limit != rate.Inf {
		// max burst >= rps just means that no requests will be dropped
		burst = int(math.Max(1, math.Ceil(opts.RequestsPerSecond)))
	}
	limiter := rate.NewLimiter(limit, burst)

	followClient := newRestyClient(opts, limiter, tel)
	followClient.SetRedirectPolicy(
		resty.FlexibleRedirectPolicy(10),
		resty.DomainCheckRedirectPolicy(baseUrl.Hostname()),
	)

	directClient := newRestyClient(opts, limiter, tel)
	directClient.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))

	if opts.DumpDir != "" {
		err = telemetry.DumpResty(opts.DumpDir, tel, followClient, directClient)
		if err != nil {
			return nil, fmt.Errorf("create dump dir: %w", err)
		}
	}

	return &Client{
		BaseUrl: baseUrl,
		cookies: opts.Cookies.httpCookies(),
		http:    followClient,
		direct:  directClient,
		tel:     tel,
	}, nil
}

func newRestyClient(opts ClientOptions, limiter *rate.Limiter, tel telemetry.API) *resty.Client {
	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.SetTimeout(opts.Timeout)
	// sessions carry their own cookies, nothing is kept between calls
	client.SetCookieJar(nil)
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})
	telemetry.InstrumentResty(client, "caimogu/http", tel)

	return client
}

type sessionConfig struct {
	headers   map[string]string
	redirects bool
}

type SessionOption func(cfg *sessionConfig)

// WithHeaders replaces the default header set.
func WithHeaders(headers map[string]string) SessionOption {
	return func(cfg *sessionConfig) {
		cfg.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			cfg.headers[k] = v
		}
	}
}

// WithoutAjax drops the ajax marker header.
func WithoutAjax() SessionOption {
	return func(cfg *sessionConfig) {
		delete(cfg.headers, ajaxHeader)
	}
}

// WithoutRedirects makes requests return redirect responses instead of following them.
func WithoutRedirects() SessionOption {
	return func(cfg *sessionConfig) {
		cfg.redirects = false
	}
}

// Session is the context for one logical request sequence, it is immutable
// and cheap to create, make a new one per call.
type Session struct {
	http    *resty.Client
	cookies []*http.Cookie
	headers map[string]string
}

// NewSession creates a session with the client's cookies and the default
// headers, options are applied in order.
func (c *Client) NewSession(opts ...SessionOption) Session {
	cfg := sessionConfig{
		headers:   DefaultHeaders(),
		redirects: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := c.http
	if !cfg.redirects {
		client = c.direct
	}
	return Session{
		http:    client,
		cookies: c.cookies,
		headers: cfg.headers,
	}
}

// Headers returns a copy of the headers requests in this session are sent with.
func (s Session) Headers() map[string]string {
	out := make(map[string]string, len(s.headers))
	for k, v := range s.headers {
		out[k] = v
	}
	return out
}

// R starts a request in this session.
func (s Session) R(ctx context.Context) *resty.Request {
	return s.http.R().
		SetContext(ctx).
		SetCookies(s.cookies).
		SetHeaders(s.headers)
}

// Package httpclient wraps http.Client with structured logging, default
// headers and sane transport limits.
//
// It deliberately performs no retries: the job poll loop owns its own
// cadence, and a transport error there must surface to the loop rather
// than be absorbed by a second retry layer.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"time"
)

// maxBodyBytes bounds how much of a response body ReadJSON will buffer.
const maxBodyBytes = 8 << 20

// Client wraps http.Client with logging and default headers.
type Client struct {
	hc          *stdhttp.Client
	log         *slog.Logger
	headers     map[string]string
	urlRedactor func(*url.URL) string
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

// WithLogger sets the logger used by the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHeaders adds default headers applied to every request that does
// not already set them.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		if c.headers == nil {
			c.headers = make(map[string]string, len(h))
		}
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithBearer sets a default Authorization header.
func WithBearer(token string) Option {
	return WithHeaders(map[string]string{"Authorization": "Bearer " + token})
}

// WithTransport sets a custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// WithURLRedactor sets the URL redactor used in logs.
func WithURLRedactor(f func(*url.URL) string) Option {
	return func(c *Client) { c.urlRedactor = f }
}

// New creates a configured Client.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxConnsPerHost = 100
	tr.MaxIdleConnsPerHost = 100
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 20 * time.Second
	tr.ExpectContinueTimeout = 1 * time.Second

	c := &Client{
		hc: &stdhttp.Client{
			Timeout:   30 * time.Second,
			Transport: tr,
		},
		log: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) redactURL(u *url.URL) string {
	if c.urlRedactor != nil {
		return c.urlRedactor(u)
	}
	return u.Redacted()
}

// Do sends the request with context, default headers and logging.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	r := req.Clone(ctx)
	for k, v := range c.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	u := c.redactURL(r.URL)
	start := time.Now()
	resp, err := c.hc.Do(r)
	dur := time.Since(start)
	if err != nil {
		c.log.Warn("http request error",
			slog.String("method", r.Method), slog.String("url", u), slog.Any("error", err))
		return nil, err
	}
	c.log.Debug("http request",
		slog.String("method", r.Method), slog.String("url", u),
		slog.Int("status", resp.StatusCode), slog.Duration("dur", dur))
	return resp, nil
}

// GetJSON performs a GET and returns the status code and the raw body.
func (c *Client) GetJSON(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := stdhttp.NewRequest(stdhttp.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.roundTrip(ctx, req)
}

// PostJSON performs a POST with a JSON-encoded payload and returns the
// status code and the raw body. A nil payload sends an empty body.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := stdhttp.NewRequest(stdhttp.MethodPost, rawURL, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.roundTrip(ctx, req)
}

// PostJSONWithHeaders is PostJSON with extra per-request headers, set
// after the JSON defaults so callers can override them.
func (c *Client) PostJSONWithHeaders(ctx context.Context, rawURL string, payload any, headers map[string]string) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := stdhttp.NewRequest(stdhttp.MethodPost, rawURL, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.roundTrip(ctx, req)
}

func (c *Client) roundTrip(ctx context.Context, req *stdhttp.Request) (int, []byte, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

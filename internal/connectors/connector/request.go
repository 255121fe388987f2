package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/metrics"
)

const maxResponseBytes = 10 << 20

type RequestOptions struct {
	Method string
	Header http.Header
	Query  url.Values
	Body   []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) DecodeJSON(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// MakeAuthenticatedRequest sends a request carrying the stored credential.
//
// OAuth2 connectors refresh an expired token before sending. A 401 triggers
// exactly one refresh and one retry; a second 401 fails with KindTokenExpired.
// API key connectors fail a 401 with KindAuthFailed. A 429 always fails with
// KindRateLimit carrying Retry-After and is never retried here. Other statuses
// are returned to the caller.
func (c *Connector) MakeAuthenticatedRequest(ctx context.Context, rawURL string, opts RequestOptions) (*Response, error) {
	const op = "authenticated request"

	switch c.spec.AuthMethod {
	case integration.AuthMethodAPIKey:
		key := c.Connection().APIKey
		if key == "" {
			return nil, integration.New(integration.KindAuthFailed, op, "no api key stored")
		}
		resp, err := c.send(ctx, rawURL, opts, key)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, integration.New(integration.KindAuthFailed, op, "api key rejected")
		}
		return resp, nil

	case integration.AuthMethodOAuth2:
		conn := c.Connection()
		if conn.AccessToken == "" && conn.RefreshToken == "" {
			return nil, integration.New(integration.KindAuthFailed, op, "connection is not authorized")
		}
		refreshed := false
		if conn.AccessToken == "" || conn.TokenExpired(c.deps.Now()) {
			if err := c.RefreshToken(ctx); err != nil {
				return nil, err
			}
			refreshed = true
		}

		resp, err := c.send(ctx, rawURL, opts, c.Connection().AccessToken)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		if refreshed {
			return nil, integration.New(integration.KindTokenExpired, op, "access token rejected after refresh")
		}
		if err := c.RefreshToken(ctx); err != nil {
			return nil, err
		}
		resp, err = c.send(ctx, rawURL, opts, c.Connection().AccessToken)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, integration.New(integration.KindTokenExpired, op, "access token rejected after refresh")
		}
		return resp, nil

	default:
		return c.send(ctx, rawURL, opts, "")
	}
}

// GetJSON issues an authenticated GET and decodes a 2xx JSON body into out.
func (c *Connector) GetJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := c.MakeAuthenticatedRequest(ctx, rawURL, RequestOptions{Method: http.MethodGet})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("GET %s: unexpected status %d", safeURL(rawURL), resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return resp.DecodeJSON(out)
}

func (c *Connector) send(ctx context.Context, rawURL string, opts RequestOptions, credential string) (*Response, error) {
	const op = "authenticated request"

	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, integration.Wrap(integration.KindValidation, op, err)
	}
	if len(opts.Query) > 0 {
		q := u.Query()
		for k, vs := range opts.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, integration.Wrap(integration.KindValidation, op, err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if opts.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	start := time.Now()
	resp, err := c.deps.HTTPClient.Do(req)
	metrics.ConnectorRequestDuration.WithLabelValues(c.spec.Type).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ConnectorRequestsTotal.WithLabelValues(c.spec.Type, "error").Inc()
		if ctxErr := integration.Canceled(op, ctx.Err()); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, integration.Wrap(integration.KindUnavailable, op, fmt.Errorf("%s %s: %w", method, safeURL(u.String()), err))
	}
	defer drainAndClose(resp.Body)
	metrics.ConnectorRequestsTotal.WithLabelValues(c.spec.Type, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusTooManyRequests {
		e := integration.RateLimited(op, retryAfterSeconds(resp.Header.Get("Retry-After"), c.deps.Now()))
		e.Integration = c.spec.Type
		return nil, e
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := integration.Canceled(op, ctx.Err()); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, integration.Wrap(integration.KindUnavailable, op, fmt.Errorf("read response: %w", err))
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: data}, nil
}

// retryAfterSeconds parses a Retry-After header given in seconds or as an
// HTTP date. Missing or malformed values yield 0.
func retryAfterSeconds(v string, now time.Time) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return secs
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d <= 0 {
			return 0
		}
		return int(math.Ceil(d.Seconds()))
	}
	return 0
}

func drainAndClose(r io.ReadCloser) {
	if r == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 1<<20))
	_ = r.Close()
}

func safeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Scheme + "://" + u.Host + u.Path
}

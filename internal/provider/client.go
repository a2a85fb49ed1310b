package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"backend-ridecal/internal/credential"
	"backend-ridecal/internal/oauth"

	"golang.org/x/time/rate"
)

const maxResponseBody = 8 << 20

type Options struct {
	HTTPClient        *http.Client
	RequestsPerSecond float64
	Logger            *slog.Logger
}

// client is the authorized, paced HTTP transport shared by both providers.
type client struct {
	provider credential.Provider
	baseURL  string
	http     *http.Client
	tokens   TokenSource
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func newClient(p credential.Provider, baseURL string, tokens TokenSource, opts Options) *client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &client{
		provider: p,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		tokens:   tokens,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.With("provider", string(p)),
	}
}

func (c *client) getJSON(ctx context.Context, athleteID, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.do(ctx, athleteID, http.MethodGet, target, nil, out)
}

func (c *client) postForm(ctx context.Context, athleteID, path string, form url.Values, out any) error {
	return c.do(ctx, athleteID, http.MethodPost, c.baseURL+path, form, out)
}

func (c *client) do(ctx context.Context, athleteID, method, target string, form url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	cred, err := c.tokens.ValidAccessToken(ctx, athleteID)
	if err != nil {
		return err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransient, method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrTransient, target, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s rejected the access token", oauth.ErrAuthExpired, c.provider)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Provider: c.provider, Body: string(raw), RetryAfter: resp.Header.Get("Retry-After")}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s returned %d", ErrTransient, c.provider, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%s %s returned %d: %s", method, target, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.provider, err)
	}
	return nil
}

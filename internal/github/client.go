// Package github is a small client for the parts of the GitHub REST API the
// tracker reads: the authenticated user, issue search, pull request detail,
// reviews and check runs.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/prwatch/internal/common"
	"github.com/dmitrijs2005/prwatch/internal/timex"
)

const (
	DefaultBaseURL = "https://api.github.com"
	// RequiredScope must appear in X-OAuth-Scopes for a token to be accepted.
	RequiredScope = "repo"

	apiVersion = "2022-11-28"
	userAgent  = "prwatch"
	maxBody    = 10 << 20
)

type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	clock   timex.Clock
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithClock(clock timex.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		clock:   timex.RealClock(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// ValidateToken checks that token is accepted and carries RequiredScope.
func (c *Client) ValidateToken(ctx context.Context, token string) error {
	h, err := c.WithToken(token).get(ctx, "/user", nil, nil)
	if err != nil {
		if IsUnauthorized(err) {
			return fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
		}
		return err
	}
	if !hasScope(h.Get("X-OAuth-Scopes"), RequiredScope) {
		return common.ErrMissingScope
	}
	return nil
}

func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	var u User
	if _, err := c.get(ctx, "/user", nil, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) (http.Header, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Header, newAPIError(resp, body, c.clock.Now())
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.Header, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.Header, nil
}

func hasScope(header, scope string) bool {
	return slices.ContainsFunc(strings.Split(header, ","), func(s string) bool {
		return strings.TrimSpace(s) == scope
	})
}

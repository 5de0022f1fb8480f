package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	// ResetAt is when the rate limit lifts, zero if the response did not say.
	ResetAt     time.Time
	rateLimited bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("github: HTTP %d: %s", e.StatusCode, e.Message)
}

func newAPIError(resp *http.Response, body []byte, now time.Time) *APIError {
	e := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Message = payload.Message
	}

	h := resp.Header
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			e.ResetAt = time.Unix(sec, 0)
		}
	}
	if v := h.Get("Retry-After"); v != "" && e.ResetAt.IsZero() {
		if sec, err := strconv.Atoi(v); err == nil {
			e.ResetAt = now.Add(time.Duration(sec) * time.Second)
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.rateLimited = true
	case resp.StatusCode == http.StatusForbidden && h.Get("X-RateLimit-Remaining") == "0":
		e.rateLimited = true
	case resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(e.Message), "rate limit"):
		e.rateLimited = true
	}
	return e
}

type Kind string

const (
	KindRateLimited  Kind = "rate-limited"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindServer       Kind = "server"
	KindOther        Kind = "other"
)

// Classify maps err to a Kind and a message fit to show the user.
func Classify(err error) (Kind, string) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return KindOther, fmt.Sprintf("Failed to fetch pull requests: %v", err)
	}

	switch {
	case apiErr.rateLimited:
		if apiErr.ResetAt.IsZero() {
			return KindRateLimited, "GitHub rate limit exceeded, try again later"
		}
		return KindRateLimited, fmt.Sprintf("GitHub rate limit exceeded, resets at %s", apiErr.ResetAt.Local().Format("15:04"))
	case apiErr.StatusCode == http.StatusUnauthorized:
		return KindUnauthorized, "GitHub token revoked or expired, re-enter or reset your token"
	case apiErr.StatusCode == http.StatusForbidden:
		return KindForbidden, "GitHub denied access, check the token's permissions"
	case apiErr.StatusCode >= 500:
		return KindServer, fmt.Sprintf("GitHub is having trouble (HTTP %d), will retry on the next refresh", apiErr.StatusCode)
	default:
		return KindOther, fmt.Sprintf("GitHub request failed: %s", apiErr.Error())
	}
}

func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// fatal reports whether err should abort a whole fetch rather than just the
// enrichment of one pull request.
func fatal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	k, _ := Classify(err)
	return k == KindRateLimited || k == KindUnauthorized || k == KindForbidden
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend-ridecal/internal/activity"
	"backend-ridecal/internal/credential"
	"backend-ridecal/internal/oauth"
)

var (
	ErrRateLimited = errors.New("provider: rate limited")
	// ErrTransient is shared with the oauth package so callers test for one value.
	ErrTransient = oauth.ErrTransient
)

// RateLimitError carries the provider's 429 body verbatim. It is never retried internally.
type RateLimitError struct {
	Provider   credential.Provider
	Body       string
	RetryAfter string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Body)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

type TokenSource interface {
	ValidAccessToken(ctx context.Context, athleteID string) (*credential.Credential, error)
}

// Window is the half-open range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Fetcher pages through one provider's activities for a window. Pages are fetched
// sequentially; the returned activities are tagged with the provider.
type Fetcher interface {
	Provider() credential.Provider
	FetchActivities(ctx context.Context, athleteID string, w Window) ([]activity.Activity, error)
}

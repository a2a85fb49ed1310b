package oauth

import "errors"

var (
	// ErrAuthExpired means no usable credential is held; the athlete must authorize again.
	ErrAuthExpired = errors.New("oauth: authorization required")
	// ErrTooManyCredentials means the provider refused a grant because too many tokens are
	// outstanding. The held token has been revoked and the athlete must authorize again.
	ErrTooManyCredentials = errors.New("oauth: too many outstanding credentials")
	// ErrTransient wraps network failures and provider 5xx responses.
	ErrTransient = errors.New("oauth: transient provider failure")
)

package oauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"backend-ridecal/internal/credential"
)

type RevokeStyle int

const (
	// RevokeForm posts the access token as a form field.
	RevokeForm RevokeStyle = iota
	// RevokeBearer sends the access token as a bearer header.
	RevokeBearer
)

// ProviderConfig describes one provider's OAuth endpoints and token response format.
type ProviderConfig struct {
	Provider     credential.Provider
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthorizeURL string
	TokenURL     string
	RevokeURL    string
	RevokeMethod string
	RevokeStyle  RevokeStyle
	Scope        string
	AuthParams   map[string]string

	// ParseToken normalizes a successful token response into a credential whose expiry is
	// absolute epoch seconds.
	ParseToken func(body []byte) (credential.Credential, error)
}

func StravaConfig(clientID, clientSecret, oauthURL, redirectURL string) ProviderConfig {
	base := strings.TrimRight(oauthURL, "/")
	return ProviderConfig{
		Provider:     credential.ProviderStrava,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		AuthorizeURL: base + "/authorize",
		TokenURL:     base + "/token",
		RevokeURL:    base + "/deauthorize",
		RevokeMethod: http.MethodPost,
		RevokeStyle:  RevokeForm,
		Scope:        "read,activity:read_all",
		AuthParams:   map[string]string{"approval_prompt": "auto"},
		ParseToken:   parseStravaToken,
	}
}

func WahooConfig(clientID, clientSecret, apiURL, redirectURL string) ProviderConfig {
	base := strings.TrimRight(apiURL, "/")
	return ProviderConfig{
		Provider:     credential.ProviderWahoo,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		AuthorizeURL: base + "/oauth/authorize",
		TokenURL:     base + "/oauth/token",
		RevokeURL:    base + "/v1/permissions",
		RevokeMethod: http.MethodDelete,
		RevokeStyle:  RevokeBearer,
		Scope:        "user_read workouts_read workouts_write plans_read plans_write offline_data",
		ParseToken:   parseWahooToken,
	}
}

type stravaTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

func parseStravaToken(body []byte) (credential.Credential, error) {
	var resp stravaTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return credential.Credential{}, err
	}
	if resp.AccessToken == "" || resp.ExpiresAt == 0 {
		return credential.Credential{}, errors.New("strava token response missing access_token or expires_at")
	}
	return credential.New(credential.ProviderStrava, resp.AccessToken, resp.RefreshToken, resp.ExpiresAt), nil
}

// Wahoo reports a relative lifetime; it is folded into an absolute expiry here so nothing
// downstream sees the difference.
type wahooTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresIn    int64  `json:"expires_in"`
}

func parseWahooToken(body []byte) (credential.Credential, error) {
	var resp wahooTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return credential.Credential{}, err
	}
	if resp.AccessToken == "" || resp.CreatedAt == 0 {
		return credential.Credential{}, errors.New("wahoo token response missing access_token or created_at")
	}
	return credential.New(credential.ProviderWahoo, resp.AccessToken, resp.RefreshToken, resp.CreatedAt+resp.ExpiresIn), nil
}

// isTooManyCredentials matches the grant conflict ("Too many unrevoked access tokens"), not
// an ordinary 429.
func isTooManyCredentials(status int, body []byte) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
	default:
		return false
	}
	msg := strings.ToLower(string(body))
	return strings.Contains(msg, "too many") && strings.Contains(msg, "token")
}

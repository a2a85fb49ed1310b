package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"backend-ridecal/internal/credential"
	"backend-ridecal/internal/observability"

	"golang.org/x/sync/singleflight"
)

const maxTokenBody = 1 << 20

// Manager turns a stored refresh credential into a valid access credential for one provider.
// Concurrent refreshes for the same athlete share a single outbound call.
type Manager struct {
	cfg    ProviderConfig
	store  *credential.Store
	state  *StateSigner
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	flights singleflight.Group
}

type Option func(*Manager)

func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.client = client }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(cfg ProviderConfig, store *credential.Store, state *StateSigner, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		store:  store,
		state:  state,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("provider", string(cfg.Provider))
	return m
}

func (m *Manager) Provider() credential.Provider {
	return m.cfg.Provider
}

// ValidAccessToken returns the stored credential when its margin-adjusted expiry is in the
// future, and otherwise refreshes it. Every caller waiting on the same refresh observes the
// same credential or the same error.
func (m *Manager) ValidAccessToken(ctx context.Context, athleteID string) (*credential.Credential, error) {
	cred, err := m.store.Load(ctx, athleteID, m.cfg.Provider)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrAuthExpired
	}
	if cred.Valid(m.now()) {
		return cred, nil
	}
	if !cred.CanRefresh() {
		return nil, ErrAuthExpired
	}
	return m.sharedRefresh(ctx, athleteID)
}

func (m *Manager) sharedRefresh(ctx context.Context, athleteID string) (*credential.Credential, error) {
	// The flight outlives any one caller's cancellation; each caller still stops waiting
	// when its own context ends.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(athleteID, func() (interface{}, error) {
		return m.refresh(flightCtx, athleteID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		cred := res.Val.(credential.Credential)
		return &cred, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context, athleteID string) (credential.Credential, error) {
	// A flight that finished just before this one started may already have stored a
	// fresh credential.
	current, err := m.store.Load(ctx, athleteID, m.cfg.Provider)
	if err != nil {
		return credential.Credential{}, err
	}
	if current == nil || !current.CanRefresh() {
		return credential.Credential{}, ErrAuthExpired
	}
	if current.Valid(m.now()) {
		return *current, nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", current.RefreshToken)

	next, err := m.requestToken(ctx, form)
	if errors.Is(err, ErrTooManyCredentials) {
		observability.RecordTokenRefresh(string(m.cfg.Provider), "conflict")
		return credential.Credential{}, m.recoverConflict(ctx, athleteID, current)
	}
	if err != nil {
		observability.RecordTokenRefresh(string(m.cfg.Provider), "failure")
		m.logger.Warn("token refresh failed", "athlete_id", athleteID, "error", err)
		return credential.Credential{}, err
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if err := m.store.Save(ctx, athleteID, next); err != nil {
		return credential.Credential{}, err
	}
	observability.RecordTokenRefresh(string(m.cfg.Provider), "success")
	m.logger.Debug("token refreshed", "athlete_id", athleteID, "expires_at", next.ExpiresAt)
	return next, nil
}

func (m *Manager) Exchange(ctx context.Context, athleteID, code string) (*credential.Credential, error) {
	if code == "" {
		return nil, errors.New("authorization code required")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if m.cfg.RedirectURL != "" {
		form.Set("redirect_uri", m.cfg.RedirectURL)
	}

	cred, err := m.requestToken(ctx, form)
	if errors.Is(err, ErrTooManyCredentials) {
		held, loadErr := m.store.Load(ctx, athleteID, m.cfg.Provider)
		if loadErr != nil {
			m.logger.Warn("load held credential", "athlete_id", athleteID, "error", loadErr)
		}
		return nil, m.recoverConflict(ctx, athleteID, held)
	}
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, athleteID, cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// AuthorizationURL revokes whatever token is currently held, refreshing once first when
// only the refresh token is usable, and returns the provider consent URL.
func (m *Manager) AuthorizationURL(ctx context.Context, athleteID, returnTo string) (string, error) {
	if err := m.Revoke(ctx, athleteID); err != nil {
		m.logger.Warn("revoke before authorization", "athlete_id", athleteID, "error", err)
	}

	state, err := m.state.Sign(athleteID, m.cfg.Provider, returnTo)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", m.cfg.ClientID)
	q.Set("redirect_uri", m.cfg.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", m.cfg.Scope)
	q.Set("state", state)
	for k, v := range m.cfg.AuthParams {
		q.Set(k, v)
	}
	return m.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

func (m *Manager) Revoke(ctx context.Context, athleteID string) error {
	cred, err := m.store.Load(ctx, athleteID, m.cfg.Provider)
	if err != nil {
		return err
	}
	if cred == nil {
		return nil
	}

	token := ""
	switch {
	case cred.Valid(m.now()):
		token = cred.AccessToken
	case cred.CanRefresh():
		fresh, err := m.sharedRefresh(ctx, athleteID)
		if err != nil {
			m.logger.Info("refresh before revoke failed", "athlete_id", athleteID, "error", err)
		} else {
			token = fresh.AccessToken
		}
	}

	var revokeErr error
	if token != "" {
		revokeErr = m.revokeToken(ctx, token)
	}
	if err := m.store.Delete(ctx, athleteID, m.cfg.Provider); err != nil {
		return err
	}
	return revokeErr
}

func (m *Manager) recoverConflict(ctx context.Context, athleteID string, held *credential.Credential) error {
	if held != nil && held.AccessToken != "" {
		if err := m.revokeToken(ctx, held.AccessToken); err != nil {
			m.logger.Warn("revoke after credential conflict", "athlete_id", athleteID, "error", err)
		}
	}
	if err := m.store.Delete(ctx, athleteID, m.cfg.Provider); err != nil {
		m.logger.Warn("delete credential after conflict", "athlete_id", athleteID, "error", err)
	}
	return ErrTooManyCredentials
}

func (m *Manager) requestToken(ctx context.Context, form url.Values) (credential.Credential, error) {
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return credential.Credential{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBody))
	if err != nil {
		return credential.Credential{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		cred, err := m.cfg.ParseToken(body)
		if err != nil {
			return credential.Credential{}, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return cred, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return credential.Credential{}, fmt.Errorf("%w: token endpoint returned %d", ErrTransient, resp.StatusCode)
	case isTooManyCredentials(resp.StatusCode, body):
		return credential.Credential{}, ErrTooManyCredentials
	default:
		return credential.Credential{}, fmt.Errorf("%w: token endpoint returned %d", ErrAuthExpired, resp.StatusCode)
	}
}

func (m *Manager) revokeToken(ctx context.Context, accessToken string) error {
	var body io.Reader
	if m.cfg.RevokeStyle == RevokeForm {
		form := url.Values{}
		form.Set("access_token", accessToken)
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, m.cfg.RevokeMethod, m.cfg.RevokeURL, body)
	if err != nil {
		return err
	}
	if m.cfg.RevokeStyle == RevokeForm {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// An already-revoked token is not worth surfacing.
	if resp.StatusCode == http.StatusUnauthorized || (resp.StatusCode >= 200 && resp.StatusCode <= 299) {
		return nil
	}
	return fmt.Errorf("revoke returned %d", resp.StatusCode)
}

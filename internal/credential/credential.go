package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend-ridecal/internal/kvstore"
)

type Provider string

const (
	ProviderStrava Provider = "strava"
	ProviderWahoo  Provider = "wahoo"
)

// ExpiryMargin is subtracted from the provider's expiry when a credential is built, so
// a token is treated as expired shortly before the provider would reject it.
const ExpiryMargin = 300 * time.Second

func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderStrava, ProviderWahoo:
		return Provider(s), nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Credential is replaced wholesale on every refresh and never patched in place.
type Credential struct {
	Provider     Provider `json:"provider"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	// ExpiresAt is absolute epoch seconds with ExpiryMargin already applied.
	ExpiresAt int64 `json:"expires_at"`
}

func New(p Provider, access, refresh string, providerExpiry int64) Credential {
	return Credential{
		Provider:     p,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    providerExpiry - int64(ExpiryMargin/time.Second),
	}
}

func (c Credential) Valid(now time.Time) bool {
	return c.AccessToken != "" && c.ExpiresAt > now.Unix()
}

func (c Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}

type Store struct {
	kv kvstore.Store
}

func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

func key(athleteID string, p Provider) string {
	return "credential:" + athleteID + ":" + string(p)
}

// Load returns nil without error when nothing is stored.
func (s *Store) Load(ctx context.Context, athleteID string, p Provider) (*Credential, error) {
	raw, err := s.kv.Get(ctx, key(athleteID, p))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c Credential
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode %s credential: %w", p, err)
	}
	return &c, nil
}

func (s *Store) Save(ctx context.Context, athleteID string, c Credential) error {
	if c.Provider == "" {
		return errors.New("credential provider required")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, key(athleteID, c.Provider), string(raw))
}

func (s *Store) Delete(ctx context.Context, athleteID string, p Provider) error {
	return s.kv.Remove(ctx, key(athleteID, p))
}

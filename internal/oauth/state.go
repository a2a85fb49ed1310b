package oauth

import (
	"errors"
	"time"

	"backend-ridecal/internal/credential"

	"github.com/golang-jwt/jwt/v5"
)

const stateTTL = 10 * time.Minute

// StateClaims travel through the provider's consent screen in the state parameter.
type StateClaims struct {
	AthleteID string `json:"athlete_id"`
	Provider  string `json:"provider"`
	ReturnTo  string `json:"return_to"`
	jwt.RegisteredClaims
}

type StateSigner struct {
	secret []byte
	now    func() time.Time
}

func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret), now: time.Now}
}

func (s *StateSigner) Sign(athleteID string, p credential.Provider, returnTo string) (string, error) {
	now := s.now()
	claims := StateClaims{
		AthleteID: athleteID,
		Provider:  string(p),
		ReturnTo:  returnTo,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *StateSigner) Verify(token string, p credential.Provider) (StateClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &StateClaims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return StateClaims{}, err
	}
	claims, ok := parsed.Claims.(*StateClaims)
	if !ok || !parsed.Valid {
		return StateClaims{}, errors.New("state invalid")
	}
	if claims.Provider != string(p) {
		return StateClaims{}, errors.New("state issued for another provider")
	}
	return *claims, nil
}

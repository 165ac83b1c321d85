package utils // package utils provides token signing and password hashing helpers

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails signature, algorithm
// or expiry checks.
var ErrInvalidToken = errors.New("invalid token")

// Token is a signed JWT along with its expiry.
type Token struct {
	Value string
	Exp   time.Time
}

// AccessClaims is the payload of an access token. It is self-describing so
// the auth gate only needs the store to confirm the account still exists.
type AccessClaims struct {
	AccountID string `json:"_id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	FullName  string `json:"fullname"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. The jti makes every
// issued token distinct even when two are signed within the same second.
type RefreshClaims struct {
	AccountID string `json:"_id"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 access and refresh tokens. Access and
// refresh tokens use different secrets so one can never stand in for the other.
type Signer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewSigner builds a Signer from secrets and lifetimes.
func NewSigner(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Signer {
	return &Signer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// IssueAccess signs an access token for the given account fields.
func (s *Signer) IssueAccess(accountID, email, username, fullName string) (Token, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := AccessClaims{
		AccountID: accountID,
		Email:     email,
		Username:  username,
		FullName:  fullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, Exp: exp}, nil
}

// IssueRefresh signs a refresh token carrying only the account id.
func (s *Signer) IssueRefresh(accountID string) (Token, error) {
	now := s.now()
	exp := now.Add(s.refreshTTL)
	claims := RefreshClaims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, Exp: exp}, nil
}

// ParseAccess verifies an access token and returns its claims.
func (s *Signer) ParseAccess(raw string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := s.parse(raw, &claims, s.accessSecret); err != nil {
		return nil, err
	}
	if claims.AccountID == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// ParseRefresh verifies a refresh token and returns its claims.
func (s *Signer) ParseRefresh(raw string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := s.parse(raw, &claims, s.refreshSecret); err != nil {
		return nil, err
	}
	if claims.AccountID == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func (s *Signer) parse(raw string, claims jwt.Claims, secret []byte) error {
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return errors.Join(ErrInvalidToken, err)
	}
	if !tok.Valid {
		return ErrInvalidToken
	}
	return nil
}

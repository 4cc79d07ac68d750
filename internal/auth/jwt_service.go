package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails verification: bad
// signature, expired, not yet valid, wrong algorithm or malformed payload.
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the subset of a user that tokens are bound to.
type Identity struct {
	ID       uuid.UUID
	Email    string
	Username string
}

// AccessClaims are carried by access tokens.
type AccessClaims struct {
	UID      string `json:"_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// RefreshClaims are carried by refresh tokens.
type RefreshClaims struct {
	UID string `json:"_id"`
	jwt.RegisteredClaims
}

// UserID parses the subject id of the access token.
func (c *AccessClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.UID)
}

// UserID parses the subject id of the refresh token.
func (c *RefreshClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.UID)
}

// TokenPair is an access token together with its refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// JWTService issues and verifies HS256 tokens. Access and refresh tokens use
// separate secrets so one can never be accepted as the other.
type JWTService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewJWTService creates a new JWT service.
func NewJWTService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *JWTService {
	return &JWTService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// AccessTTL returns the access token lifetime.
func (s *JWTService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (s *JWTService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken generates a new access token for the identity.
func (s *JWTService) IssueAccessToken(id Identity) (string, error) {
	claims := &AccessClaims{
		UID:              id.ID.String(),
		Email:            id.Email,
		Username:         id.Username,
		RegisteredClaims: s.registered(s.accessTTL),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
}

// IssueRefreshToken generates a new refresh token for the identity. Only the
// id is encoded.
func (s *JWTService) IssueRefreshToken(id Identity) (string, error) {
	claims := &RefreshClaims{
		UID:              id.ID.String(),
		RegisteredClaims: s.registered(s.refreshTTL),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
}

// IssuePair issues both tokens for the identity.
func (s *JWTService) IssuePair(id Identity) (TokenPair, error) {
	access, err := s.IssueAccessToken(id)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(id)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess validates an access token and returns its claims.
func (s *JWTService) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parse(tokenString, claims, s.accessSecret); err != nil {
		return nil, err
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token and returns its claims.
func (s *JWTService) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.parse(tokenString, claims, s.refreshSecret); err != nil {
		return nil, err
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *JWTService) parse(tokenString string, claims jwt.Claims, secret []byte) error {
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func (s *JWTService) registered(ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}
}

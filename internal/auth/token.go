// Package auth reads the backend session token and issues the short-lived
// tokens local UIs present to the bridge server.
package auth

import (
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// BridgeIssuer is the iss claim of bridge tokens.
const BridgeIssuer = "devchat-bridge"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNoSecret     = errors.New("bridge secret is empty")
)

// SessionClaims are the claims the backend puts in its session cookie.
type SessionClaims struct {
	UserID string `json:"_id"`
	jwt.RegisteredClaims
}

// DecodeSession reads the backend session token. The signature is not checked:
// the backend holds the key and verifies it on every request.
func DecodeSession(token string, now time.Time) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.Wrap(ErrInvalidToken, "empty session token")
	}

	claims := &SessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.UserID == "" {
		return nil, errors.Wrap(ErrInvalidToken, "session token has no user id")
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return claims, errors.Wrapf(ErrTokenExpired, "session expired at %s", claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return claims, nil
}

// BridgeClaims identify the local user a bridge connection acts for.
type BridgeClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 bridge tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. ttl <= 0 means one hour.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for userID and its expiry.
func (i *Issuer) Issue(userID string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := BridgeClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    BridgeIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign bridge token")
	}
	return signed, exp, nil
}

// Verify checks a bridge token and returns the user id it was issued for.
func (i *Issuer) Verify(token string) (string, error) {
	claims := &BridgeClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(BridgeIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.Wrap(ErrTokenExpired, err.Error())
		}
		return "", errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.UserID == "" {
		return "", errors.Wrap(ErrInvalidToken, "bridge token has no user id")
	}
	return claims.UserID, nil
}

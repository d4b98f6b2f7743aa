// Package auth issues and verifies the signed access/refresh token pair.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Issuer   = "taskshare-api"
	Audience = "taskshare-client"

	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Claims carries the token payload. TokenType distinguishes the short-lived
// access credential from the long-lived refresh credential; a token of one
// type must never be accepted in the other's place.
type Claims struct {
	Email     string `json:"email"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// IssueAccessToken mints a short-lived access token. The jti identifies the
// token for revocation on logout.
func IssueAccessToken(secret []byte, userID, email, jti string, ttl time.Duration) (string, error) {
	return issue(secret, userID, email, TypeAccess, jti, ttl)
}

// IssueRefreshToken mints a long-lived refresh token. Refresh tokens are
// identified by their stored value, not a jti.
func IssueRefreshToken(secret []byte, userID, email string, ttl time.Duration) (string, error) {
	return issue(secret, userID, email, TypeRefresh, "", ttl)
}

func issue(secret []byte, userID, email, tokenType, jti string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:     email,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies signature, expiry, issuer, and audience. A token that
// verifies under the signature but carries the wrong issuer or audience is
// rejected the same as a forged one.
func ParseToken(secret []byte, token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithIssuer(Issuer), jwt.WithAudience(Audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" || claims.TokenType == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

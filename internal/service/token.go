package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenMalformed = errors.New("token is malformed")

// TokenInfo is what can be read from an access token without verifying it.
// The signature is the server's business; this is for diagnostics only.
type TokenInfo struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (i TokenInfo) ExpiredAt(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

func InspectToken(token string) (TokenInfo, error) {
	if token == "" {
		return TokenInfo{}, ErrTokenMalformed
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}

	info := TokenInfo{Subject: claims.Subject}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

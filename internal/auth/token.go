// Package auth inspects the bearer tokens carried on session connections.
//
// The client never validates signatures; the server is the authority. The
// inspection here only surfaces claims useful before dialing, such as an
// already-expired token, so a doomed connection attempt can be avoided.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/bykotofff/dnd-game-sub001/internal/platform/errors"
)

// TokenInfo describes the claims extracted from a session token.
type TokenInfo struct {
	UserID    string
	ExpiresAt time.Time // zero when the token carries no expiry
}

// Expired reports whether the token expiry has passed at the given instant.
// Tokens without an expiry claim never report expired.
func (t TokenInfo) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt)
}

// Inspect parses token claims without verifying the signature.
func Inspect(token string) (TokenInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenInfo{}, apperrors.New(apperrors.CodeAuthMissing, "session token is required")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, apperrors.Wrap(apperrors.CodeAuthMissing, "parse session token", err)
	}

	info := TokenInfo{}
	if sub, err := claims.GetSubject(); err == nil {
		info.UserID = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}

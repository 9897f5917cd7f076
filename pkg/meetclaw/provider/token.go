package provider

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClockSkew backdates iat so freshly minted tokens are not rejected
// by a provider whose clock runs slightly behind.
const tokenClockSkew = 60 * time.Second

// ServerToken signs the server-side credential used on every REST call.
func ServerToken(secret string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"server": true})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign server token: %w", err)
	}
	return signed, nil
}

// UserToken signs a participant token valid for ttl from now.
func UserToken(secret, userID string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("user token: empty user id")
	}
	exp := now.Add(ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"iat":     now.Add(-tokenClockSkew).Unix(),
		"exp":     exp.Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign user token: %w", err)
	}
	return signed, exp, nil
}

// ParseUserToken validates a participant token and returns its user id.
func ParseUserToken(secret, token string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("parse user token: %w", err)
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return "", fmt.Errorf("parse user token: missing user_id")
	}
	return userID, nil
}

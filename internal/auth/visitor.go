package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const visitorIssuer = "repochat"

var ErrInvalidToken = errors.New("invalid visitor token")

type VisitorClaims struct {
	jwt.RegisteredClaims
}

// SignVisitorToken issues an HS256 token whose subject is the visitor id.
func SignVisitorToken(secret, visitorID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := VisitorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   visitorID,
			Issuer:    visitorIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseVisitorToken validates a token and returns the visitor id it names.
func ParseVisitorToken(secret, token string) (string, error) {
	var claims VisitorClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(visitorIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Package identity verifies caller identity tokens minted by the platform's
// session service. Token issuance and account CRUD live outside the
// messaging core; this package only extracts a trusted (user, device) pair.
package identity

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid identity token")

type Claims struct {
	UserID   int64  `json:"uid"`
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyToken parses and validates an HS256 session token, returning the
// caller's user id and device id.
func (v *Verifier) VerifyToken(tokenString string) (int64, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, "", ErrInvalidToken
	}
	if claims.UserID <= 0 {
		return 0, "", ErrInvalidToken
	}
	return claims.UserID, claims.DeviceID, nil
}

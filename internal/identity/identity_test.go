package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, secret string, userID int64, deviceID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   userID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	ss, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return ss
}

func TestVerifyToken(t *testing.T) {
	v := NewVerifier("test-secret")

	userID, deviceID, err := v.VerifyToken(mintToken(t, "test-secret", 42, "phone-1"))
	require.NoError(t, err)
	require.Equal(t, int64(42), userID)
	require.Equal(t, "phone-1", deviceID)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	v := NewVerifier("test-secret")

	_, _, err := v.VerifyToken(mintToken(t, "other-secret", 42, "phone-1"))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsZeroUser(t *testing.T) {
	v := NewVerifier("test-secret")

	_, _, err := v.VerifyToken(mintToken(t, "test-secret", 0, "phone-1"))
	require.ErrorIs(t, err, ErrInvalidToken)
}

package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := New("secret", time.Hour)
	token, err := svc.GenerateToken(7, "tech", []int64{1, 3})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "tech", claims.Role)
	assert.Equal(t, []int64{1, 3}, claims.DepotIDs)
}

func TestTokenRejected(t *testing.T) {
	token, err := New("secret", time.Hour).GenerateToken(7, "admin", nil)
	require.NoError(t, err)

	_, err = New("other-secret", time.Hour).ValidateToken(token)
	assert.Error(t, err)

	expired, err := New("secret", -time.Minute).GenerateToken(7, "admin", nil)
	require.NoError(t, err)
	_, err = New("secret", time.Hour).ValidateToken(expired)
	assert.Error(t, err)
}

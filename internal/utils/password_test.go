package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerify(t *testing.T) {
	h, err := HashPassword("correct horse 1", bcrypt.MinCost)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(h, "$2a$"))
	require.True(t, VerifyPassword(h, "correct horse 1"))
	require.False(t, VerifyPassword(h, "correct horse 2"))
}

func TestHashPassword_InvalidCostFallsBack(t *testing.T) {
	h, err := HashPassword("pw", 99)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(h))
	require.NoError(t, err)
	require.Equal(t, bcrypt.DefaultCost, cost)
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	require.False(t, VerifyPassword("not-a-hash", "pw"))
	require.False(t, VerifyPassword("", ""))
}

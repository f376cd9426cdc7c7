package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashAPIKey(t *testing.T) {
	// Deterministic: the stored digest and a later lookup must agree.
	assert.Equal(t, HashAPIKey("device-key"), HashAPIKey("device-key"))
	assert.NotEqual(t, HashAPIKey("device-key"), HashAPIKey("other-key"))

	// Hex SHA-256 digest, 64 characters.
	assert.Len(t, HashAPIKey("device-key"), 64)
}
